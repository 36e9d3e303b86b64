// Package database provides SQLite connectivity for the conductor host.
//
// It owns the connection lifecycle and an ordered migration runner. The
// schema itself lives in the top-level migrations package, which registers
// its embedded files through Register at init time.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration runs in its own transaction.
package database
