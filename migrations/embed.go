// Package migrations embeds the conductor's SQL schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/conductor/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.Register(migrationsFS, ".")
}
