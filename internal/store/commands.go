package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultCommandLimit caps command log queries without an explicit limit.
const DefaultCommandLimit = 100

// CommandLogEntry is one executed device command.
type CommandLogEntry struct {
	ID            string          `json:"id"`
	DeviceID      string          `json:"device_id"`
	CommandID     string          `json:"command_id"`
	Context       string          `json:"context,omitempty"`
	TimelineObjID string          `json:"timeline_obj_id,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	QueueID       string          `json:"queue_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ExecutedAt    int64           `json:"executed_at"`
	DurationMs    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}

// Failed reports whether the command returned an error.
func (e CommandLogEntry) Failed() bool {
	return e.Error != ""
}

// CommandFilter narrows a command log query.
type CommandFilter struct {
	DeviceID   string
	FailedOnly bool

	// Since excludes entries executed before this Unix millisecond time.
	Since int64
	Limit int
}

// RecordCommand appends an entry to the command log. An empty ID is
// replaced with a new UUID.
func (s *Store) RecordCommand(ctx context.Context, entry *CommandLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var payload sql.NullString
	if len(entry.Payload) > 0 {
		payload = sql.NullString{String: string(entry.Payload), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_log (
			id, device_id, command_id, context, timeline_obj_id, mode, queue_id,
			payload, executed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DeviceID,
		entry.CommandID,
		entry.Context,
		entry.TimelineObjID,
		entry.Mode,
		entry.QueueID,
		payload,
		entry.ExecutedAt,
		entry.DurationMs,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	return nil
}

// Commands returns log entries newest first.
func (s *Store) Commands(ctx context.Context, filter CommandFilter) ([]CommandLogEntry, error) {
	query := `
		SELECT id, device_id, command_id, context, timeline_obj_id, mode, queue_id,
			payload, executed_at, duration_ms, error
		FROM command_log WHERE executed_at >= ?`
	args := []any{filter.Since}

	if filter.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	if filter.FailedOnly {
		query += ` AND error != ''`
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultCommandLimit
	}
	query += ` ORDER BY executed_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []CommandLogEntry{}
	for rows.Next() {
		var (
			e       CommandLogEntry
			payload sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.DeviceID, &e.CommandID, &e.Context, &e.TimelineObjID,
			&e.Mode, &e.QueueID, &payload, &e.ExecutedAt, &e.DurationMs, &e.Error,
		); err != nil {
			return nil, fmt.Errorf("scanning command log row: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// PruneCommands deletes entries executed before the given Unix millisecond
// time and returns how many were removed.
func (s *Store) PruneCommands(ctx context.Context, before int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM command_log WHERE executed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

// RunRetention prunes entries older than maxAge straight away and then
// every interval until ctx is done.
func (s *Store) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.pruneOlderThan(ctx, maxAge)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) pruneOlderThan(ctx context.Context, maxAge time.Duration) {
	before := s.now().Add(-maxAge).UnixMilli()
	n, err := s.PruneCommands(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("pruning command log failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("command log pruned", "removed", n, "before", before)
	}
}
