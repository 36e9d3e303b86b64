package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/conductor/internal/timeline"
)

// Logger defines the logging interface for the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const objectColumns = `id, layer, priority, enable, content, disable_lookahead`

// Store implements timeline, mapping and command log persistence on SQLite.
type Store struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// New creates a store on an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Timeline returns the stored objects in their original order.
func (s *Store) Timeline(ctx context.Context) ([]timeline.Object, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM timeline_objects ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	objects := []timeline.Object{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating timeline: %w", err)
	}
	return objects, nil
}

// ReplaceTimeline swaps the stored timeline for objects in one transaction.
func (s *Store) ReplaceTimeline(ctx context.Context, objects []timeline.Object) error {
	if err := validateObjects(objects); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.replaceTimelineTx(ctx, tx, objects)
	})
}

func (s *Store) replaceTimelineTx(ctx context.Context, tx *sql.Tx, objects []timeline.Object) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_objects`); err != nil {
		return fmt.Errorf("clearing timeline: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO timeline_objects (
			id, position, layer, priority, enable, content, disable_lookahead, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	updated := s.now().UTC().Format(time.RFC3339)
	for i, obj := range objects {
		enableJSON, err := json.Marshal(obj.Enable)
		if err != nil {
			return fmt.Errorf("marshalling enable of %q: %w", obj.ID, err)
		}
		content, err := nullableJSON(obj.Content)
		if err != nil {
			return fmt.Errorf("marshalling content of %q: %w", obj.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			obj.ID,
			i,
			obj.Layer,
			obj.Priority,
			string(enableJSON),
			content,
			boolToInt(obj.DisableLookahead),
			updated,
		); err != nil {
			return fmt.Errorf("inserting object %q: %w", obj.ID, err)
		}
	}
	return nil
}

// Mappings returns the stored layer mappings.
func (s *Store) Mappings(ctx context.Context) (timeline.Mappings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT layer, device_type, device_id, options, lookahead, lookahead_depth
		FROM mappings ORDER BY layer`)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(timeline.Mappings)
	for rows.Next() {
		var (
			layer     string
			m         timeline.Mapping
			options   sql.NullString
			lookahead string
		)
		if err := rows.Scan(&layer, &m.DeviceType, &m.DeviceID, &options, &lookahead, &m.LookaheadDepth); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		m.Lookahead = timeline.LookaheadMode(lookahead)
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &m.Options); err != nil {
				return nil, fmt.Errorf("parsing options of layer %q: %w", layer, err)
			}
		}
		mappings[layer] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mappings: %w", err)
	}
	return mappings, nil
}

// ReplaceMappings swaps the stored mappings in one transaction.
func (s *Store) ReplaceMappings(ctx context.Context, mappings timeline.Mappings) error {
	if err := validateMappings(mappings); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.replaceMappingsTx(ctx, tx, mappings)
	})
}

func (s *Store) replaceMappingsTx(ctx context.Context, tx *sql.Tx, mappings timeline.Mappings) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mappings`); err != nil {
		return fmt.Errorf("clearing mappings: %w", err)
	}

	updated := s.now().UTC().Format(time.RFC3339)
	for layer, m := range mappings {
		options, err := nullableJSON(m.Options)
		if err != nil {
			return fmt.Errorf("marshalling options of layer %q: %w", layer, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mappings (
				layer, device_type, device_id, options, lookahead, lookahead_depth, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			layer, m.DeviceType, m.DeviceID, options, string(m.Lookahead), m.LookaheadDepth, updated,
		); err != nil {
			return fmt.Errorf("inserting mapping %q: %w", layer, err)
		}
	}
	return nil
}

// Replace swaps both the timeline and the mappings atomically.
func (s *Store) Replace(ctx context.Context, objects []timeline.Object, mappings timeline.Mappings) error {
	if err := validateMappings(mappings); err != nil {
		return err
	}
	if err := validateObjects(objects); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.replaceTimelineTx(ctx, tx, objects); err != nil {
			return err
		}
		return s.replaceMappingsTx(ctx, tx, mappings)
	})
}

// ApplyTriggerTimes rewrites "now" starts of the given objects into their
// bound literal times. Objects no longer stored, or no longer starting at
// "now", are left alone. It returns how many objects changed.
func (s *Store) ApplyTriggerTimes(ctx context.Context, triggers []timeline.TriggerTime) (int, error) {
	if len(triggers) == 0 {
		return 0, nil
	}

	changed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updated := s.now().UTC().Format(time.RFC3339)
		for _, trig := range triggers {
			var enableJSON string
			err := tx.QueryRowContext(ctx,
				`SELECT enable FROM timeline_objects WHERE id = ?`, trig.ID,
			).Scan(&enableJSON)
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Debug("trigger time for unknown object", "timeline_obj_id", trig.ID)
				continue
			}
			if err != nil {
				return fmt.Errorf("reading object %q: %w", trig.ID, err)
			}

			var enable []timeline.Enable
			if err := json.Unmarshal([]byte(enableJSON), &enable); err != nil {
				return fmt.Errorf("parsing enable of %q: %w", trig.ID, err)
			}
			rewritten := false
			for i := range enable {
				if enable[i].Start.IsNow() {
					enable[i].Start = timeline.Literal(trig.Time)
					rewritten = true
				}
			}
			if !rewritten {
				continue
			}

			out, err := json.Marshal(enable)
			if err != nil {
				return fmt.Errorf("marshalling enable of %q: %w", trig.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE timeline_objects SET enable = ?, updated_at = ? WHERE id = ?`,
				string(out), updated, trig.ID,
			); err != nil {
				return fmt.Errorf("updating object %q: %w", trig.ID, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func validateObjects(objects []timeline.Object) error {
	seen := make(map[string]bool, len(objects))
	for i := range objects {
		if err := objects[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidObject, err)
		}
		if seen[objects[i].ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateObject, objects[i].ID)
		}
		seen[objects[i].ID] = true
	}
	return nil
}

func validateMappings(mappings timeline.Mappings) error {
	for layer, m := range mappings {
		if layer == "" {
			return fmt.Errorf("%w: empty layer name", ErrInvalidMapping)
		}
		if m.DeviceID == "" {
			return fmt.Errorf("%w: layer %q has no device_id", ErrInvalidMapping, layer)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (timeline.Object, error) {
	var (
		obj        timeline.Object
		enableJSON string
		content    sql.NullString
		disable    int
	)
	if err := row.Scan(&obj.ID, &obj.Layer, &obj.Priority, &enableJSON, &content, &disable); err != nil {
		return obj, fmt.Errorf("scanning object: %w", err)
	}
	if err := json.Unmarshal([]byte(enableJSON), &obj.Enable); err != nil {
		return obj, fmt.Errorf("parsing enable of %q: %w", obj.ID, err)
	}
	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &obj.Content); err != nil {
			return obj, fmt.Errorf("parsing content of %q: %w", obj.ID, err)
		}
	}
	obj.DisableLookahead = disable != 0
	return obj, nil
}

func nullableJSON(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
