// File path: internal/store/events.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/devtrail/devtrail/internal/model"
)

const eventUpsert = `INSERT INTO events (id, timestamp, type, workspace_path, data)
        VALUES (:id, :timestamp, :type, :workspace_path, :data)
        ON CONFLICT(id) DO UPDATE SET
                timestamp = excluded.timestamp,
                type = excluded.type,
                workspace_path = excluded.workspace_path,
                data = excluded.data`

// SaveEvent upserts a generic activity event by id. Idempotent.
func (s *Store) SaveEvent(ctx context.Context, event model.Event) error {
	event.Normalize()
	if event.ID == "" {
		return fmt.Errorf("event id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, eventUpsert, eventToRow(event)); err != nil {
			return fmt.Errorf("save event %s: %w", event.ID, err)
		}
		return nil
	})
}

// EventByID retrieves a single event.
func (s *Store) EventByID(ctx context.Context, id string) (model.Event, error) {
	if err := s.readOnly(); err != nil {
		return model.Event{}, err
	}
	var row eventRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("select event: %w", err)
	}
	return rowToEvent(row), nil
}

// EventExists reports whether an event with the given id is stored.
func (s *Store) EventExists(ctx context.Context, id string) (bool, error) {
	return s.recordExists(ctx, "events", id)
}

// EventsInRange returns events inside the inclusive window ordered by
// descending timestamp.
func (s *Store) EventsInRange(ctx context.Context, since, until int64, limit int) ([]model.Event, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC`
	args := []interface{}{since, until}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []eventRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, rowToEvent(row))
	}
	return events, nil
}

type eventRow struct {
	ID            string `db:"id"`
	Timestamp     int64  `db:"timestamp"`
	Type          string `db:"type"`
	WorkspacePath string `db:"workspace_path"`
	Data          string `db:"data"`
}

func eventToRow(e model.Event) eventRow {
	data := "{}"
	if len(e.Data) > 0 {
		if encoded, err := json.Marshal(e.Data); err == nil {
			data = string(encoded)
		}
	}
	return eventRow{ID: e.ID, Timestamp: e.Timestamp, Type: e.Type, WorkspacePath: e.WorkspacePath, Data: data}
}

func rowToEvent(r eventRow) model.Event {
	event := model.Event{ID: r.ID, Timestamp: r.Timestamp, Type: r.Type, WorkspacePath: r.WorkspacePath}
	if r.Data != "" && r.Data != "{}" {
		_ = json.Unmarshal([]byte(r.Data), &event.Data)
	}
	return event
}
