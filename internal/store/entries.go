// File path: internal/store/entries.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/devtrail/devtrail/internal/model"
)

const entryUpsert = `INSERT INTO entries (
                id, timestamp, workspace_path, file_path, source, session_id, prompt_id, type,
                before_code, after_code, lines_added, lines_removed, chars_added, chars_removed,
                has_diff, tags, notes, model_info
        ) VALUES (
                :id, :timestamp, :workspace_path, :file_path, :source, :session_id, :prompt_id, :type,
                :before_code, :after_code, :lines_added, :lines_removed, :chars_added, :chars_removed,
                :has_diff, :tags, :notes, :model_info
        ) ON CONFLICT(id) DO UPDATE SET
                timestamp = excluded.timestamp,
                workspace_path = excluded.workspace_path,
                file_path = excluded.file_path,
                source = excluded.source,
                session_id = excluded.session_id,
                prompt_id = excluded.prompt_id,
                type = excluded.type,
                before_code = excluded.before_code,
                after_code = excluded.after_code,
                lines_added = excluded.lines_added,
                lines_removed = excluded.lines_removed,
                chars_added = excluded.chars_added,
                chars_removed = excluded.chars_removed,
                has_diff = excluded.has_diff,
                tags = excluded.tags,
                notes = excluded.notes,
                model_info = excluded.model_info`

// SaveEntry upserts a code-change record by id. Idempotent.
func (s *Store) SaveEntry(ctx context.Context, entry model.Entry) error {
	entry.Normalize()
	if entry.ID == "" {
		return fmt.Errorf("entry id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, entryUpsert, entryToRow(entry)); err != nil {
			return fmt.Errorf("save entry %s: %w", entry.ID, err)
		}
		return nil
	})
}

// EntryByID retrieves a single entry.
func (s *Store) EntryByID(ctx context.Context, id string) (model.Entry, error) {
	if err := s.readOnly(); err != nil {
		return model.Entry{}, err
	}
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Entry{}, fmt.Errorf("select entry: %w", err)
	}
	return rowToEntry(row), nil
}

// EntryExists reports whether an entry with the given id is already stored.
func (s *Store) EntryExists(ctx context.Context, id string) (bool, error) {
	return s.recordExists(ctx, "entries", id)
}

func (s *Store) recordExists(ctx context.Context, table, id string) (bool, error) {
	if err := s.readOnly(); err != nil {
		return false, err
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE id = ?`, table)
	if err := s.db.GetContext(ctx, &count, query, id); err != nil {
		return false, fmt.Errorf("check %s existence: %w", table, err)
	}
	return count > 0, nil
}

// EntriesInRange returns entries inside the inclusive window ordered by
// descending timestamp, optionally scoped to a workspace.
func (s *Store) EntriesInRange(ctx context.Context, since, until int64, workspace string, limit int) ([]model.Entry, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM entries WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{since, until}
	if normalized := model.NormalizeWorkspace(workspace); normalized != "" {
		query += ` AND workspace_path = ?`
		args = append(args, normalized)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []entryRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	return mapEntries(rows), nil
}

// EntriesWithCode returns recent entries that carry a non-empty code payload.
func (s *Store) EntriesWithCode(ctx context.Context, limit int) ([]model.Entry, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM entries WHERE before_code != '' OR after_code != '' ORDER BY timestamp DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []entryRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select entries with code: %w", err)
	}
	return mapEntries(rows), nil
}

// UnlinkedEntries returns entries without a prompt link whose timestamp lies
// inside [horizonStart, deadline]. Used by the reconciliation pass.
func (s *Store) UnlinkedEntries(ctx context.Context, horizonStart, deadline int64, limit int) ([]model.Entry, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM entries WHERE prompt_id = '' AND timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`
	args := []interface{}{horizonStart, deadline}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []entryRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select unlinked entries: %w", err)
	}
	return mapEntries(rows), nil
}

// UpdateEntryLink fills the prompt reference on an entry. An entry that
// already carries a prompt link is never rewritten.
func (s *Store) UpdateEntryLink(ctx context.Context, entryID, promptID string) error {
	if strings.TrimSpace(entryID) == "" || strings.TrimSpace(promptID) == "" {
		return fmt.Errorf("entry and prompt ids required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE entries SET prompt_id = ? WHERE id = ? AND prompt_id = ''`, promptID, entryID); err != nil {
			return fmt.Errorf("update entry link: %w", err)
		}
		return nil
	})
}

func mapEntries(rows []entryRow) []model.Entry {
	entries := make([]model.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, rowToEntry(row))
	}
	return entries
}
