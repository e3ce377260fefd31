// File path: internal/store/terminal.go
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

const terminalUpsert = `INSERT INTO terminal_commands (
                id, timestamp, workspace_path, command, shell, source, exit_code, duration_ms,
                output, error, linked_entry_id, linked_prompt_id
        ) VALUES (
                :id, :timestamp, :workspace_path, :command, :shell, :source, :exit_code, :duration_ms,
                :output, :error, :linked_entry_id, :linked_prompt_id
        ) ON CONFLICT(id) DO UPDATE SET
                timestamp = excluded.timestamp,
                workspace_path = excluded.workspace_path,
                command = excluded.command,
                shell = excluded.shell,
                source = excluded.source,
                exit_code = excluded.exit_code,
                duration_ms = excluded.duration_ms,
                output = excluded.output,
                error = excluded.error,
                linked_entry_id = excluded.linked_entry_id,
                linked_prompt_id = excluded.linked_prompt_id`

// SaveTerminal upserts a terminal-command record by id. Idempotent.
func (s *Store) SaveTerminal(ctx context.Context, cmd model.TerminalCommand) error {
	cmd.Normalize()
	if cmd.ID == "" {
		return fmt.Errorf("terminal command id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, terminalUpsert, terminalToRow(cmd)); err != nil {
			return fmt.Errorf("save terminal command %s: %w", cmd.ID, err)
		}
		return nil
	})
}

// TerminalByID retrieves a single terminal command.
func (s *Store) TerminalByID(ctx context.Context, id string) (model.TerminalCommand, error) {
	if err := s.readOnly(); err != nil {
		return model.TerminalCommand{}, err
	}
	var row terminalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM terminal_commands WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TerminalCommand{}, fmt.Errorf("terminal command %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.TerminalCommand{}, fmt.Errorf("select terminal command: %w", err)
	}
	return rowToTerminal(row), nil
}

// TerminalExists reports whether a command with the given id is stored.
func (s *Store) TerminalExists(ctx context.Context, id string) (bool, error) {
	return s.recordExists(ctx, "terminal_commands", id)
}

// AllTerminalCommands returns commands descending by timestamp.
func (s *Store) AllTerminalCommands(ctx context.Context, limit int) ([]model.TerminalCommand, error) {
	return s.TerminalInRange(ctx, 0, maxTimestamp, limit)
}

// TerminalInRange returns commands in the inclusive window, descending by
// timestamp.
func (s *Store) TerminalInRange(ctx context.Context, since, until int64, limit int) ([]model.TerminalCommand, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM terminal_commands WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC`
	args := []interface{}{since, until}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []terminalRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select terminal commands: %w", err)
	}
	commands := make([]model.TerminalCommand, 0, len(rows))
	for _, row := range rows {
		commands = append(commands, rowToTerminal(row))
	}
	return commands, nil
}

// UpdateTerminalLinks fills the nearest prompt/entry references on a command.
func (s *Store) UpdateTerminalLinks(ctx context.Context, commandID, promptID, entryID string) error {
	if strings.TrimSpace(commandID) == "" {
		return fmt.Errorf("command id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if promptID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE terminal_commands SET linked_prompt_id = ? WHERE id = ? AND linked_prompt_id = ''`, promptID, commandID); err != nil {
				return fmt.Errorf("update terminal prompt link: %w", err)
			}
		}
		if entryID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE terminal_commands SET linked_entry_id = ? WHERE id = ? AND linked_entry_id = ''`, entryID, commandID); err != nil {
				return fmt.Errorf("update terminal entry link: %w", err)
			}
		}
		return nil
	})
}
