// File path: internal/store/prompts.go
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

const promptUpsert = `INSERT INTO prompts (
                id, timestamp, workspace_path, workspace_id, conversation_id, message_role, text,
                context_file_count, context_usage, context_files, model_type, model_name, mode,
                is_auto, thinking_time_seconds, linked_entry_id, turn_index, prompt_tokens,
                completion_tokens, total_tokens, time_to_first_token_ms, request_duration_ms
        ) VALUES (
                :id, :timestamp, :workspace_path, :workspace_id, :conversation_id, :message_role, :text,
                :context_file_count, :context_usage, :context_files, :model_type, :model_name, :mode,
                :is_auto, :thinking_time_seconds, :linked_entry_id, :turn_index, :prompt_tokens,
                :completion_tokens, :total_tokens, :time_to_first_token_ms, :request_duration_ms
        ) ON CONFLICT(id) DO UPDATE SET
                timestamp = excluded.timestamp,
                workspace_path = excluded.workspace_path,
                workspace_id = excluded.workspace_id,
                conversation_id = excluded.conversation_id,
                message_role = excluded.message_role,
                text = excluded.text,
                context_file_count = excluded.context_file_count,
                context_usage = excluded.context_usage,
                context_files = excluded.context_files,
                model_type = excluded.model_type,
                model_name = excluded.model_name,
                mode = excluded.mode,
                is_auto = excluded.is_auto,
                thinking_time_seconds = excluded.thinking_time_seconds,
                linked_entry_id = excluded.linked_entry_id,
                turn_index = excluded.turn_index,
                prompt_tokens = excluded.prompt_tokens,
                completion_tokens = excluded.completion_tokens,
                total_tokens = excluded.total_tokens,
                time_to_first_token_ms = excluded.time_to_first_token_ms,
                request_duration_ms = excluded.request_duration_ms`

// SavePrompt upserts a prompt record by id. Idempotent.
func (s *Store) SavePrompt(ctx context.Context, prompt model.Prompt) error {
	prompt.Normalize()
	if prompt.ID == "" {
		return fmt.Errorf("prompt id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, promptUpsert, promptToRow(prompt)); err != nil {
			return fmt.Errorf("save prompt %s: %w", prompt.ID, err)
		}
		return nil
	})
}

// SaveTurn upserts a conversation turn. Turns share the prompts table with
// their extra columns populated.
func (s *Store) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	turn.Normalize()
	if turn.ID == "" {
		return fmt.Errorf("turn id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, promptUpsert, turnToRow(turn)); err != nil {
			return fmt.Errorf("save turn %s: %w", turn.ID, err)
		}
		return nil
	})
}

// PromptByID retrieves a single prompt.
func (s *Store) PromptByID(ctx context.Context, id string) (model.Prompt, error) {
	if err := s.readOnly(); err != nil {
		return model.Prompt{}, err
	}
	var row promptRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM prompts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prompt{}, fmt.Errorf("prompt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Prompt{}, fmt.Errorf("select prompt: %w", err)
	}
	return rowToPrompt(row), nil
}

// PromptExists reports whether a prompt with the given id is already stored.
func (s *Store) PromptExists(ctx context.Context, id string) (bool, error) {
	return s.recordExists(ctx, "prompts", id)
}

// RecentPrompts returns the most recent prompts, descending by timestamp.
func (s *Store) RecentPrompts(ctx context.Context, limit int) ([]model.Prompt, error) {
	return s.PromptsInRange(ctx, 0, maxTimestamp, limit)
}

const maxTimestamp = int64(1) << 62

// PromptsInRange returns prompts inside the inclusive window, descending by
// timestamp.
func (s *Store) PromptsInRange(ctx context.Context, since, until int64, limit int) ([]model.Prompt, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM prompts WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC`
	args := []interface{}{since, until}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []promptRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select prompts: %w", err)
	}
	prompts := make([]model.Prompt, 0, len(rows))
	for _, row := range rows {
		prompts = append(prompts, rowToPrompt(row))
	}
	return prompts, nil
}

// ConversationTurns returns all turns of one conversation ordered by turn
// index.
func (s *Store) ConversationTurns(ctx context.Context, conversationID string) ([]model.ConversationTurn, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	rows := []promptRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM prompts WHERE conversation_id = ? ORDER BY turn_index ASC, timestamp ASC`, conversationID); err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	turns := make([]model.ConversationTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, rowToTurn(row))
	}
	return turns, nil
}

// UpdatePromptLink fills the entry reference on a prompt. A prompt that
// already carries a link keeps it.
func (s *Store) UpdatePromptLink(ctx context.Context, promptID, entryID string) error {
	if strings.TrimSpace(promptID) == "" || strings.TrimSpace(entryID) == "" {
		return fmt.Errorf("prompt and entry ids required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE prompts SET linked_entry_id = ? WHERE id = ? AND linked_entry_id = ''`, entryID, promptID); err != nil {
			return fmt.Errorf("update prompt link: %w", err)
		}
		return nil
	})
}

// UpdateConversationMetadata upserts conversation-level metadata. The title
// is only overwritten when newly provided.
func (s *Store) UpdateConversationMetadata(ctx context.Context, conversationID, workspaceID, workspacePath, title string, timestamp int64) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("conversation id required")
	}
	workspacePath = model.NormalizeWorkspace(workspacePath)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO conversations(conversation_id, workspace_id, workspace_path, title, created_at, updated_at)
                        VALUES(?, ?, ?, ?, ?, ?)
                        ON CONFLICT(conversation_id) DO UPDATE SET
                                workspace_id = CASE WHEN excluded.workspace_id != '' THEN excluded.workspace_id ELSE conversations.workspace_id END,
                                workspace_path = CASE WHEN excluded.workspace_path != '' THEN excluded.workspace_path ELSE conversations.workspace_path END,
                                title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
                                updated_at = excluded.updated_at`,
			conversationID, workspaceID, workspacePath, strings.TrimSpace(title), timestamp, timestamp)
		if err != nil {
			return fmt.Errorf("update conversation metadata: %w", err)
		}
		return nil
	})
}

// ConversationMetadata retrieves the stored metadata for one conversation.
func (s *Store) ConversationMetadata(ctx context.Context, conversationID string) (map[string]interface{}, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM conversations WHERE conversation_id = ?`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	return map[string]interface{}{
		"conversation_id": row.ConversationID,
		"workspace_id":    row.WorkspaceID,
		"workspace_path":  row.WorkspacePath,
		"title":           row.Title,
		"created_at":      row.CreatedAt,
		"updated_at":      row.UpdatedAt,
	}, nil
}
