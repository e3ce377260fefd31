// File path: internal/store/rows.go
package store

import (
	"encoding/json"

	"github.com/devtrail/devtrail/internal/model"
)

type entryRow struct {
	ID            string `db:"id"`
	Timestamp     int64  `db:"timestamp"`
	WorkspacePath string `db:"workspace_path"`
	FilePath      string `db:"file_path"`
	Source        string `db:"source"`
	SessionID     string `db:"session_id"`
	PromptID      string `db:"prompt_id"`
	Type          string `db:"type"`
	BeforeCode    string `db:"before_code"`
	AfterCode     string `db:"after_code"`
	LinesAdded    int    `db:"lines_added"`
	LinesRemoved  int    `db:"lines_removed"`
	CharsAdded    int    `db:"chars_added"`
	CharsRemoved  int    `db:"chars_removed"`
	HasDiff       bool   `db:"has_diff"`
	Tags          string `db:"tags"`
	Notes         string `db:"notes"`
	ModelInfo     string `db:"model_info"`
}

type promptRow struct {
	ID                  string  `db:"id"`
	Timestamp           int64   `db:"timestamp"`
	WorkspacePath       string  `db:"workspace_path"`
	WorkspaceID         string  `db:"workspace_id"`
	ConversationID      string  `db:"conversation_id"`
	MessageRole         string  `db:"message_role"`
	Text                string  `db:"text"`
	ContextFileCount    int     `db:"context_file_count"`
	ContextUsage        float64 `db:"context_usage"`
	ContextFiles        string  `db:"context_files"`
	ModelType           string  `db:"model_type"`
	ModelName           string  `db:"model_name"`
	Mode                string  `db:"mode"`
	IsAuto              bool    `db:"is_auto"`
	ThinkingTimeSeconds float64 `db:"thinking_time_seconds"`
	LinkedEntryID       string  `db:"linked_entry_id"`
	TurnIndex           int     `db:"turn_index"`
	PromptTokens        int     `db:"prompt_tokens"`
	CompletionTokens    int     `db:"completion_tokens"`
	TotalTokens         int     `db:"total_tokens"`
	TimeToFirstTokenMS  int64   `db:"time_to_first_token_ms"`
	RequestDurationMS   int64   `db:"request_duration_ms"`
}

type terminalRow struct {
	ID             string `db:"id"`
	Timestamp      int64  `db:"timestamp"`
	WorkspacePath  string `db:"workspace_path"`
	Command        string `db:"command"`
	Shell          string `db:"shell"`
	Source         string `db:"source"`
	ExitCode       *int   `db:"exit_code"`
	DurationMS     int64  `db:"duration_ms"`
	Output         string `db:"output"`
	Error          string `db:"error"`
	LinkedEntryID  string `db:"linked_entry_id"`
	LinkedPromptID string `db:"linked_prompt_id"`
}

type snapshotRow struct {
	ID               string `db:"id"`
	Timestamp        int64  `db:"timestamp"`
	PromptID         string `db:"prompt_id"`
	CurrentFileCount int    `db:"current_file_count"`
	AddedFiles       string `db:"added_files"`
	RemovedFiles     string `db:"removed_files"`
	NetChange        int    `db:"net_change"`
}

type conversationRow struct {
	ConversationID string `db:"conversation_id"`
	WorkspaceID    string `db:"workspace_id"`
	WorkspacePath  string `db:"workspace_path"`
	Title          string `db:"title"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(value string) []string {
	if value == "" || value == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil
	}
	return out
}

func entryToRow(e model.Entry) entryRow {
	return entryRow{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		WorkspacePath: e.WorkspacePath,
		FilePath:      e.FilePath,
		Source:        string(e.Source),
		SessionID:     e.SessionID,
		PromptID:      e.PromptID,
		Type:          e.Type,
		BeforeCode:    e.BeforeCode,
		AfterCode:     e.AfterCode,
		LinesAdded:    e.DiffStats.LinesAdded,
		LinesRemoved:  e.DiffStats.LinesRemoved,
		CharsAdded:    e.DiffStats.CharsAdded,
		CharsRemoved:  e.DiffStats.CharsRemoved,
		HasDiff:       e.DiffStats.HasDiff,
		Tags:          encodeStrings(e.Tags),
		Notes:         e.Notes,
		ModelInfo:     e.ModelInfo,
	}
}

func rowToEntry(r entryRow) model.Entry {
	return model.Entry{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		WorkspacePath: r.WorkspacePath,
		FilePath:      r.FilePath,
		Source:        model.Source(r.Source),
		SessionID:     r.SessionID,
		PromptID:      r.PromptID,
		Type:          r.Type,
		BeforeCode:    r.BeforeCode,
		AfterCode:     r.AfterCode,
		DiffStats: model.DiffStats{
			LinesAdded:   r.LinesAdded,
			LinesRemoved: r.LinesRemoved,
			CharsAdded:   r.CharsAdded,
			CharsRemoved: r.CharsRemoved,
			HasDiff:      r.HasDiff,
		},
		Tags:      decodeStrings(r.Tags),
		Notes:     r.Notes,
		ModelInfo: r.ModelInfo,
	}
}

func promptToRow(p model.Prompt) promptRow {
	return promptRow{
		ID:                  p.ID,
		Timestamp:           p.Timestamp,
		WorkspacePath:       p.WorkspacePath,
		WorkspaceID:         p.WorkspaceID,
		ConversationID:      p.ConversationID,
		MessageRole:         p.MessageRole,
		Text:                p.Text,
		ContextFileCount:    p.ContextFileCount,
		ContextUsage:        p.ContextUsage,
		ContextFiles:        encodeStrings(p.ContextFiles),
		ModelType:           p.ModelType,
		ModelName:           p.ModelName,
		Mode:                p.Mode,
		IsAuto:              p.IsAuto,
		ThinkingTimeSeconds: p.ThinkingTimeSeconds,
		LinkedEntryID:       p.LinkedEntryID,
	}
}

func rowToPrompt(r promptRow) model.Prompt {
	return model.Prompt{
		ID:                  r.ID,
		Timestamp:           r.Timestamp,
		WorkspacePath:       r.WorkspacePath,
		WorkspaceID:         r.WorkspaceID,
		ConversationID:      r.ConversationID,
		MessageRole:         r.MessageRole,
		Text:                r.Text,
		ContextFileCount:    r.ContextFileCount,
		ContextUsage:        r.ContextUsage,
		ContextFiles:        decodeStrings(r.ContextFiles),
		ModelType:           r.ModelType,
		ModelName:           r.ModelName,
		Mode:                r.Mode,
		IsAuto:              r.IsAuto,
		ThinkingTimeSeconds: r.ThinkingTimeSeconds,
		LinkedEntryID:       r.LinkedEntryID,
	}
}

func turnToRow(t model.ConversationTurn) promptRow {
	row := promptToRow(t.Prompt)
	row.TurnIndex = t.TurnIndex
	row.PromptTokens = t.PromptTokens
	row.CompletionTokens = t.CompletionTokens
	row.TotalTokens = t.TotalTokens
	row.TimeToFirstTokenMS = t.TimeToFirstTokenMS
	row.RequestDurationMS = t.RequestDurationMS
	return row
}

func rowToTurn(r promptRow) model.ConversationTurn {
	return model.ConversationTurn{
		Prompt:             rowToPrompt(r),
		TurnIndex:          r.TurnIndex,
		PromptTokens:       r.PromptTokens,
		CompletionTokens:   r.CompletionTokens,
		TotalTokens:        r.TotalTokens,
		TimeToFirstTokenMS: r.TimeToFirstTokenMS,
		RequestDurationMS:  r.RequestDurationMS,
	}
}

func terminalToRow(t model.TerminalCommand) terminalRow {
	return terminalRow{
		ID:             t.ID,
		Timestamp:      t.Timestamp,
		WorkspacePath:  t.WorkspacePath,
		Command:        t.Command,
		Shell:          t.Shell,
		Source:         string(t.Source),
		ExitCode:       t.ExitCode,
		DurationMS:     t.DurationMS,
		Output:         t.Output,
		Error:          t.Error,
		LinkedEntryID:  t.LinkedEntryID,
		LinkedPromptID: t.LinkedPromptID,
	}
}

func rowToTerminal(r terminalRow) model.TerminalCommand {
	return model.TerminalCommand{
		ID:             r.ID,
		Timestamp:      r.Timestamp,
		WorkspacePath:  r.WorkspacePath,
		Command:        r.Command,
		Shell:          r.Shell,
		Source:         model.Source(r.Source),
		ExitCode:       r.ExitCode,
		DurationMS:     r.DurationMS,
		Output:         r.Output,
		Error:          r.Error,
		LinkedEntryID:  r.LinkedEntryID,
		LinkedPromptID: r.LinkedPromptID,
	}
}

func snapshotToRow(s model.ContextSnapshot) snapshotRow {
	return snapshotRow{
		ID:               s.ID,
		Timestamp:        s.Timestamp,
		PromptID:         s.PromptID,
		CurrentFileCount: s.CurrentFileCount,
		AddedFiles:       encodeStrings(s.AddedFiles),
		RemovedFiles:     encodeStrings(s.RemovedFiles),
		NetChange:        s.NetChange,
	}
}

func rowToSnapshot(r snapshotRow) model.ContextSnapshot {
	return model.ContextSnapshot{
		ID:               r.ID,
		Timestamp:        r.Timestamp,
		PromptID:         r.PromptID,
		CurrentFileCount: r.CurrentFileCount,
		AddedFiles:       decodeStrings(r.AddedFiles),
		RemovedFiles:     decodeStrings(r.RemovedFiles),
		NetChange:        r.NetChange,
	}
}
