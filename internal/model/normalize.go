// File path: internal/model/normalize.go
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizeWorkspace canonicalizes a workspace path: trimmed, lowercased,
// forward slashes, no trailing slash. Total and idempotent.
func NormalizeWorkspace(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.ReplaceAll(trimmed, "\\", "/")
	trimmed = strings.ToLower(trimmed)
	for len(trimmed) > 1 && strings.HasSuffix(trimmed, "/") {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	return trimmed
}

// WorkspaceMatches reports whether a record workspace satisfies a filter
// string. Matching is substring containment in either direction after
// normalization, the permissive form used by workspace mappings.
func WorkspaceMatches(workspace, filter string) bool {
	ws := NormalizeWorkspace(workspace)
	f := NormalizeWorkspace(filter)
	if f == "" {
		return true
	}
	if ws == "" {
		return false
	}
	return strings.Contains(ws, f) || strings.Contains(f, ws)
}

// ParseTimestamp accepts the timestamp spellings observed in raw producer
// payloads: millisecond epoch numbers, second epoch numbers, numeric strings
// and RFC3339 strings. It returns a UTC millisecond epoch.
func ParseTimestamp(value interface{}) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("timestamp missing")
	case int64:
		return normalizeEpoch(v), nil
	case int:
		return normalizeEpoch(int64(v)), nil
	case float64:
		return normalizeEpoch(int64(v)), nil
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("parse timestamp %q: %w", v.String(), err)
			}
			return normalizeEpoch(int64(f)), nil
		}
		return normalizeEpoch(parsed), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("timestamp missing")
		}
		if num, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return normalizeEpoch(num), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC().UnixMilli(), nil
			}
		}
		return 0, fmt.Errorf("unparseable timestamp %q", trimmed)
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", value)
	}
}

// Producers disagree on epoch precision; anything that looks like seconds is
// promoted to milliseconds.
func normalizeEpoch(v int64) int64 {
	if v > 0 && v < 1e11 {
		return v * 1000
	}
	return v
}

// NewID synthesizes a stable opaque identifier for records arriving without
// one.
func NewID() string {
	return uuid.NewString()
}

// Normalize brings an Entry into canonical shape. It is total (never fails)
// and idempotent.
func (e *Entry) Normalize() {
	e.ID = strings.TrimSpace(e.ID)
	e.WorkspacePath = NormalizeWorkspace(e.WorkspacePath)
	e.FilePath = strings.TrimSpace(e.FilePath)
	if e.Type == "" {
		e.Type = "file_change"
	}
	if e.Source == "" {
		e.Source = SourceProbe
	}
	e.DiffStats = ComputeDiffStats(e.BeforeCode, e.AfterCode)
}

// Normalize brings a Prompt into canonical shape.
func (p *Prompt) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.WorkspacePath = NormalizeWorkspace(p.WorkspacePath)
	p.MessageRole = strings.ToLower(strings.TrimSpace(p.MessageRole))
	if p.MessageRole == "" {
		p.MessageRole = "user"
	}
	if p.ContextUsage < 0 {
		p.ContextUsage = 0
	}
	if p.ContextUsage > 1 {
		p.ContextUsage = 1
	}
	if p.ContextFileCount == 0 {
		p.ContextFileCount = len(p.ContextFiles)
	}
}

// Normalize brings a ConversationTurn into canonical shape.
func (t *ConversationTurn) Normalize() {
	t.Prompt.Normalize()
	if t.TurnIndex < 0 {
		t.TurnIndex = 0
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.CreatedAt == 0 {
		t.CreatedAt = t.Timestamp
	}
}

// Normalize brings a TerminalCommand into canonical shape.
func (t *TerminalCommand) Normalize() {
	t.ID = strings.TrimSpace(t.ID)
	t.WorkspacePath = NormalizeWorkspace(t.WorkspacePath)
	t.Command = strings.TrimSpace(t.Command)
	if t.Source == "" {
		t.Source = SourceProbe
	}
}

// Normalize brings an Event into canonical shape.
func (e *Event) Normalize() {
	e.ID = strings.TrimSpace(e.ID)
	e.Type = strings.TrimSpace(e.Type)
	if e.Type == "" {
		e.Type = "generic"
	}
	e.WorkspacePath = NormalizeWorkspace(e.WorkspacePath)
}

// Normalize brings a ContextSnapshot into canonical shape.
func (s *ContextSnapshot) Normalize() {
	s.ID = strings.TrimSpace(s.ID)
	if s.NetChange == 0 {
		s.NetChange = len(s.AddedFiles) - len(s.RemovedFiles)
	}
}

// Raw payloads mix snake_case and camelCase spellings for the same field.
// The pick helpers read either and the FromMap constructors emit canonical
// records.

func pickValue(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(m map[string]interface{}, keys ...string) string {
	v, ok := pickValue(m, keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func pickInt(m map[string]interface{}, keys ...string) int {
	v, ok := pickValue(m, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		parsed, _ := n.Int64()
		return int(parsed)
	case string:
		parsed, _ := strconv.Atoi(strings.TrimSpace(n))
		return parsed
	default:
		return 0
	}
}

func pickInt64(m map[string]interface{}, keys ...string) int64 {
	v, ok := pickValue(m, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		parsed, _ := n.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return parsed
	default:
		return 0
	}
}

func pickFloat(m map[string]interface{}, keys ...string) float64 {
	v, ok := pickValue(m, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		parsed, _ := n.Float64()
		return parsed
	case string:
		parsed, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return parsed
	default:
		return 0
	}
}

func pickBool(m map[string]interface{}, keys ...string) bool {
	v, ok := pickValue(m, keys...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(b))
		return parsed
	default:
		return false
	}
}

func pickStrings(m map[string]interface{}, keys ...string) []string {
	v, ok := pickValue(m, keys...)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	default:
		return nil
	}
}

func pickTimestamp(m map[string]interface{}) (int64, error) {
	v, ok := pickValue(m, "timestamp", "time", "created_at", "createdAt")
	if !ok {
		return 0, fmt.Errorf("timestamp missing")
	}
	return ParseTimestamp(v)
}

// EntryFromMap builds a canonical Entry from a raw producer payload.
func EntryFromMap(m map[string]interface{}) (Entry, error) {
	ts, err := pickTimestamp(m)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ID:            pickString(m, "id", "entry_id", "entryId"),
		Timestamp:     ts,
		WorkspacePath: pickString(m, "workspace_path", "workspacePath", "workspace"),
		FilePath:      pickString(m, "file_path", "filePath", "file"),
		Source:        Source(strings.ToLower(pickString(m, "source"))),
		SessionID:     pickString(m, "session_id", "sessionId"),
		PromptID:      pickString(m, "prompt_id", "promptId"),
		Type:          pickString(m, "type"),
		BeforeCode:    pickString(m, "before_code", "beforeCode", "before"),
		AfterCode:     pickString(m, "after_code", "afterCode", "after"),
		Tags:          pickStrings(m, "tags"),
		Notes:         pickString(m, "notes"),
		ModelInfo:     pickString(m, "model_info", "modelInfo"),
	}
	entry.Normalize()
	return entry, nil
}

// PromptFromMap builds a canonical Prompt from a raw producer payload.
func PromptFromMap(m map[string]interface{}) (Prompt, error) {
	ts, err := pickTimestamp(m)
	if err != nil {
		return Prompt{}, err
	}
	prompt := Prompt{
		ID:                  pickString(m, "id", "prompt_id", "promptId"),
		Timestamp:           ts,
		WorkspacePath:       pickString(m, "workspace_path", "workspacePath", "workspace"),
		WorkspaceID:         pickString(m, "workspace_id", "workspaceId"),
		ConversationID:      pickString(m, "conversation_id", "conversationId"),
		MessageRole:         pickString(m, "message_role", "messageRole", "role"),
		Text:                pickString(m, "text", "content", "message"),
		ContextFileCount:    pickInt(m, "context_file_count", "contextFileCount"),
		ContextUsage:        pickFloat(m, "context_usage", "contextUsage"),
		ContextFiles:        pickStrings(m, "context_files", "contextFiles"),
		ModelType:           pickString(m, "model_type", "modelType"),
		ModelName:           pickString(m, "model_name", "modelName", "model"),
		Mode:                pickString(m, "mode"),
		IsAuto:              pickBool(m, "is_auto", "isAuto"),
		ThinkingTimeSeconds: pickFloat(m, "thinking_time_seconds", "thinkingTimeSeconds"),
		LinkedEntryID:       pickString(m, "linked_entry_id", "linkedEntryId"),
	}
	prompt.Normalize()
	return prompt, nil
}

// turnFieldKeys are the payload keys that mark a prompt as a
// conversation turn.
var turnFieldKeys = []string{
	"turn_index", "turnIndex",
	"prompt_tokens", "promptTokens",
	"completion_tokens", "completionTokens",
	"total_tokens", "totalTokens",
	"title",
	"code_blocks", "codeBlocks",
	"referenced_files", "referencedFiles",
}

// HasTurnFields reports whether a raw prompt payload carries
// conversation-turn metadata.
func HasTurnFields(m map[string]interface{}) bool {
	_, ok := pickValue(m, turnFieldKeys...)
	return ok
}

// TurnFromMap builds a canonical ConversationTurn from a raw producer
// payload. The prompt fields parse exactly as PromptFromMap does.
func TurnFromMap(m map[string]interface{}) (ConversationTurn, error) {
	prompt, err := PromptFromMap(m)
	if err != nil {
		return ConversationTurn{}, err
	}
	turn := ConversationTurn{
		Prompt:             prompt,
		TurnIndex:          pickInt(m, "turn_index", "turnIndex"),
		PromptTokens:       pickInt(m, "prompt_tokens", "promptTokens"),
		CompletionTokens:   pickInt(m, "completion_tokens", "completionTokens"),
		TotalTokens:        pickInt(m, "total_tokens", "totalTokens"),
		TimeToFirstTokenMS: pickInt64(m, "time_to_first_token_ms", "timeToFirstTokenMs"),
		RequestDurationMS:  pickInt64(m, "request_duration_ms", "requestDurationMs"),
		CodeBlocks:         pickStrings(m, "code_blocks", "codeBlocks"),
		ReferencedFiles:    pickStrings(m, "referenced_files", "referencedFiles"),
		Title:              pickString(m, "title"),
	}
	if v, ok := pickValue(m, "created_at", "createdAt"); ok {
		if created, err := ParseTimestamp(v); err == nil {
			turn.CreatedAt = created
		}
	}
	turn.Normalize()
	return turn, nil
}

// TerminalFromMap builds a canonical TerminalCommand from a raw payload.
func TerminalFromMap(m map[string]interface{}) (TerminalCommand, error) {
	ts, err := pickTimestamp(m)
	if err != nil {
		return TerminalCommand{}, err
	}
	cmd := TerminalCommand{
		ID:             pickString(m, "id", "command_id", "commandId"),
		Timestamp:      ts,
		WorkspacePath:  pickString(m, "workspace", "workspace_path", "workspacePath"),
		Command:        pickString(m, "command", "cmd"),
		Shell:          pickString(m, "shell"),
		Source:         Source(strings.ToLower(pickString(m, "source"))),
		DurationMS:     pickInt64(m, "duration", "duration_ms", "durationMs"),
		Output:         pickString(m, "output", "stdout"),
		Error:          pickString(m, "error", "stderr"),
		LinkedEntryID:  pickString(m, "linked_entry_id", "linkedEntryId"),
		LinkedPromptID: pickString(m, "linked_prompt_id", "linkedPromptId"),
	}
	if v, ok := pickValue(m, "exit_code", "exitCode"); ok {
		code := 0
		switch n := v.(type) {
		case float64:
			code = int(n)
		case int:
			code = n
		case string:
			code, _ = strconv.Atoi(strings.TrimSpace(n))
		}
		cmd.ExitCode = &code
	}
	cmd.Normalize()
	return cmd, nil
}

// EventFromMap builds a canonical Event from a raw payload.
func EventFromMap(m map[string]interface{}) (Event, error) {
	ts, err := pickTimestamp(m)
	if err != nil {
		return Event{}, err
	}
	event := Event{
		ID:            pickString(m, "id", "event_id", "eventId"),
		Timestamp:     ts,
		Type:          pickString(m, "type", "event_type", "eventType"),
		WorkspacePath: pickString(m, "workspace_path", "workspacePath", "workspace"),
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		event.Data = data
	}
	event.Normalize()
	return event, nil
}

// SnapshotFromMap builds a canonical ContextSnapshot from a raw payload.
func SnapshotFromMap(m map[string]interface{}) (ContextSnapshot, error) {
	ts, err := pickTimestamp(m)
	if err != nil {
		return ContextSnapshot{}, err
	}
	snap := ContextSnapshot{
		ID:               pickString(m, "id", "snapshot_id", "snapshotId"),
		Timestamp:        ts,
		PromptID:         pickString(m, "prompt_id", "promptId"),
		CurrentFileCount: pickInt(m, "current_file_count", "currentFileCount"),
		AddedFiles:       pickStrings(m, "added_files", "addedFiles"),
		RemovedFiles:     pickStrings(m, "removed_files", "removedFiles"),
		NetChange:        pickInt(m, "net_change", "netChange"),
	}
	snap.Normalize()
	return snap, nil
}
