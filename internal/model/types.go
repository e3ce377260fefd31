// File path: internal/model/types.go
package model

// Source identifies the producer that emitted a record.
type Source string

const (
	SourceProbe       Source = "probe"
	SourceFileWatcher Source = "filewatcher"
	SourceImported    Source = "imported"
	SourceManual      Source = "manual"
)

// DiffStats summarizes the delta between the before and after snapshots of an
// entry. It is a pure function of the two code payloads.
type DiffStats struct {
	LinesAdded   int  `json:"lines_added"`
	LinesRemoved int  `json:"lines_removed"`
	CharsAdded   int  `json:"chars_added"`
	CharsRemoved int  `json:"chars_removed"`
	HasDiff      bool `json:"has_diff"`
}

// Entry represents one code change observed on one file.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     int64     `json:"timestamp"`
	WorkspacePath string    `json:"workspace_path"`
	FilePath      string    `json:"file_path"`
	Source        Source    `json:"source"`
	SessionID     string    `json:"session_id,omitempty"`
	PromptID      string    `json:"prompt_id,omitempty"`
	Type          string    `json:"type"`
	BeforeCode    string    `json:"before_code"`
	AfterCode     string    `json:"after_code"`
	DiffStats     DiffStats `json:"diff_stats"`
	Tags          []string  `json:"tags,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	ModelInfo     string    `json:"model_info,omitempty"`
}

// Prompt represents one user or assistant message to/from the coding
// assistant, together with the context-window metadata captured at send time.
type Prompt struct {
	ID                  string   `json:"id"`
	Timestamp           int64    `json:"timestamp"`
	WorkspacePath       string   `json:"workspace_path"`
	WorkspaceID         string   `json:"workspace_id,omitempty"`
	ConversationID      string   `json:"conversation_id,omitempty"`
	MessageRole         string   `json:"message_role"`
	Text                string   `json:"text"`
	ContextFileCount    int      `json:"context_file_count,omitempty"`
	ContextUsage        float64  `json:"context_usage,omitempty"`
	ContextFiles        []string `json:"context_files,omitempty"`
	ModelType           string   `json:"model_type,omitempty"`
	ModelName           string   `json:"model_name,omitempty"`
	Mode                string   `json:"mode,omitempty"`
	IsAuto              bool     `json:"is_auto,omitempty"`
	ThinkingTimeSeconds float64  `json:"thinking_time_seconds,omitempty"`
	LinkedEntryID       string   `json:"linked_entry_id,omitempty"`
}

// ConversationTurn is a prompt threaded inside an ordered conversation,
// carrying model timing and token accounting.
type ConversationTurn struct {
	Prompt
	TurnIndex          int      `json:"turn_index"`
	PromptTokens       int      `json:"prompt_tokens,omitempty"`
	CompletionTokens   int      `json:"completion_tokens,omitempty"`
	TotalTokens        int      `json:"total_tokens,omitempty"`
	TimeToFirstTokenMS int64    `json:"time_to_first_token_ms,omitempty"`
	RequestDurationMS  int64    `json:"request_duration_ms,omitempty"`
	CodeBlocks         []string `json:"code_blocks,omitempty"`
	ReferencedFiles    []string `json:"referenced_files,omitempty"`
	Title              string   `json:"title,omitempty"`
	CreatedAt          int64    `json:"created_at,omitempty"`
}

// TerminalCommand is a shell command observed in the editor terminal.
type TerminalCommand struct {
	ID             string  `json:"id"`
	Timestamp      int64   `json:"timestamp"`
	WorkspacePath  string  `json:"workspace"`
	Command        string  `json:"command"`
	Shell          string  `json:"shell,omitempty"`
	Source         Source  `json:"source,omitempty"`
	ExitCode       *int    `json:"exit_code,omitempty"`
	DurationMS     int64   `json:"duration,omitempty"`
	Output         string  `json:"output,omitempty"`
	Error          string  `json:"error,omitempty"`
	LinkedEntryID  string  `json:"linked_entry_id,omitempty"`
	LinkedPromptID string  `json:"linked_prompt_id,omitempty"`
	CPUTimeSeconds float64 `json:"cpu_time_seconds,omitempty"`
}

// ContextSnapshot is a point-in-time inventory of the AI context window.
type ContextSnapshot struct {
	ID               string   `json:"id"`
	Timestamp        int64    `json:"timestamp"`
	PromptID         string   `json:"prompt_id,omitempty"`
	CurrentFileCount int      `json:"current_file_count"`
	AddedFiles       []string `json:"added_files,omitempty"`
	RemovedFiles     []string `json:"removed_files,omitempty"`
	NetChange        int      `json:"net_change"`
}

// Event is a generic activity record emitted by producers that do not
// fit the typed collections. The payload stays opaque.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     int64                  `json:"timestamp"`
	Type          string                 `json:"type"`
	WorkspacePath string                 `json:"workspace_path,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// ContextAnalytics aggregates the snapshot stream for reporting.
type ContextAnalytics struct {
	SnapshotCount    int      `json:"snapshot_count"`
	AverageFileCount float64  `json:"average_file_count"`
	MaxFileCount     int      `json:"max_file_count"`
	NetChangeTotal   int      `json:"net_change_total"`
	TopAddedFiles    []string `json:"top_added_files,omitempty"`
}

// LinkedPair is one resolved (prompt, entry) pair after correlation.
type LinkedPair struct {
	PromptID       string `json:"prompt_id"`
	EntryID        string `json:"entry_id"`
	TimeGapSeconds int64  `json:"time_gap_seconds"`
}

// SchemaDoc pins the persistent data-model version and the migrations that
// have been applied to reach it.
type SchemaDoc struct {
	Version           string   `json:"version"`
	Tables            []string `json:"tables"`
	MigrationsApplied []string `json:"migrations_applied"`
}

// Archive is the flat internal representation of an export/import document.
// Both the streaming and the structured envelopes normalize to this shape.
type Archive struct {
	SchemaVersion    string            `json:"schema_version"`
	Entries          []Entry           `json:"entries"`
	Prompts          []Prompt          `json:"prompts"`
	Events           []Event           `json:"events,omitempty"`
	TerminalCommands []TerminalCommand `json:"terminal_commands"`
	ContextSnapshots []ContextSnapshot `json:"context_snapshots"`
}

// WorkspaceContext is the cached derived description of a workspace.
type WorkspaceContext struct {
	WorkspacePath    string `json:"workspace_path"`
	RepoType         string `json:"repo_type"`
	ProjectStructure string `json:"project_structure"`
	FileCount        int    `json:"file_count"`
	DirCount         int    `json:"dir_count"`
	SizeBucket       string `json:"size_bucket"`
	ActivityLevel    string `json:"activity_level"`
}
