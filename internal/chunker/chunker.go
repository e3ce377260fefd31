// File path: internal/chunker/chunker.go
package chunker

import (
	"fmt"
	"sort"
	"time"

	"github.com/devtrail/devtrail/internal/model"
)

// DefaultWindow is the idle gap that closes a chunk.
const DefaultWindow = 5 * time.Minute

type itemKind int

const (
	kindPrompt itemKind = iota
	kindEntry
	kindTerminal
)

type item struct {
	kind      itemKind
	id        string
	timestamp int64
	workspace string
	filePath  string
	promptID  string
	modelName string
	diff      model.DiffStats
}

// Summary counts what happened inside one chunk.
type Summary struct {
	Prompts           int `json:"prompts"`
	CodeChanges       int `json:"code_changes"`
	TerminalCommands  int `json:"terminal_commands"`
	TotalLinesAdded   int `json:"total_lines_added"`
	TotalLinesRemoved int `json:"total_lines_removed"`
	TotalCharsAdded   int `json:"total_chars_added"`
	TotalCharsDeleted int `json:"total_chars_deleted"`
}

// Relationship records a prompt-to-code pair resolved inside a chunk.
type Relationship struct {
	Type           string `json:"type"`
	PromptID       string `json:"prompt_id"`
	CodeChangeID   string `json:"code_change_id"`
	TimeGapSeconds int64  `json:"time_gap_seconds"`
}

// Chunk is one session-like window of activity.
type Chunk struct {
	ID              string         `json:"id"`
	StartTime       int64          `json:"start_time"`
	EndTime         int64          `json:"end_time"`
	DurationSeconds int64          `json:"duration_seconds"`
	WorkspacePaths  []string       `json:"workspace_paths"`
	FilesChanged    []string       `json:"files_changed"`
	ModelsUsed      []string       `json:"models_used"`
	Summary         Summary        `json:"summary"`
	Relationships   []Relationship `json:"relationships"`
	ItemIDs         []string       `json:"item_ids,omitempty"`
}

// Build groups entries, prompts, and terminal commands into
// non-overlapping time chunks. A new chunk opens when an item's
// timestamp exceeds the previous chunk's end by more than window.
// Items with non-positive timestamps are dropped.
func Build(entries []model.Entry, prompts []model.Prompt, terminals []model.TerminalCommand, window time.Duration) []Chunk {
	if window <= 0 {
		window = DefaultWindow
	}
	items := collect(entries, prompts, terminals)
	if len(items) == 0 {
		return nil
	}
	gap := window.Milliseconds()

	var chunks []Chunk
	var current *builder
	for _, it := range items {
		if current == nil || it.timestamp-current.end > gap {
			if current != nil {
				chunks = append(chunks, current.finish(len(chunks)))
			}
			current = newBuilder(it.timestamp)
		}
		current.add(it)
	}
	chunks = append(chunks, current.finish(len(chunks)))
	return chunks
}

func collect(entries []model.Entry, prompts []model.Prompt, terminals []model.TerminalCommand) []item {
	items := make([]item, 0, len(entries)+len(prompts)+len(terminals))
	for _, e := range entries {
		if e.Timestamp <= 0 {
			continue
		}
		items = append(items, item{kind: kindEntry, id: e.ID, timestamp: e.Timestamp, workspace: e.WorkspacePath, filePath: e.FilePath, promptID: e.PromptID, diff: e.DiffStats})
	}
	for _, p := range prompts {
		if p.Timestamp <= 0 {
			continue
		}
		items = append(items, item{kind: kindPrompt, id: p.ID, timestamp: p.Timestamp, workspace: p.WorkspacePath, modelName: p.ModelName})
	}
	for _, t := range terminals {
		if t.Timestamp <= 0 {
			continue
		}
		items = append(items, item{kind: kindTerminal, id: t.ID, timestamp: t.Timestamp, workspace: t.WorkspacePath})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].timestamp < items[j].timestamp })
	return items
}

type builder struct {
	start      int64
	end        int64
	workspaces map[string]struct{}
	files      map[string]struct{}
	models     map[string]struct{}
	summary    Summary
	prompts    map[string]int64
	pending    []item
	ids        []string
}

func newBuilder(start int64) *builder {
	return &builder{
		start:      start,
		end:        start,
		workspaces: make(map[string]struct{}),
		files:      make(map[string]struct{}),
		models:     make(map[string]struct{}),
		prompts:    make(map[string]int64),
	}
}

func (b *builder) add(it item) {
	if it.timestamp > b.end {
		b.end = it.timestamp
	}
	if it.workspace != "" {
		b.workspaces[it.workspace] = struct{}{}
	}
	b.ids = append(b.ids, it.id)
	switch it.kind {
	case kindPrompt:
		b.summary.Prompts++
		b.prompts[it.id] = it.timestamp
		if it.modelName != "" {
			b.models[it.modelName] = struct{}{}
		}
	case kindEntry:
		b.summary.CodeChanges++
		b.summary.TotalLinesAdded += it.diff.LinesAdded
		b.summary.TotalLinesRemoved += it.diff.LinesRemoved
		b.summary.TotalCharsAdded += it.diff.CharsAdded
		b.summary.TotalCharsDeleted += it.diff.CharsRemoved
		if it.filePath != "" {
			b.files[it.filePath] = struct{}{}
		}
		if it.promptID != "" {
			b.pending = append(b.pending, it)
		}
	case kindTerminal:
		b.summary.TerminalCommands++
	}
}

func (b *builder) finish(index int) Chunk {
	chunk := Chunk{
		ID:              fmt.Sprintf("chunk-%d-%04d", b.start, index),
		StartTime:       b.start,
		EndTime:         b.end,
		DurationSeconds: (b.end - b.start) / 1000,
		WorkspacePaths:  sortedKeys(b.workspaces),
		FilesChanged:    sortedKeys(b.files),
		ModelsUsed:      sortedKeys(b.models),
		Summary:         b.summary,
		ItemIDs:         b.ids,
	}
	for _, it := range b.pending {
		promptTS, ok := b.prompts[it.promptID]
		if !ok {
			continue
		}
		gap := (it.timestamp - promptTS) / 1000
		if gap < 0 {
			gap = -gap
		}
		chunk.Relationships = append(chunk.Relationships, Relationship{
			Type:           "prompt_to_code",
			PromptID:       it.promptID,
			CodeChangeID:   it.id,
			TimeGapSeconds: gap,
		})
	}
	return chunk
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
