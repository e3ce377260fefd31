// File path: internal/export/import.go
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

// MergeStrategy decides what happens when an imported record collides
// with a stored one.
type MergeStrategy string

const (
	// MergeSkip keeps the stored record untouched.
	MergeSkip MergeStrategy = "skip"
	// MergeOverwrite replaces the stored record with the imported one.
	MergeOverwrite MergeStrategy = "overwrite"
	// MergeMerge keeps stored non-empty fields and fills gaps from the
	// imported record.
	MergeMerge MergeStrategy = "merge"
	// MergeAppend imports every record under a fresh id, rewriting
	// cross-references inside the document to match.
	MergeAppend MergeStrategy = "append"
)

// ParseMergeStrategy validates a strategy name, defaulting to skip.
func ParseMergeStrategy(raw string) (MergeStrategy, error) {
	switch MergeStrategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MergeSkip:
		return MergeSkip, nil
	case MergeOverwrite:
		return MergeOverwrite, nil
	case MergeMerge:
		return MergeMerge, nil
	case MergeAppend:
		return MergeAppend, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q", raw)
	}
}

// ImportOptions controls one import run.
type ImportOptions struct {
	Strategy MergeStrategy `json:"strategy"`
	// Overwrite forces the overwrite strategy regardless of Strategy.
	// Compatibility flag for producers predating merge strategies.
	Overwrite         bool              `json:"overwrite,omitempty"`
	DryRun            bool              `json:"dry_run,omitempty"`
	WorkspaceFilter   string            `json:"workspace_filter,omitempty"`
	WorkspaceMappings map[string]string `json:"workspace_mappings,omitempty"`
	SkipLinkedData    bool              `json:"skip_linked_data,omitempty"`
}

// Counters tracks the per-collection outcome of an import.
type Counters struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// ImportResult is the report returned to the caller and mirrored into
// the audit trail.
type ImportResult struct {
	Collections     map[string]*Counters `json:"collections"`
	Imported        int                  `json:"imported"`
	Skipped         int                  `json:"skipped"`
	Errors          int                  `json:"errors"`
	DocumentVersion string               `json:"document_version"`
	SchemaVersion   string               `json:"schema_version"`
	MigrationSteps  []string             `json:"migration_steps,omitempty"`
	Compatible      bool                 `json:"compatible"`
	Status          string               `json:"status"`
	DryRun          bool                 `json:"dry_run,omitempty"`
}

func (r *ImportResult) counters(collection string) *Counters {
	c, ok := r.Collections[collection]
	if !ok {
		c = &Counters{}
		r.Collections[collection] = c
	}
	return c
}

func (r *ImportResult) finish() {
	for _, c := range r.Collections {
		r.Imported += c.Imported
		r.Skipped += c.Skipped
		r.Errors += c.Errors
	}
	switch {
	case r.Errors == 0:
		r.Status = "success"
	case r.Imported > 0:
		r.Status = "partial"
	default:
		r.Status = "error"
	}
}

// Importer replays export documents back into the store.
type Importer struct {
	store *store.Store
}

func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st}
}

// Import reads one export document, either structured or flat, and
// merges its records into the store under the chosen strategy.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	if opts.Strategy == "" {
		opts.Strategy = MergeSkip
	}
	if opts.Overwrite {
		opts.Strategy = MergeOverwrite
	}
	doc, version, err := decodeDocument(r)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{
		Collections:     make(map[string]*Counters),
		DocumentVersion: version,
		SchemaVersion:   store.CurrentSchemaVersion,
		Compatible:      store.CompareVersions(version, store.CurrentSchemaVersion) <= 0,
		DryRun:          opts.DryRun,
	}
	if !result.Compatible {
		result.Status = "error"
		return result, fmt.Errorf("document schema %s is newer than supported %s", version, store.CurrentSchemaVersion)
	}
	result.MigrationSteps = store.NormalizeArchive(doc)

	im.audit(ctx, "import_started", map[string]interface{}{
		"strategy":         string(opts.Strategy),
		"document_version": version,
		"dry_run":          opts.DryRun,
		"status":           "in_progress",
	})

	filterDocument(doc, opts)
	if opts.Strategy == MergeAppend {
		rewriteIdentifiers(doc)
	}
	im.importArchive(ctx, doc, opts, result)
	result.finish()

	im.audit(ctx, "import_finished", result)
	common.Logger().Info("import: finished",
		"status", result.Status,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"dry_run", opts.DryRun)
	return result, nil
}

func (im *Importer) audit(ctx context.Context, event string, payload interface{}) {
	if err := im.store.LogAudit(ctx, event, "import", payload); err != nil {
		common.Logger().Warn("import: audit write failed", "event", event, "error", err)
	}
}

// decodeDocument sniffs the envelope shape. Structured envelopes nest
// collections under data (with _legacy as a fallback mirror); flat
// documents carry the collections at the top level.
func decodeDocument(r io.Reader) (*model.Archive, string, error) {
	var raw struct {
		Metadata struct {
			SchemaVersion string `json:"schema_version"`
			Version       string `json:"version"`
		} `json:"metadata"`
		SchemaVersion string          `json:"schema_version"`
		Data          json.RawMessage `json:"data"`
		Legacy        json.RawMessage `json:"_legacy"`

		Entries          []model.Entry           `json:"entries"`
		Prompts          []model.Prompt          `json:"prompts"`
		Events           []model.Event           `json:"events"`
		TerminalCommands []model.TerminalCommand `json:"terminal_commands"`
		ContextSnapshots []model.ContextSnapshot `json:"context_snapshots"`
	}
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("decode import document: %w", err)
	}
	version := strings.TrimSpace(raw.Metadata.SchemaVersion)
	if version == "" {
		version = strings.TrimSpace(raw.SchemaVersion)
	}
	if version == "" {
		version = "1.0.0"
	}
	doc := &model.Archive{SchemaVersion: version}
	switch {
	case len(raw.Data) > 0:
		var data Data
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, "", fmt.Errorf("decode data section: %w", err)
		}
		doc.Entries = data.CodeChanges
		doc.Prompts = data.Prompts
		doc.Events = data.Events
		doc.TerminalCommands = data.TerminalCommands
		doc.ContextSnapshots = data.ContextSnapshots
	case len(raw.Legacy) > 0:
		var legacy Legacy
		if err := json.Unmarshal(raw.Legacy, &legacy); err != nil {
			return nil, "", fmt.Errorf("decode _legacy section: %w", err)
		}
		doc.Entries = legacy.Entries
		doc.Prompts = legacy.Prompts
		doc.Events = legacy.Events
		doc.TerminalCommands = legacy.TerminalCommands
		doc.ContextSnapshots = legacy.ContextSnapshots
	default:
		doc.Entries = raw.Entries
		doc.Prompts = raw.Prompts
		doc.Events = raw.Events
		doc.TerminalCommands = raw.TerminalCommands
		doc.ContextSnapshots = raw.ContextSnapshots
	}
	return doc, version, nil
}

// mapWorkspace translates a workspace path through the mappings table.
// Exact matches win; otherwise a mapping key that prefixes the path
// rewrites the prefix.
func mapWorkspace(ws string, mappings map[string]string) string {
	if len(mappings) == 0 || ws == "" {
		return ws
	}
	normalized := model.NormalizeWorkspace(ws)
	for from, to := range mappings {
		key := model.NormalizeWorkspace(from)
		if key == "" {
			continue
		}
		if normalized == key {
			return model.NormalizeWorkspace(to)
		}
		if strings.HasPrefix(normalized, key+"/") {
			return model.NormalizeWorkspace(to) + strings.TrimPrefix(normalized, key)
		}
	}
	return ws
}

func keepWorkspace(ws, filter string) bool {
	if filter == "" {
		return true
	}
	if ws == "" {
		return false
	}
	return model.WorkspaceMatches(ws, filter)
}

// filterDocument applies the workspace filter and mappings, then the
// linked-data scrub, before any record touches the store.
func filterDocument(doc *model.Archive, opts ImportOptions) {
	entries := doc.Entries[:0]
	for _, entry := range doc.Entries {
		if !keepWorkspace(entry.WorkspacePath, opts.WorkspaceFilter) {
			continue
		}
		entry.WorkspacePath = mapWorkspace(entry.WorkspacePath, opts.WorkspaceMappings)
		if opts.SkipLinkedData {
			entry.PromptID = ""
		}
		entries = append(entries, entry)
	}
	doc.Entries = entries

	prompts := doc.Prompts[:0]
	for _, prompt := range doc.Prompts {
		if !keepWorkspace(prompt.WorkspacePath, opts.WorkspaceFilter) {
			continue
		}
		prompt.WorkspacePath = mapWorkspace(prompt.WorkspacePath, opts.WorkspaceMappings)
		if opts.SkipLinkedData {
			prompt.LinkedEntryID = ""
		}
		prompts = append(prompts, prompt)
	}
	doc.Prompts = prompts

	events := doc.Events[:0]
	for _, event := range doc.Events {
		if event.WorkspacePath != "" && !keepWorkspace(event.WorkspacePath, opts.WorkspaceFilter) {
			continue
		}
		event.WorkspacePath = mapWorkspace(event.WorkspacePath, opts.WorkspaceMappings)
		events = append(events, event)
	}
	doc.Events = events

	terminals := doc.TerminalCommands[:0]
	for _, cmd := range doc.TerminalCommands {
		if !keepWorkspace(cmd.WorkspacePath, opts.WorkspaceFilter) {
			continue
		}
		cmd.WorkspacePath = mapWorkspace(cmd.WorkspacePath, opts.WorkspaceMappings)
		if opts.SkipLinkedData {
			cmd.LinkedEntryID = ""
			cmd.LinkedPromptID = ""
		}
		terminals = append(terminals, cmd)
	}
	doc.TerminalCommands = terminals

	if opts.SkipLinkedData {
		for i := range doc.ContextSnapshots {
			doc.ContextSnapshots[i].PromptID = ""
		}
	}
}

// rewriteIdentifiers assigns fresh ids to every record and patches the
// document-internal references so an append import stays self-
// consistent.
func rewriteIdentifiers(doc *model.Archive) {
	ids := make(map[string]string)
	fresh := func(old string) string {
		if old == "" {
			return model.NewID()
		}
		if replacement, ok := ids[old]; ok {
			return replacement
		}
		replacement := model.NewID()
		ids[old] = replacement
		return replacement
	}
	for i := range doc.Prompts {
		doc.Prompts[i].ID = fresh(doc.Prompts[i].ID)
	}
	for i := range doc.Entries {
		doc.Entries[i].ID = fresh(doc.Entries[i].ID)
	}
	for i := range doc.Events {
		doc.Events[i].ID = fresh(doc.Events[i].ID)
	}
	for i := range doc.TerminalCommands {
		doc.TerminalCommands[i].ID = fresh(doc.TerminalCommands[i].ID)
	}
	for i := range doc.ContextSnapshots {
		doc.ContextSnapshots[i].ID = fresh(doc.ContextSnapshots[i].ID)
	}
	remap := func(old string) string {
		if replacement, ok := ids[old]; ok {
			return replacement
		}
		return old
	}
	for i := range doc.Entries {
		doc.Entries[i].PromptID = remap(doc.Entries[i].PromptID)
	}
	for i := range doc.Prompts {
		doc.Prompts[i].LinkedEntryID = remap(doc.Prompts[i].LinkedEntryID)
	}
	for i := range doc.TerminalCommands {
		doc.TerminalCommands[i].LinkedEntryID = remap(doc.TerminalCommands[i].LinkedEntryID)
		doc.TerminalCommands[i].LinkedPromptID = remap(doc.TerminalCommands[i].LinkedPromptID)
	}
	for i := range doc.ContextSnapshots {
		doc.ContextSnapshots[i].PromptID = remap(doc.ContextSnapshots[i].PromptID)
	}
}

// importCollection runs one collection through the merge strategy. The
// closures hide the concrete record type.
func importCollection(ctx context.Context, result *ImportResult, opts ImportOptions, name string, count int,
	exists func(ctx context.Context, i int) (bool, error),
	save func(ctx context.Context, i int, merge bool) error) {
	c := result.counters(name)
	for i := 0; i < count; i++ {
		present, err := exists(ctx, i)
		if err != nil {
			c.Errors++
			continue
		}
		merge := false
		if present {
			switch opts.Strategy {
			case MergeSkip:
				c.Skipped++
				continue
			case MergeMerge:
				merge = true
			case MergeAppend:
				// ids were rewritten up front, a collision here means
				// the generator collided; overwrite is the safe choice
			}
		}
		if opts.DryRun {
			c.Imported++
			continue
		}
		if err := save(ctx, i, merge); err != nil {
			common.Logger().Warn("import: record failed", "collection", name, "error", err)
			c.Errors++
			continue
		}
		c.Imported++
	}
	telemetry.RecordImport(name, c.Imported)
}

func (im *Importer) importArchive(ctx context.Context, doc *model.Archive, opts ImportOptions, result *ImportResult) {
	st := im.store
	importCollection(ctx, result, opts, "prompts", len(doc.Prompts),
		func(ctx context.Context, i int) (bool, error) { return st.PromptExists(ctx, doc.Prompts[i].ID) },
		func(ctx context.Context, i int, merge bool) error {
			prompt := doc.Prompts[i]
			if merge {
				existing, err := st.PromptByID(ctx, prompt.ID)
				if err != nil {
					return err
				}
				prompt = mergePrompt(existing, prompt)
			}
			return st.SavePrompt(ctx, prompt)
		})
	importCollection(ctx, result, opts, "codeChanges", len(doc.Entries),
		func(ctx context.Context, i int) (bool, error) { return st.EntryExists(ctx, doc.Entries[i].ID) },
		func(ctx context.Context, i int, merge bool) error {
			entry := doc.Entries[i]
			if merge {
				existing, err := st.EntryByID(ctx, entry.ID)
				if err != nil {
					return err
				}
				entry = mergeEntry(existing, entry)
			}
			return st.SaveEntry(ctx, entry)
		})
	importCollection(ctx, result, opts, "events", len(doc.Events),
		func(ctx context.Context, i int) (bool, error) { return st.EventExists(ctx, doc.Events[i].ID) },
		func(ctx context.Context, i int, merge bool) error {
			return st.SaveEvent(ctx, doc.Events[i])
		})
	importCollection(ctx, result, opts, "terminalCommands", len(doc.TerminalCommands),
		func(ctx context.Context, i int) (bool, error) {
			return st.TerminalExists(ctx, doc.TerminalCommands[i].ID)
		},
		func(ctx context.Context, i int, merge bool) error {
			cmd := doc.TerminalCommands[i]
			if merge {
				existing, err := st.TerminalByID(ctx, cmd.ID)
				if err != nil {
					return err
				}
				cmd = mergeTerminal(existing, cmd)
			}
			return st.SaveTerminal(ctx, cmd)
		})
	importCollection(ctx, result, opts, "contextSnapshots", len(doc.ContextSnapshots),
		func(ctx context.Context, i int) (bool, error) {
			return st.SnapshotExists(ctx, doc.ContextSnapshots[i].ID)
		},
		func(ctx context.Context, i int, merge bool) error {
			return st.SaveSnapshot(ctx, doc.ContextSnapshots[i])
		})
}

// mergeEntry keeps every stored non-empty field and fills the gaps from
// the imported record.
func mergeEntry(existing, incoming model.Entry) model.Entry {
	merged := existing
	if merged.PromptID == "" {
		merged.PromptID = incoming.PromptID
	}
	if merged.SessionID == "" {
		merged.SessionID = incoming.SessionID
	}
	if merged.BeforeCode == "" && merged.AfterCode == "" {
		merged.BeforeCode = incoming.BeforeCode
		merged.AfterCode = incoming.AfterCode
		merged.DiffStats = incoming.DiffStats
	}
	if merged.Notes == "" {
		merged.Notes = incoming.Notes
	}
	if merged.ModelInfo == "" {
		merged.ModelInfo = incoming.ModelInfo
	}
	if len(merged.Tags) == 0 {
		merged.Tags = incoming.Tags
	}
	return merged
}

func mergePrompt(existing, incoming model.Prompt) model.Prompt {
	merged := existing
	if merged.LinkedEntryID == "" {
		merged.LinkedEntryID = incoming.LinkedEntryID
	}
	if merged.ConversationID == "" {
		merged.ConversationID = incoming.ConversationID
	}
	if merged.Text == "" {
		merged.Text = incoming.Text
	}
	if merged.ModelName == "" {
		merged.ModelName = incoming.ModelName
	}
	if len(merged.ContextFiles) == 0 {
		merged.ContextFiles = incoming.ContextFiles
		merged.ContextFileCount = incoming.ContextFileCount
	}
	return merged
}

func mergeTerminal(existing, incoming model.TerminalCommand) model.TerminalCommand {
	merged := existing
	if merged.LinkedEntryID == "" {
		merged.LinkedEntryID = incoming.LinkedEntryID
	}
	if merged.LinkedPromptID == "" {
		merged.LinkedPromptID = incoming.LinkedPromptID
	}
	if merged.Output == "" {
		merged.Output = incoming.Output
	}
	if merged.Error == "" {
		merged.Error = incoming.Error
	}
	if merged.ExitCode == nil {
		merged.ExitCode = incoming.ExitCode
	}
	return merged
}
