// File path: internal/export/export.go
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/devtrail/devtrail/internal/chunker"
	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

// EnvelopeGeneration tags the structured export format. Generation 2.x
// envelopes carry the nested data/relationships sections plus the flat
// _legacy mirror that pre-2.0 consumers still read.
const EnvelopeGeneration = "2.5"

// Metadata describes one export run.
type Metadata struct {
	Version       string  `json:"version"`
	SchemaVersion string  `json:"schema_version"`
	ExportedAt    int64   `json:"exported_at"`
	Options       Options `json:"options"`
	TotalItems    int     `json:"total_items"`
	Streamed      bool    `json:"streamed"`
}

// Data holds the typed collections of a structured envelope.
type Data struct {
	CodeChanges      []model.Entry           `json:"codeChanges"`
	Prompts          []model.Prompt          `json:"prompts"`
	Events           []model.Event           `json:"events"`
	TerminalCommands []model.TerminalCommand `json:"terminalCommands"`
	ContextSnapshots []model.ContextSnapshot `json:"contextSnapshots"`
}

// Unlinked lists record ids the correlator never paired.
type Unlinked struct {
	Entries []string `json:"entries"`
	Prompts []string `json:"prompts"`
}

// Relationships carries the correlation outcome for the exported window.
type Relationships struct {
	LinkedPairs []model.LinkedPair `json:"linkedPairs"`
	Unlinked    Unlinked           `json:"unlinked"`
}

// Stats summarizes the exported window. The streaming path computes the
// same numbers from the same records, so both envelope flavors agree.
type Stats struct {
	Sessions         int `json:"sessions"`
	FileChanges      int `json:"fileChanges"`
	Prompts          int `json:"prompts"`
	Events           int `json:"events"`
	TerminalCommands int `json:"terminalCommands"`
	ContextSnapshots int `json:"contextSnapshots"`
	LinkedPairs      int `json:"linkedPairs"`
	TotalItems       int `json:"totalItems"`
}

// Analytics bundles the derived sections of the envelope.
type Analytics struct {
	Context    model.ContextAnalytics   `json:"context"`
	Workspaces []store.WorkspaceSummary `json:"workspaces"`
	Stats      Stats                    `json:"stats"`
}

// Legacy is the flat pre-2.0 shape, mirrored under _legacy so old
// consumers keep working without version sniffing.
type Legacy struct {
	SchemaVersion    string                  `json:"schema_version"`
	Entries          []model.Entry           `json:"entries"`
	Prompts          []model.Prompt          `json:"prompts"`
	Events           []model.Event           `json:"events,omitempty"`
	TerminalCommands []model.TerminalCommand `json:"terminal_commands"`
	ContextSnapshots []model.ContextSnapshot `json:"context_snapshots"`
}

// Envelope is the structured export document.
type Envelope struct {
	Metadata       Metadata         `json:"metadata"`
	SchemaVersion  string           `json:"schema_version"`
	Data           Data             `json:"data"`
	Relationships  *Relationships   `json:"relationships,omitempty"`
	TemporalChunks []chunker.Chunk  `json:"temporalChunks,omitempty"`
	Analytics      *Analytics       `json:"analytics,omitempty"`
	Patterns       []Pattern        `json:"patterns,omitempty"`
	Legacy         *Legacy          `json:"_legacy,omitempty"`
}

// Exporter builds export documents from the store.
type Exporter struct {
	store *store.Store
	now   func() time.Time
}

func New(st *store.Store) *Exporter {
	return &Exporter{store: st, now: time.Now}
}

// dataset is the raw material of one export, ascending by timestamp.
type dataset struct {
	entries   []model.Entry
	prompts   []model.Prompt
	events    []model.Event
	terminals []model.TerminalCommand
	snapshots []model.ContextSnapshot
}

func (d *dataset) total() int {
	return len(d.entries) + len(d.prompts) + len(d.events) + len(d.terminals) + len(d.snapshots)
}

func (e *Exporter) gather(ctx context.Context, opts Options) (*dataset, error) {
	ds := &dataset{}
	entries, err := e.store.EntriesInRange(ctx, opts.Since, opts.Until, "", opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("gather entries: %w", err)
	}
	ds.entries = entries
	if !opts.ExcludePrompts {
		if ds.prompts, err = e.store.PromptsInRange(ctx, opts.Since, opts.Until, opts.Limit); err != nil {
			return nil, fmt.Errorf("gather prompts: %w", err)
		}
	}
	if !opts.ExcludeEvents {
		if ds.events, err = e.store.EventsInRange(ctx, opts.Since, opts.Until, opts.Limit); err != nil {
			return nil, fmt.Errorf("gather events: %w", err)
		}
	}
	if !opts.ExcludeTerminal {
		if ds.terminals, err = e.store.TerminalInRange(ctx, opts.Since, opts.Until, opts.Limit); err != nil {
			return nil, fmt.Errorf("gather terminal commands: %w", err)
		}
	}
	if !opts.ExcludeContext {
		snaps, err := e.store.ContextSnapshots(ctx, opts.Since, 0)
		if err != nil {
			return nil, fmt.Errorf("gather snapshots: %w", err)
		}
		for _, snap := range snaps {
			if snap.Timestamp > opts.Until {
				continue
			}
			ds.snapshots = append(ds.snapshots, snap)
			if opts.Limit > 0 && len(ds.snapshots) >= opts.Limit {
				break
			}
		}
	}
	ds.sortAscending()
	applyAbstraction(ds, opts)
	if opts.NoCodeDiffs {
		for i := range ds.entries {
			ds.entries[i].BeforeCode = ""
			ds.entries[i].AfterCode = ""
		}
	}
	return ds, nil
}

func (d *dataset) sortAscending() {
	sort.SliceStable(d.entries, func(i, j int) bool { return d.entries[i].Timestamp < d.entries[j].Timestamp })
	sort.SliceStable(d.prompts, func(i, j int) bool { return d.prompts[i].Timestamp < d.prompts[j].Timestamp })
	sort.SliceStable(d.events, func(i, j int) bool { return d.events[i].Timestamp < d.events[j].Timestamp })
	sort.SliceStable(d.terminals, func(i, j int) bool { return d.terminals[i].Timestamp < d.terminals[j].Timestamp })
	sort.SliceStable(d.snapshots, func(i, j int) bool { return d.snapshots[i].Timestamp < d.snapshots[j].Timestamp })
}

// Export writes one export document to w. It picks the envelope flavor
// from the options and the item count: forcing stream, or crossing the
// stream threshold, emits the streaming shape. Returns whether the
// streaming path ran.
func (e *Exporter) Export(ctx context.Context, opts Options, w io.Writer) (bool, error) {
	opts.applyDefaults()
	ds, err := e.gather(ctx, opts)
	if err != nil {
		return false, err
	}
	telemetry.RecordExportItems(ds.total())
	if opts.Stream || ds.total() > opts.StreamThreshold {
		telemetry.RecordExportStream()
		return true, e.writeStream(ctx, opts, ds, w)
	}
	env, err := e.buildEnvelope(ctx, opts, ds, false)
	if err != nil {
		return false, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return false, enc.Encode(env)
}

// Envelope builds the structured document without writing it. Used by
// the API layer when it wants to post-process before encoding.
func (e *Exporter) Envelope(ctx context.Context, opts Options) (*Envelope, error) {
	opts.applyDefaults()
	ds, err := e.gather(ctx, opts)
	if err != nil {
		return nil, err
	}
	telemetry.RecordExportItems(ds.total())
	return e.buildEnvelope(ctx, opts, ds, false)
}

func (e *Exporter) buildEnvelope(ctx context.Context, opts Options, ds *dataset, streamed bool) (*Envelope, error) {
	env := &Envelope{
		Metadata: Metadata{
			Version:       EnvelopeGeneration,
			SchemaVersion: store.CurrentSchemaVersion,
			ExportedAt:    e.now().UnixMilli(),
			Options:       opts,
			TotalItems:    ds.total(),
			Streamed:      streamed,
		},
		SchemaVersion: store.CurrentSchemaVersion,
		Data: Data{
			CodeChanges:      emptyWhenNil(ds.entries),
			Prompts:          emptyWhenNil(ds.prompts),
			Events:           emptyWhenNil(ds.events),
			TerminalCommands: emptyWhenNil(ds.terminals),
			ContextSnapshots: emptyWhenNil(ds.snapshots),
		},
	}
	if !opts.NoLinkedData {
		rel := relationshipsOf(ds)
		env.Relationships = &rel
	}
	// Temporal chunks lean on the event timeline; excluding events
	// suppresses them alongside.
	if !opts.NoTemporalChunks && !opts.ExcludeEvents {
		env.TemporalChunks = chunker.Build(ds.entries, ds.prompts, ds.terminals, chunker.DefaultWindow)
	}
	analytics, err := e.analyticsOf(ctx, ds, env.Relationships)
	if err != nil {
		common.Logger().Warn("export: analytics unavailable", "error", err)
	} else {
		env.Analytics = analytics
	}
	if opts.ExtractPatterns {
		env.Patterns = extractPatterns(ds)
	}
	env.Legacy = &Legacy{
		SchemaVersion:    store.CurrentSchemaVersion,
		Entries:          emptyWhenNil(ds.entries),
		Prompts:          emptyWhenNil(ds.prompts),
		Events:           ds.events,
		TerminalCommands: emptyWhenNil(ds.terminals),
		ContextSnapshots: emptyWhenNil(ds.snapshots),
	}
	return env, nil
}

func relationshipsOf(ds *dataset) Relationships {
	promptTS := make(map[string]int64, len(ds.prompts))
	for _, prompt := range ds.prompts {
		promptTS[prompt.ID] = prompt.Timestamp
	}
	rel := Relationships{
		LinkedPairs: []model.LinkedPair{},
		Unlinked:    Unlinked{Entries: []string{}, Prompts: []string{}},
	}
	linkedPrompts := make(map[string]struct{})
	for _, entry := range ds.entries {
		if entry.PromptID == "" {
			rel.Unlinked.Entries = append(rel.Unlinked.Entries, entry.ID)
			continue
		}
		gap := int64(0)
		if ts, ok := promptTS[entry.PromptID]; ok {
			gap = (entry.Timestamp - ts) / 1000
			if gap < 0 {
				gap = -gap
			}
		}
		rel.LinkedPairs = append(rel.LinkedPairs, model.LinkedPair{
			PromptID:       entry.PromptID,
			EntryID:        entry.ID,
			TimeGapSeconds: gap,
		})
		linkedPrompts[entry.PromptID] = struct{}{}
	}
	for _, prompt := range ds.prompts {
		if _, ok := linkedPrompts[prompt.ID]; ok {
			continue
		}
		if prompt.LinkedEntryID != "" {
			continue
		}
		rel.Unlinked.Prompts = append(rel.Unlinked.Prompts, prompt.ID)
	}
	return rel
}

func statsOf(ds *dataset, rel *Relationships) Stats {
	sessions := make(map[string]struct{})
	for _, entry := range ds.entries {
		if entry.SessionID != "" {
			sessions[entry.SessionID] = struct{}{}
		}
	}
	stats := Stats{
		Sessions:         len(sessions),
		FileChanges:      len(ds.entries),
		Prompts:          len(ds.prompts),
		Events:           len(ds.events),
		TerminalCommands: len(ds.terminals),
		ContextSnapshots: len(ds.snapshots),
		TotalItems:       ds.total(),
	}
	if rel != nil {
		stats.LinkedPairs = len(rel.LinkedPairs)
	}
	return stats
}

func (e *Exporter) analyticsOf(ctx context.Context, ds *dataset, rel *Relationships) (*Analytics, error) {
	contextStats, err := e.store.ContextAnalytics(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := e.store.WorkspaceSummaries(ctx)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []store.WorkspaceSummary{}
	}
	return &Analytics{
		Context:    contextStats,
		Workspaces: summaries,
		Stats:      statsOf(ds, rel),
	}, nil
}

func emptyWhenNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
