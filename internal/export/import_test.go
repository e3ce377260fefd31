// File path: internal/export/import_test.go
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

func exportBuffer(t *testing.T, st *store.Store) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	streamed, err := New(st).Export(context.Background(), Options{}, &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if streamed {
		t.Fatalf("fixture export unexpectedly streamed")
	}
	return &buf
}

func TestRoundTripSkipIsIdentity(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	result, err := NewImporter(dst).Import(context.Background(), bytes.NewReader(doc.Bytes()), ImportOptions{Strategy: MergeSkip})
	if err != nil {
		t.Fatalf("import into empty store: %v", err)
	}
	if result.Status != "success" || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Imported != 6 {
		t.Fatalf("expected 6 records imported, got %d", result.Imported)
	}

	// Re-importing the same document must be a no-op under skip.
	again, err := NewImporter(dst).Import(context.Background(), bytes.NewReader(doc.Bytes()), ImportOptions{Strategy: MergeSkip})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Imported != 0 || again.Skipped != 6 {
		t.Fatalf("skip re-import should skip everything: %+v", again)
	}

	// And the destination now exports the same records.
	roundTrip := exportBuffer(t, dst)
	var a, b Envelope
	mustDecode(t, doc.Bytes(), &a)
	mustDecode(t, roundTrip.Bytes(), &b)
	if len(a.Data.CodeChanges) != len(b.Data.CodeChanges) || len(a.Data.Prompts) != len(b.Data.Prompts) {
		t.Fatalf("round trip lost records")
	}
	if a.Data.CodeChanges[0].ID != b.Data.CodeChanges[0].ID {
		t.Fatalf("entry identity changed: %s vs %s", a.Data.CodeChanges[0].ID, b.Data.CodeChanges[0].ID)
	}
}

func TestWorkspaceMappingsRewritePaths(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	opts := ImportOptions{
		Strategy:          MergeSkip,
		WorkspaceMappings: map[string]string{"/work/alpha": "/srv/projects/alpha"},
	}
	if _, err := NewImporter(dst).Import(context.Background(), bytes.NewReader(doc.Bytes()), opts); err != nil {
		t.Fatalf("import: %v", err)
	}
	entries, err := dst.EntriesInRange(context.Background(), 0, 1<<62, "", 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no entries imported")
	}
	for _, entry := range entries {
		if entry.WorkspacePath != "/srv/projects/alpha" {
			t.Fatalf("workspace not mapped: %q", entry.WorkspacePath)
		}
	}
	prompt, err := dst.PromptByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if prompt.WorkspacePath != "/srv/projects/alpha" {
		t.Fatalf("prompt workspace not mapped: %q", prompt.WorkspacePath)
	}
}

func TestWorkspaceFilterDropsOtherProjects(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	ctx := context.Background()
	other := model.Entry{
		ID:            "ex9",
		Timestamp:     1_700_000_100_000,
		WorkspacePath: "/work/beta",
		FilePath:      "/work/beta/main.go",
		Source:        model.SourceProbe,
	}
	if err := src.SaveEntry(ctx, other); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	result, err := NewImporter(dst).Import(ctx, bytes.NewReader(doc.Bytes()), ImportOptions{WorkspaceFilter: "/work/alpha"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Collections["codeChanges"].Imported != 2 {
		t.Fatalf("expected the beta entry filtered out: %+v", result.Collections["codeChanges"])
	}
	if _, err := dst.EntryByID(ctx, "ex9"); err == nil {
		t.Fatalf("filtered entry must not be stored")
	}
}

func TestLegacyDocumentMigratesOnImport(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"entries": [
			{"id": "e1", "timestamp": 1700000030000, "workspace_path": "/work/alpha",
			 "file_path": "/work/alpha/a.go", "prompt_id": "p1",
			 "before_code": "a", "after_code": "a\nb"}
		],
		"prompts": [
			{"id": "p1", "timestamp": 1700000000000, "workspace_path": "/work/alpha",
			 "message_role": "user", "text": "add b"}
		],
		"terminal_commands": [],
		"context_snapshots": []
	}`
	dst := newTestStore(t)
	ctx := context.Background()
	result, err := NewImporter(dst).Import(ctx, strings.NewReader(doc), ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.DocumentVersion != "1.0.0" {
		t.Fatalf("detected version %q", result.DocumentVersion)
	}
	if len(result.MigrationSteps) != 2 {
		t.Fatalf("expected two migration steps from 1.0.0, got %v", result.MigrationSteps)
	}
	if !result.Compatible {
		t.Fatalf("1.0.0 document must be compatible")
	}
	prompt, err := dst.PromptByID(ctx, "p1")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if prompt.LinkedEntryID != "e1" {
		t.Fatalf("migration should backfill the reverse link, got %q", prompt.LinkedEntryID)
	}
	entry, err := dst.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if !entry.DiffStats.HasDiff || entry.DiffStats.LinesAdded != 1 {
		t.Fatalf("migration should recompute diff stats: %+v", entry.DiffStats)
	}
}

func TestNewerDocumentRejected(t *testing.T) {
	doc := `{"schema_version": "9.0.0", "entries": [], "prompts": [], "terminal_commands": [], "context_snapshots": []}`
	dst := newTestStore(t)
	result, err := NewImporter(dst).Import(context.Background(), strings.NewReader(doc), ImportOptions{})
	if err == nil {
		t.Fatalf("expected rejection of newer document")
	}
	if result == nil || result.Compatible {
		t.Fatalf("result should flag incompatibility: %+v", result)
	}
}

func TestMergeStrategyOverwriteAndMerge(t *testing.T) {
	dst := newTestStore(t)
	ctx := context.Background()
	existing := model.Entry{
		ID:            "e1",
		Timestamp:     1_700_000_000_000,
		WorkspacePath: "/work/alpha",
		FilePath:      "/work/alpha/a.go",
		Source:        model.SourceProbe,
		Notes:         "kept note",
	}
	if err := dst.SaveEntry(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}
	doc := `{
		"schema_version": "1.2.0",
		"entries": [
			{"id": "e1", "timestamp": 1700000000000, "workspace_path": "/work/alpha",
			 "file_path": "/work/alpha/a.go", "notes": "imported note", "session_id": "s-import"}
		],
		"prompts": [], "terminal_commands": [], "context_snapshots": []
	}`

	if _, err := NewImporter(dst).Import(ctx, strings.NewReader(doc), ImportOptions{Strategy: MergeMerge}); err != nil {
		t.Fatalf("merge import: %v", err)
	}
	merged, err := dst.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if merged.Notes != "kept note" {
		t.Fatalf("merge must keep stored fields, got %q", merged.Notes)
	}
	if merged.SessionID != "s-import" {
		t.Fatalf("merge must fill empty fields, got %q", merged.SessionID)
	}

	if _, err := NewImporter(dst).Import(ctx, strings.NewReader(doc), ImportOptions{Strategy: MergeOverwrite}); err != nil {
		t.Fatalf("overwrite import: %v", err)
	}
	overwritten, err := dst.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if overwritten.Notes != "imported note" {
		t.Fatalf("overwrite must replace stored fields, got %q", overwritten.Notes)
	}
}

func TestOverwriteFlagTrumpsStrategy(t *testing.T) {
	dst := newTestStore(t)
	ctx := context.Background()
	existing := model.Entry{
		ID:            "e1",
		Timestamp:     1_700_000_000_000,
		WorkspacePath: "/work/alpha",
		FilePath:      "/work/alpha/a.go",
		Source:        model.SourceProbe,
		Notes:         "kept note",
	}
	if err := dst.SaveEntry(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}
	doc := `{
		"schema_version": "1.2.0",
		"entries": [
			{"id": "e1", "timestamp": 1700000000000, "workspace_path": "/work/alpha",
			 "file_path": "/work/alpha/a.go", "notes": "imported note"}
		],
		"prompts": [], "terminal_commands": [], "context_snapshots": []
	}`

	result, err := NewImporter(dst).Import(ctx, strings.NewReader(doc), ImportOptions{Strategy: MergeSkip, Overwrite: true})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Skipped != 0 || result.Imported != 1 {
		t.Fatalf("overwrite flag must defeat skip: %+v", result)
	}
	got, err := dst.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if got.Notes != "imported note" {
		t.Fatalf("record not overwritten, got %q", got.Notes)
	}
}

func TestMergeStrategyAppendRewritesIDs(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)
	ctx := context.Background()

	// Importing back into the source store under append duplicates
	// every record under fresh ids with links intact.
	result, err := NewImporter(src).Import(ctx, bytes.NewReader(doc.Bytes()), ImportOptions{Strategy: MergeAppend})
	if err != nil {
		t.Fatalf("append import: %v", err)
	}
	if result.Skipped != 0 || result.Imported != 6 {
		t.Fatalf("append must import everything: %+v", result)
	}
	entries, err := src.EntriesInRange(ctx, 0, 1<<62, "", 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries after append, got %d", len(entries))
	}
	var appended *model.Entry
	for i := range entries {
		if entries[i].ID != "e1" && entries[i].ID != "e2" && entries[i].PromptID != "" {
			appended = &entries[i]
		}
	}
	if appended == nil {
		t.Fatalf("appended linked entry not found")
	}
	if appended.PromptID == "p1" {
		t.Fatalf("append must rewrite the prompt reference too")
	}
	if _, err := src.PromptByID(ctx, appended.PromptID); err != nil {
		t.Fatalf("rewritten prompt reference dangles: %v", err)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	ctx := context.Background()
	result, err := NewImporter(dst).Import(ctx, bytes.NewReader(doc.Bytes()), ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if result.Imported != 6 || !result.DryRun {
		t.Fatalf("dry run should report would-be imports: %+v", result)
	}
	entries, err := dst.EntriesInRange(ctx, 0, 1<<62, "", 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run must not persist, found %d entries", len(entries))
	}
}

func TestSkipLinkedDataScrubsReferences(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	ctx := context.Background()
	if _, err := NewImporter(dst).Import(ctx, bytes.NewReader(doc.Bytes()), ImportOptions{SkipLinkedData: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	entry, err := dst.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.PromptID != "" {
		t.Fatalf("linked data should be scrubbed, got %q", entry.PromptID)
	}
}

func TestImportWritesAuditTrail(t *testing.T) {
	src := newTestStore(t)
	seedLinkedActivity(t, src)
	doc := exportBuffer(t, src)

	dst := newTestStore(t)
	ctx := context.Background()
	if _, err := NewImporter(dst).Import(ctx, bytes.NewReader(doc.Bytes()), ImportOptions{}); err != nil {
		t.Fatalf("import: %v", err)
	}
	rows, err := dst.AuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var started, finished bool
	for _, row := range rows {
		switch row.Event {
		case "import_started":
			started = true
		case "import_finished":
			finished = true
		}
	}
	if !started || !finished {
		t.Fatalf("audit trail missing import events: %+v", rows)
	}
}

func mustDecode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
