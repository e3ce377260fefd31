// File path: internal/store/store_test.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/devtrail/devtrail/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Path: filepath.Join(dir, "core.db"), DataDir: dir}
	store, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(id string, ts int64) model.Entry {
	return model.Entry{
		ID:            id,
		Timestamp:     ts,
		WorkspacePath: "/work/project",
		FilePath:      "/work/project/src/net.js",
		Source:        model.SourceProbe,
		BeforeCode:    "a\nb",
		AfterCode:     "a\nb\nc",
	}
}

func TestSaveEntryIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := testEntry("e1", 1000)
	if err := store.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if err := store.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("second save: %v", err)
	}
	all, err := store.EntriesInRange(ctx, 0, 1<<32, "", 0)
	if err != nil {
		t.Fatalf("entries in range: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 entry after double save, got %d", len(all))
	}
	if !all[0].DiffStats.HasDiff || all[0].DiffStats.LinesAdded != 1 {
		t.Fatalf("diff stats not derived: %+v", all[0].DiffStats)
	}
}

func TestEntryByIDNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.EntryByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEntriesInRangeOrderingAndWorkspace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i, ts := range []int64{1000, 3000, 2000} {
		entry := testEntry(string(rune('a'+i)), ts)
		if i == 2 {
			entry.WorkspacePath = "/other/project"
		}
		if err := store.SaveEntry(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	all, err := store.EntriesInRange(ctx, 0, 1<<32, "", 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(all) != 3 || all[0].Timestamp != 3000 || all[2].Timestamp != 1000 {
		t.Fatalf("expected descending timestamps, got %+v", all)
	}
	scoped, err := store.EntriesInRange(ctx, 0, 1<<32, "/Other/Project/", 0)
	if err != nil {
		t.Fatalf("scoped range: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Timestamp != 2000 {
		t.Fatalf("workspace filter failed: %+v", scoped)
	}
}

func TestUpdateLinksNeverRewrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := testEntry("e1", 1000)
	if err := store.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if err := store.UpdateEntryLink(ctx, "e1", "p1"); err != nil {
		t.Fatalf("first link: %v", err)
	}
	if err := store.UpdateEntryLink(ctx, "e1", "p2"); err != nil {
		t.Fatalf("second link: %v", err)
	}
	got, err := store.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PromptID != "p1" {
		t.Fatalf("existing link rewritten: %q", got.PromptID)
	}
}

func TestConversationMetadataTitleSticky(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.UpdateConversationMetadata(ctx, "c1", "ws1", "/work/project", "First Title", 100); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := store.UpdateConversationMetadata(ctx, "c1", "", "", "", 200); err != nil {
		t.Fatalf("second update: %v", err)
	}
	meta, err := store.ConversationMetadata(ctx, "c1")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["title"] != "First Title" {
		t.Fatalf("title lost: %v", meta["title"])
	}
	if meta["updated_at"] != int64(200) {
		t.Fatalf("updated_at not advanced: %v", meta["updated_at"])
	}
}

func TestSequenceAdvancesOnWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	before := store.Sequence()
	if err := store.SaveEntry(ctx, testEntry("e1", 1000)); err != nil {
		t.Fatalf("save: %v", err)
	}
	mid := store.Sequence()
	if mid <= before {
		t.Fatalf("sequence did not advance: %d -> %d", before, mid)
	}
	if err := store.SavePrompt(ctx, model.Prompt{ID: "p1", Timestamp: 1500, WorkspacePath: "/w"}); err != nil {
		t.Fatalf("save prompt: %v", err)
	}
	if store.Sequence() <= mid {
		t.Fatalf("sequence did not advance on prompt write")
	}
}

func TestMigrateRecordsSchemaDoc(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Path: filepath.Join(dir, "core.db"), DataDir: dir}
	store, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	schema, err := store.Schema(context.Background())
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Version != CurrentSchemaVersion {
		t.Fatalf("expected version %s, got %s", CurrentSchemaVersion, schema.Version)
	}
	if len(schema.MigrationsApplied) != len(migrations) {
		t.Fatalf("expected %d applied migrations, got %v", len(migrations), schema.MigrationsApplied)
	}

	data, err := os.ReadFile(filepath.Join(dir, "schema.json"))
	if err != nil {
		t.Fatalf("read schema.json: %v", err)
	}
	var doc model.SchemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse schema.json: %v", err)
	}
	if doc.Version != CurrentSchemaVersion {
		t.Fatalf("schema.json version mismatch: %s", doc.Version)
	}

	// A second migrate over an up-to-date store applies nothing.
	result, err := store.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(result.Migrations) != 0 {
		t.Fatalf("expected no-op migrate, applied %v", result.Migrations)
	}
}

func TestNormalizeArchiveFillsLinks(t *testing.T) {
	doc := &model.Archive{
		SchemaVersion: "1.0.0",
		Entries: []model.Entry{{
			ID: "e1", Timestamp: 1000, WorkspacePath: "/w", PromptID: "p1",
			BeforeCode: "x", AfterCode: "x\ny",
		}},
		Prompts: []model.Prompt{{ID: "p1", Timestamp: 900, WorkspacePath: "/w"}},
	}
	applied := NormalizeArchive(doc)
	if len(applied) != 2 {
		t.Fatalf("expected 2 steps from 1.0.0, got %v", applied)
	}
	if doc.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("doc version not advanced: %s", doc.SchemaVersion)
	}
	if doc.Prompts[0].LinkedEntryID != "e1" {
		t.Fatalf("reverse link not filled: %+v", doc.Prompts[0])
	}
	if !doc.Entries[0].DiffStats.HasDiff {
		t.Fatalf("diff stats not recomputed")
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", 0},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("compare %s %s: got %d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestJournalAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	ctx := context.Background()
	if err := journal.Append(ctx, "entry", map[string]string{"id": "e1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.Append(ctx, "prompt", map[string]string{"id": "p1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	var kinds []string
	err = journal.ReadAll(ctx, func(record JournalRecord) error {
		kinds = append(kinds, record.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != "entry" || kinds[1] != "prompt" {
		t.Fatalf("unexpected replay order: %v", kinds)
	}
}

func TestContextAnalyticsAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snaps := []model.ContextSnapshot{
		{ID: "s1", Timestamp: 1000, CurrentFileCount: 4, AddedFiles: []string{"/a.go", "/b.go"}},
		{ID: "s2", Timestamp: 2000, CurrentFileCount: 6, AddedFiles: []string{"/a.go"}, RemovedFiles: []string{"/b.go"}},
	}
	for _, snap := range snaps {
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("save snapshot: %v", err)
		}
	}
	analytics, err := store.ContextAnalytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if analytics.SnapshotCount != 2 || analytics.MaxFileCount != 6 {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}
	if analytics.AverageFileCount != 5 {
		t.Fatalf("expected average 5, got %f", analytics.AverageFileCount)
	}
	if len(analytics.TopAddedFiles) == 0 || analytics.TopAddedFiles[0] != "/a.go" {
		t.Fatalf("top files wrong: %v", analytics.TopAddedFiles)
	}
}

func TestAuditTrailMirrored(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Path: filepath.Join(dir, "core.db"), DataDir: dir}
	store, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.LogAudit(ctx, "import_started", "import", map[string]int{"total": 3}); err != nil {
		t.Fatalf("log audit: %v", err)
	}
	rows, err := store.AuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("audit events: %v", err)
	}
	if len(rows) != 1 || rows[0].Event != "import_started" {
		t.Fatalf("unexpected audit rows: %+v", rows)
	}
	if _, err := os.Stat(filepath.Join(dir, "audit.jsonl")); err != nil {
		t.Fatalf("audit mirror missing: %v", err)
	}
}
