// File path: internal/modgraph/graph_test.go
package modgraph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenWithConfig(store.Config{Path: filepath.Join(dir, "core.db"), DataDir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBuildNodesAndNavigateEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := int64(1700000000000)

	entries := []model.Entry{
		{ID: "e1", Timestamp: base, WorkspacePath: "/work/app", FilePath: "/work/app/src/a.go", SessionID: "s1", AfterCode: "package a\n"},
		{ID: "e2", Timestamp: base + 30_000, WorkspacePath: "/work/app", FilePath: "/work/app/src/b.go", SessionID: "s1", AfterCode: "package b\n"},
		{ID: "e3", Timestamp: base + 300_000, WorkspacePath: "/work/app", FilePath: "/work/app/src/a.go", SessionID: "s1"},
	}
	for _, e := range entries {
		e.Normalize()
		if err := st.SaveEntry(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	graph, err := NewBuilder(st).Build(ctx, "/work/app")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var files, dirs int
	for _, node := range graph.Nodes {
		switch node.Type {
		case NodeFile:
			files++
		case NodeDirectory:
			dirs++
		}
	}
	if files != 2 {
		t.Fatalf("expected 2 file nodes, got %d", files)
	}
	if dirs == 0 {
		t.Fatalf("expected parent directory nodes")
	}

	navs := EdgeFilter{Type: EdgeNavigate}.Apply(graph.Edges)
	if len(navs) != 1 {
		t.Fatalf("expected 1 navigate edge (second hop outside window), got %d", len(navs))
	}
	if navs[0].Source != "/work/app/src/a.go" || navs[0].Target != "/work/app/src/b.go" {
		t.Fatalf("unexpected navigate edge: %+v", navs[0])
	}
}

func TestImportEdgesResolveRelativePaths(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	entry := model.Entry{
		ID: "e1", Timestamp: 1700000000000, WorkspacePath: "/work/app",
		FilePath:  "/work/app/src/main.js",
		AfterCode: "import { fetchData } from './net.js'\nconst x = require('../lib/util.js')\n",
	}
	entry.Normalize()
	if err := st.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	graph, err := NewBuilder(st).Build(ctx, "/work/app")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	imports := EdgeFilter{Type: EdgeImport}.Apply(graph.Edges)
	if len(imports) != 2 {
		t.Fatalf("expected 2 import edges, got %+v", imports)
	}
	targets := map[string]bool{}
	for _, edge := range imports {
		targets[edge.Target] = true
	}
	if !targets["/work/app/src/net.js"] || !targets["/work/app/lib/util.js"] {
		t.Fatalf("unexpected import targets: %v", targets)
	}
}

func TestEdgeTimestampsMonotonicAndDeduped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := int64(1700000000000)
	// Same import appearing in three consecutive edits of one file.
	for i := 0; i < 3; i++ {
		entry := model.Entry{
			ID: "e" + string(rune('1'+i)), Timestamp: base + int64(i)*10_000,
			WorkspacePath: "/work/app", FilePath: "/work/app/src/main.js",
			AfterCode: "import x from './net.js'\n",
		}
		entry.Normalize()
		if err := st.SaveEntry(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	graph, err := NewBuilder(st).Build(ctx, "/work/app")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	imports := EdgeFilter{Type: EdgeImport}.Apply(graph.Edges)
	if len(imports) != 1 {
		t.Fatalf("expected deduped import edge, got %d", len(imports))
	}
	edge := imports[0]
	if edge.Weight != 3 {
		t.Fatalf("expected weight 3, got %d", edge.Weight)
	}
	for i := 1; i < len(edge.Timestamps); i++ {
		if edge.Timestamps[i] < edge.Timestamps[i-1] {
			t.Fatalf("timestamps not monotonic: %v", edge.Timestamps)
		}
	}
}

func TestModelContextEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := int64(1700000000000)
	prompt := model.Prompt{ID: "p1", Timestamp: base, WorkspacePath: "/work/app", ContextFiles: []string{"/work/app/src/helpers.go"}}
	prompt.Normalize()
	if err := st.SavePrompt(ctx, prompt); err != nil {
		t.Fatalf("save prompt: %v", err)
	}
	entry := model.Entry{ID: "e1", Timestamp: base + 5000, WorkspacePath: "/work/app", FilePath: "/work/app/src/main.go", PromptID: "p1"}
	entry.Normalize()
	if err := st.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save entry: %v", err)
	}

	graph, err := NewBuilder(st).Build(ctx, "/work/app")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	edges := EdgeFilter{Type: EdgeModelContext}.Apply(graph.Edges)
	if len(edges) != 1 {
		t.Fatalf("expected 1 model-context edge, got %d", len(edges))
	}
	if edges[0].Target != "/work/app/src/helpers.go" {
		t.Fatalf("unexpected target %q", edges[0].Target)
	}
	withContext := NodeFilter{HasModelContext: true}.Apply(graph.Nodes)
	if len(withContext) != 1 || withContext[0].ID != "/work/app/src/helpers.go" {
		t.Fatalf("model context counts missing: %+v", withContext)
	}
}

func TestServiceCachesUntilStoreAdvances(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	entry := model.Entry{ID: "e1", Timestamp: 1700000000000, WorkspacePath: "/work/app", FilePath: "/work/app/a.go"}
	entry.Normalize()
	if err := st.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	svc := NewService(st)
	first, err := svc.Graph(ctx, "/work/app")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	again, err := svc.Graph(ctx, "/work/app")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if first != again {
		t.Fatalf("expected cached graph pointer")
	}

	// A store write advances the sequence and invalidates the cache.
	entry2 := model.Entry{ID: "e2", Timestamp: 1700000005000, WorkspacePath: "/work/app", FilePath: "/work/app/b.go"}
	entry2.Normalize()
	if err := st.SaveEntry(ctx, entry2); err != nil {
		t.Fatalf("save: %v", err)
	}
	rebuilt, err := svc.Graph(ctx, "/work/app")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if rebuilt == first {
		t.Fatalf("expected rebuild after store write")
	}
	if len(rebuilt.Nodes) <= len(first.Nodes) {
		t.Fatalf("rebuilt graph missing new file")
	}
}

func TestSizeBuckets(t *testing.T) {
	if sizeBucket(10) != "small" || sizeBucket(100) != "medium" || sizeBucket(1000) != "large" {
		t.Fatalf("bucket thresholds wrong")
	}
}

func TestEventsTimeline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := int64(1700000000000)
	for i := 0; i < 2; i++ {
		entry := model.Entry{
			ID: "e" + string(rune('1'+i)), Timestamp: base + int64(i)*10_000,
			WorkspacePath: "/work/app", FilePath: "/work/app/main.js",
			AfterCode: "import x from './net.js'\n",
		}
		entry.Normalize()
		if err := st.SaveEntry(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	svc := NewService(st)
	events, err := svc.Events(ctx, "/work/app", EdgeImport, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Timestamp > events[1].Timestamp {
		t.Fatalf("events not time ordered")
	}
}
