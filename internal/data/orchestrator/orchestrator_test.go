// File path: internal/data/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devtrail/devtrail/internal/ingest"
	"github.com/devtrail/devtrail/internal/llm/providers"
	"github.com/devtrail/devtrail/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenWithConfig(store.Config{Path: filepath.Join(dir, "core.db"), DataDir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	// One queue worker keeps event order deterministic for the test.
	orch, err := New(context.Background(), Config{QueueWorkers: 1}, WithStore(st), WithProvider(providers.NewLocalProvider()))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(func() {
		orch.Close()
		st.Close()
	})
	return orch, st
}

func TestPipelineEndToEnd(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	promptPayload := map[string]interface{}{
		"id": "p1", "timestamp": float64(base),
		"workspace_path": "/work/alpha", "message_role": "user", "text": "add retries",
	}
	if _, err := orch.Queue().Enqueue(ctx, ingest.KindPrompt, promptPayload); err != nil {
		t.Fatalf("enqueue prompt: %v", err)
	}
	entryPayload := map[string]interface{}{
		"id": "e1", "timestamp": float64(base + 30_000),
		"workspace_path": "/work/alpha", "file_path": "/work/alpha/retry.go",
	}
	if _, err := orch.Queue().Enqueue(ctx, ingest.KindEntry, entryPayload); err != nil {
		t.Fatalf("enqueue entry: %v", err)
	}

	// The reverse link is the last write of the linking pass, so once
	// it lands both sides are settled.
	deadline := time.Now().Add(3 * time.Second)
	for {
		prompt, err := st.PromptByID(ctx, "p1")
		if err == nil && prompt.LinkedEntryID == "e1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prompt never linked: %+v err=%v", prompt, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	entry, err := st.EntryByID(ctx, "e1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.PromptID != "p1" {
		t.Fatalf("forward link missing: %q", entry.PromptID)
	}
}

func TestCloseIsIdempotentAndOrdered(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	if err := orch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
