// File path: internal/chunker/chunker_test.go
package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/devtrail/devtrail/internal/model"
)

func TestChunkSplitOnIdleGap(t *testing.T) {
	base := int64(1700000000000)
	prompts := []model.Prompt{
		{ID: "p1", Timestamp: base, WorkspacePath: "/w"},
	}
	entries := []model.Entry{
		{ID: "e1", Timestamp: base + 60_000, WorkspacePath: "/w", FilePath: "/w/a.go"},
		{ID: "e2", Timestamp: base + 120_000, WorkspacePath: "/w", FilePath: "/w/b.go"},
	}
	terminals := []model.TerminalCommand{
		{ID: "t1", Timestamp: base + 600_000, WorkspacePath: "/w", Command: "make"},
	}

	chunks := Build(entries, prompts, terminals, 0)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0].ItemIDs) != 3 || len(chunks[1].ItemIDs) != 1 {
		t.Fatalf("expected sizes 3 and 1, got %d and %d", len(chunks[0].ItemIDs), len(chunks[1].ItemIDs))
	}
	if chunks[0].Summary.Prompts != 1 || chunks[0].Summary.CodeChanges != 2 {
		t.Fatalf("unexpected summary: %+v", chunks[0].Summary)
	}
	if chunks[1].Summary.TerminalCommands != 1 {
		t.Fatalf("terminal not counted: %+v", chunks[1].Summary)
	}
}

func TestChunkCoverageAndBoundaries(t *testing.T) {
	base := int64(1700000000000)
	var entries []model.Entry
	for i, offset := range []int64{0, 30_000, 400_000, 430_000, 900_000} {
		entries = append(entries, model.Entry{ID: "e" + string(rune('0'+i)), Timestamp: base + offset, WorkspacePath: "/w"})
	}
	// Dropped before chunking.
	entries = append(entries, model.Entry{ID: "zero", Timestamp: 0})

	chunks := Build(entries, nil, nil, DefaultWindow)

	seen := make(map[string]bool)
	for _, chunk := range chunks {
		for _, id := range chunk.ItemIDs {
			if seen[id] {
				t.Fatalf("item %s in more than one chunk", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 covered items, got %d", len(seen))
	}
	if seen["zero"] {
		t.Fatalf("non-positive timestamp item was chunked")
	}
	gap := DefaultWindow.Milliseconds()
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartTime-chunks[i-1].EndTime <= gap {
			t.Fatalf("chunk boundary violated between %d and %d", i-1, i)
		}
	}
}

func TestChunkIDCarriesStartMillis(t *testing.T) {
	base := int64(1700000000000)
	chunks := Build([]model.Entry{{ID: "e1", Timestamp: base, WorkspacePath: "/w"}}, nil, nil, time.Minute)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk")
	}
	if !strings.HasPrefix(chunks[0].ID, "chunk-1700000000000-") {
		t.Fatalf("unexpected id %q", chunks[0].ID)
	}
	if chunks[0].DurationSeconds != 0 {
		t.Fatalf("single item chunk should have zero duration")
	}
}

func TestChunkRelationships(t *testing.T) {
	base := int64(1700000000000)
	prompts := []model.Prompt{{ID: "p1", Timestamp: base, WorkspacePath: "/w"}}
	entries := []model.Entry{
		{ID: "e1", Timestamp: base + 45_000, WorkspacePath: "/w", PromptID: "p1"},
		{ID: "e2", Timestamp: base + 50_000, WorkspacePath: "/w", PromptID: "other"},
	}
	chunks := Build(entries, prompts, nil, DefaultWindow)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk")
	}
	rels := chunks[0].Relationships
	if len(rels) != 1 {
		t.Fatalf("expected one relationship, got %+v", rels)
	}
	if rels[0].Type != "prompt_to_code" || rels[0].PromptID != "p1" || rels[0].CodeChangeID != "e1" {
		t.Fatalf("unexpected relationship: %+v", rels[0])
	}
	if rels[0].TimeGapSeconds != 45 {
		t.Fatalf("expected 45s gap, got %d", rels[0].TimeGapSeconds)
	}
}
