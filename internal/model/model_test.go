// File path: internal/model/model_test.go
package model

import (
	"testing"
)

func TestComputeDiffStatsPure(t *testing.T) {
	before := "a\nb\nc"
	after := "a\nb\nc\nd\ne"
	first := ComputeDiffStats(before, after)
	second := ComputeDiffStats(before, after)
	if first != second {
		t.Fatalf("diff stats not deterministic: %+v vs %+v", first, second)
	}
	if !first.HasDiff {
		t.Fatalf("expected diff to be detected")
	}
	if first.LinesAdded != 2 || first.LinesRemoved != 0 {
		t.Fatalf("unexpected line counts: %+v", first)
	}
	if first.CharsAdded != len(after)-len(before) {
		t.Fatalf("unexpected char delta: %+v", first)
	}
}

func TestComputeDiffStatsIdentical(t *testing.T) {
	stats := ComputeDiffStats("same", "same")
	if stats.HasDiff || stats.LinesAdded != 0 || stats.CharsRemoved != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestComputeDiffStatsRemoval(t *testing.T) {
	stats := ComputeDiffStats("keep\ndrop me\nkeep2", "keep\nkeep2")
	if stats.LinesRemoved != 1 {
		t.Fatalf("expected one removed line, got %+v", stats)
	}
	if stats.CharsRemoved != len("drop me\n") {
		t.Fatalf("unexpected chars removed: %+v", stats)
	}
}

func TestNormalizeWorkspaceIdempotent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/Users/Dev/Project/", "/users/dev/project"},
		{"C:\\Work\\Repo\\", "c:/work/repo"},
		{"  /a/b  ", "/a/b"},
		{"", ""},
		{"/", "/"},
	}
	for _, tc := range cases {
		got := NormalizeWorkspace(tc.in)
		if got != tc.want {
			t.Fatalf("normalize %q: got %q want %q", tc.in, got, tc.want)
		}
		if again := NormalizeWorkspace(got); again != got {
			t.Fatalf("normalize not idempotent for %q: %q then %q", tc.in, got, again)
		}
	}
}

func TestWorkspaceMatchesContainment(t *testing.T) {
	if !WorkspaceMatches("/a/b/project1", "project1") {
		t.Fatalf("expected substring match")
	}
	if !WorkspaceMatches("/a/b", "/a/b/project1") {
		t.Fatalf("expected containment in the filter direction")
	}
	if WorkspaceMatches("/x/y", "/a/b") {
		t.Fatalf("expected mismatch")
	}
	if !WorkspaceMatches("/anything", "") {
		t.Fatalf("empty filter should match everything")
	}
}

func TestParseTimestampSpellings(t *testing.T) {
	ms, err := ParseTimestamp(float64(1700000000000))
	if err != nil || ms != 1700000000000 {
		t.Fatalf("millisecond epoch: %d %v", ms, err)
	}
	ms, err = ParseTimestamp(float64(1700000000))
	if err != nil || ms != 1700000000000 {
		t.Fatalf("second epoch should be promoted: %d %v", ms, err)
	}
	ms, err = ParseTimestamp("2024-01-02T03:04:05Z")
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if ms <= 0 {
		t.Fatalf("expected positive epoch, got %d", ms)
	}
	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Fatalf("expected error for garbage timestamp")
	}
	if _, err := ParseTimestamp(nil); err == nil {
		t.Fatalf("expected error for missing timestamp")
	}
}

func TestEntryFromMapAcceptsBothSpellings(t *testing.T) {
	snake := map[string]interface{}{
		"id":             "e1",
		"timestamp":      float64(1700000000000),
		"workspace_path": "/Work/Proj/",
		"file_path":      "/work/proj/main.go",
		"before_code":    "a",
		"after_code":     "a\nb",
	}
	camel := map[string]interface{}{
		"id":            "e1",
		"timestamp":     float64(1700000000000),
		"workspacePath": "/Work/Proj/",
		"filePath":      "/work/proj/main.go",
		"beforeCode":    "a",
		"afterCode":     "a\nb",
	}
	first, err := EntryFromMap(snake)
	if err != nil {
		t.Fatalf("snake: %v", err)
	}
	second, err := EntryFromMap(camel)
	if err != nil {
		t.Fatalf("camel: %v", err)
	}
	if first.WorkspacePath != "/work/proj" || second.WorkspacePath != first.WorkspacePath {
		t.Fatalf("workspace mismatch: %q vs %q", first.WorkspacePath, second.WorkspacePath)
	}
	if first.DiffStats != second.DiffStats {
		t.Fatalf("diff stats mismatch: %+v vs %+v", first.DiffStats, second.DiffStats)
	}
	if first.Type != "file_change" {
		t.Fatalf("expected default type, got %q", first.Type)
	}
}

func TestPromptNormalizeDefaults(t *testing.T) {
	p := Prompt{ID: " p1 ", WorkspacePath: "/WS/", ContextUsage: 1.4, ContextFiles: []string{"/a.go", "/b.go"}}
	p.Normalize()
	if p.ID != "p1" {
		t.Fatalf("id not trimmed: %q", p.ID)
	}
	if p.MessageRole != "user" {
		t.Fatalf("expected default role, got %q", p.MessageRole)
	}
	if p.ContextUsage != 1 {
		t.Fatalf("usage should clamp to 1, got %f", p.ContextUsage)
	}
	if p.ContextFileCount != 2 {
		t.Fatalf("file count should derive from files, got %d", p.ContextFileCount)
	}
	before := p
	p.Normalize()
	if p.ContextFileCount != before.ContextFileCount || p.WorkspacePath != before.WorkspacePath {
		t.Fatalf("normalize not idempotent: %+v vs %+v", before, p)
	}
}

func TestSnapshotNetChangeDerived(t *testing.T) {
	s := ContextSnapshot{ID: "s1", AddedFiles: []string{"a", "b", "c"}, RemovedFiles: []string{"d"}}
	s.Normalize()
	if s.NetChange != 2 {
		t.Fatalf("expected derived net change 2, got %d", s.NetChange)
	}
}
