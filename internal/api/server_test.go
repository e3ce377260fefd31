// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devtrail/devtrail/internal/data/orchestrator"
	"github.com/devtrail/devtrail/internal/llm/providers"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenWithConfig(store.Config{Path: filepath.Join(dir, "core.db"), DataDir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	orch, err := orchestrator.New(context.Background(), orchestrator.Config{},
		orchestrator.WithStore(st), orchestrator.WithProvider(providers.NewLocalProvider()))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(func() {
		orch.Close()
		st.Close()
	})
	srv, err := NewServer(orch)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv, st
}

func seedEntry(t *testing.T, st *store.Store, id string, ts int64) {
	t.Helper()
	entry := model.Entry{
		ID:            id,
		Timestamp:     ts,
		WorkspacePath: "/work/alpha",
		FilePath:      "/work/alpha/main.go",
		Source:        model.SourceProbe,
	}
	if err := st.SaveEntry(context.Background(), entry); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func TestIngestEndpointAcceptsAndValidates(t *testing.T) {
	srv, st := newTestServer(t)

	body := `{"id": "e1", "timestamp": 1700000000000, "workspace_path": "/work/alpha", "file_path": "/work/alpha/main.go"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest/entry", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["event_id"] != "e1" {
		t.Fatalf("expected event_id e1, got %q", resp["event_id"])
	}

	// Queue workers persist asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := st.EntryByID(context.Background(), "e1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest/entry", strings.NewReader(`{"id": "e2"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing timestamp should 400, got %d", rec.Code)
	}
}

func TestActivityETagAndCacheHeaders(t *testing.T) {
	srv, st := newTestServer(t)
	seedEntry(t, st, "e1", 1_700_000_000_000)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activity?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	wantETag := fmt.Sprintf(`W/"activity-%d-10-0"`, st.Sequence())
	if etag != wantETag {
		t.Fatalf("etag %q, want %q", etag, wantETag)
	}
	cc := rec.Header().Get("Cache-Control")
	if !strings.Contains(cc, "max-age=30") || !strings.Contains(cc, "stale-while-revalidate=300") {
		t.Fatalf("unexpected cache-control %q", cc)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/activity?limit=10", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("matching etag should 304, got %d", rec.Code)
	}

	// A write bumps the sequence and with it the validator.
	seedEntry(t, st, "e2", 1_700_000_001_000)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stale etag should refetch, got %d", rec.Code)
	}
}

func TestActivityMergesEntriesAndPrompts(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	seedEntry(t, st, "e1", 1_700_000_000_000)
	prompt := model.Prompt{
		ID: "p1", Timestamp: 1_700_000_000_500, WorkspacePath: "/work/alpha",
		MessageRole: "user", Text: "hello",
	}
	if err := st.SavePrompt(ctx, prompt); err != nil {
		t.Fatalf("save prompt: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activity", nil))
	var resp struct {
		Data []struct {
			Type      string `json:"type"`
			ID        string `json:"id"`
			Timestamp int64  `json:"timestamp"`
		} `json:"data"`
		Pagination struct {
			Count int `json:"count"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.Count != 2 || len(resp.Data) != 2 {
		t.Fatalf("expected 2 merged items, got %+v", resp)
	}
	if resp.Data[0].Type != "prompt" || resp.Data[1].Type != "entry" {
		t.Fatalf("expected newest-first prompt then entry, got %+v", resp.Data)
	}
}

func TestActivityStreamShape(t *testing.T) {
	srv, st := newTestServer(t)
	for i := 0; i < 25; i++ {
		seedEntry(t, st, fmt.Sprintf("e%d", i), 1_700_000_000_000+int64(i)*1000)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activity/stream?limit=20", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Limit int  `json:"limit"`
			More  bool `json:"has_more"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("stream body is not one JSON document: %v", err)
	}
	if len(resp.Data) != 20 || !resp.Pagination.More {
		t.Fatalf("unexpected page: %d items, more=%v", len(resp.Data), resp.Pagination.More)
	}
}

func TestGraphEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedEntry(t, st, "e1", 1_700_000_000_000)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/graph?workspace=/work/alpha", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("graph: %d %s", rec.Code, rec.Body.String())
	}
	var graph struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &graph); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	if len(graph.Nodes) == 0 {
		t.Fatalf("expected nodes for seeded entry")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/graph", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing workspace should 400, got %d", rec.Code)
	}

	refresh := bytes.NewReader([]byte(`{"workspace": "/work/alpha"}`))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/graph/refresh", refresh))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d", rec.Code)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedEntry(t, st, "e1", 1_700_000_000_000)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/export/database", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	var env struct {
		Metadata struct {
			Version string `json:"version"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if env.Metadata.Version != "2.5" {
		t.Fatalf("unexpected envelope generation %q", env.Metadata.Version)
	}

	importBody, err := json.Marshal(map[string]interface{}{
		"data":    json.RawMessage(rec.Body.Bytes()),
		"options": map[string]interface{}{"merge_strategy": "skip"},
	})
	if err != nil {
		t.Fatalf("marshal import body: %v", err)
	}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/import/database", bytes.NewReader(importBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Status  string `json:"status"`
		Skipped int    `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != "success" || result.Skipped != 1 {
		t.Fatalf("re-import should skip the existing entry: %+v", result)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/import/database", strings.NewReader(`{"options":{}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing data should 400, got %d", rec.Code)
	}
}

func TestQueryCacheReplaysUntilWrite(t *testing.T) {
	srv, st := newTestServer(t)
	seedEntry(t, st, "e1", 1_700_000_000_000)

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil))
	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil))
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached responses differ")
	}

	seedEntry(t, st, "e2", 1_700_000_001_000)
	third := httptest.NewRecorder()
	srv.ServeHTTP(third, httptest.NewRequest(http.MethodGet, "/v1/workspaces", nil))
	var after struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(third.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if after.Count != 1 {
		t.Fatalf("expected 1 workspace, got %d", after.Count)
	}
	if !strings.Contains(third.Body.String(), "/work/alpha") {
		t.Fatalf("workspace summary missing: %s", third.Body.String())
	}
}

func TestLogsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: %d", rec.Code)
	}
	var logs struct {
		Logs []json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
}
