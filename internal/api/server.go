// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/data/orchestrator"
)

const (
	queryCacheSize = 128
	queryCacheTTL  = 30 * time.Second
)

// cachedResponse is one serialized query result held by the response
// cache. The sequence is part of the key, so a stale body can never be
// served after a write.
type cachedResponse struct {
	body        []byte
	contentType string
}

type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	cache  *expirable.LRU[string, cachedResponse]
}

func NewServer(orch *orchestrator.Orchestrator) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	srv := &Server{
		router: chi.NewRouter(),
		orch:   orch,
		cache:  expirable.NewLRU[string, cachedResponse](queryCacheSize, nil, queryCacheTTL),
	}
	srv.routes()
	common.Logger().Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/v1/ingest/entry", s.handleEnqueue("entry"))
	s.router.Post("/v1/ingest/prompt", s.handleEnqueue("prompt"))
	s.router.Post("/v1/ingest/terminal", s.handleEnqueue("terminal"))
	s.router.Post("/v1/ingest/snapshot", s.handleEnqueue("snapshot"))

	s.router.Get("/v1/activity", s.handleActivity)
	s.router.Get("/v1/activity/stream", s.handleActivityStream)
	s.router.Get("/v1/entries", s.handleEntries)
	s.router.Get("/v1/analytics", s.handleAnalytics)
	s.router.Get("/v1/workspaces", s.handleWorkspaces)
	s.router.Get("/v1/workspaces/context", s.handleWorkspaceContext)
	s.router.Get("/v1/logs", s.handleLogs)

	s.router.Get("/v1/graph", s.handleGraph)
	s.router.Get("/v1/graph/events", s.handleGraphEvents)
	s.router.Post("/v1/graph/refresh", s.handleGraphRefresh)

	s.router.Get("/v1/export/database", s.handleExport)
	s.router.Post("/v1/import/database", s.handleImport)
	s.router.Post("/v1/clusters", s.handleClusters)

	s.router.Handle("/debug/vars", expvar.Handler())
}

// cacheKey folds the endpoint, the sorted query string and the store
// sequence into one key, so any write invalidates every cached query.
func (s *Server) cacheKey(r *http.Request) string {
	params := make([]string, 0, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		params = append(params, key+"="+strings.Join(values, ","))
	}
	sort.Strings(params)
	return fmt.Sprintf("%s?%s@%d", r.URL.Path, strings.Join(params, "&"), s.orch.Store().Sequence())
}

// serveCached runs build once per (endpoint, params, sequence) and
// replays the serialized body for repeat readers.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, build func() (interface{}, error)) {
	key := s.cacheKey(r)
	if cached, ok := s.cache.Get(key); ok {
		w.Header().Set("Content-Type", cached.contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached.body)
		return
	}
	payload, err := build()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.Add(key, cachedResponse{body: body, contentType: "application/json"})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// streamJSON assembles a progressive JSON body. The first write error
// sticks; later calls are no-ops.
type streamJSON struct {
	w   http.ResponseWriter
	err error
}

func (sw *streamJSON) raw(s string) {
	if sw.err != nil {
		return
	}
	_, sw.err = sw.w.Write([]byte(s))
}

func (sw *streamJSON) value(v interface{}) {
	if sw.err != nil {
		return
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		sw.err = err
		return
	}
	_, sw.err = sw.w.Write(encoded)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
