// File path: internal/api/query_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/devtrail/devtrail/internal/cluster"
	"github.com/devtrail/devtrail/internal/common"
)

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, func() (interface{}, error) {
		analytics, err := s.orch.Store().ContextAnalytics(r.Context())
		if err != nil {
			return nil, err
		}
		return analytics, nil
	})
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, func() (interface{}, error) {
		summaries, err := s.orch.Store().WorkspaceSummaries(r.Context())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"workspaces": summaries, "count": len(summaries)}, nil
	})
}

func (s *Server) handleWorkspaceContext(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("path required"))
		return
	}
	wc, err := s.orch.Workspaces().Context(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

type clusterRequest struct {
	SampleSize int  `json:"sample_size"`
	Strict     bool `json:"strict"`
}

// handleClusters runs the privacy-validated clustering pipeline over
// the stored prompts. Long for big stores, so callers should set a
// request timeout.
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	pipeline := s.orch.Clusters(cluster.Config{SampleSize: req.SampleSize, Strict: req.Strict})
	result, err := pipeline.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
