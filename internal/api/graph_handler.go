// File path: internal/api/graph_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/devtrail/devtrail/internal/export"
	"github.com/devtrail/devtrail/internal/modgraph"
)

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))
	if workspace == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("workspace required"))
		return
	}
	graph, err := s.orch.Graph().Graph(r.Context(), workspace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleGraphEvents(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))
	if workspace == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("workspace required"))
		return
	}
	eventType := modgraph.EdgeType(strings.TrimSpace(r.URL.Query().Get("event_type")))
	var since, until int64
	var err error
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		if since, err = export.ParseTimeBound(raw, false); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("until")); raw != "" {
		if until, err = export.ParseTimeBound(raw, true); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	events, err := s.orch.Graph().Events(r.Context(), workspace, eventType, since, until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleGraphRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Workspace string `json:"workspace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if strings.TrimSpace(body.Workspace) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("workspace required"))
		return
	}
	s.orch.Graph().Refresh(body.Workspace)
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
