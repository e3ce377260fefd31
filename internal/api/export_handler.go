// File path: internal/api/export_handler.go
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/export"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	opts, err := export.ParseOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="devtrail-export.json"`)
	streamed, err := s.orch.Exporter().Export(r.Context(), opts, w)
	if err != nil {
		// Headers are gone once the body started; the streaming writer
		// already closed the document with an error field.
		common.Logger().Error("api: export failed", "streamed", streamed, "error", err)
	}
}

type importRequest struct {
	Data    json.RawMessage `json:"data"`
	Options struct {
		MergeStrategy     string            `json:"merge_strategy"`
		Overwrite         bool              `json:"overwrite"`
		DryRun            bool              `json:"dry_run"`
		WorkspaceFilter   string            `json:"workspace_filter"`
		WorkspaceMappings map[string]string `json:"workspace_mappings"`
		SkipLinkedData    bool              `json:"skip_linked_data"`
	} `json:"options"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("data document required"))
		return
	}
	strategy, err := export.ParseMergeStrategy(req.Options.MergeStrategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.orch.Importer().Import(r.Context(), bytes.NewReader(req.Data), export.ImportOptions{
		Strategy:          strategy,
		Overwrite:         req.Options.Overwrite,
		DryRun:            req.Options.DryRun,
		WorkspaceFilter:   req.Options.WorkspaceFilter,
		WorkspaceMappings: req.Options.WorkspaceMappings,
		SkipLinkedData:    req.Options.SkipLinkedData,
	})
	if err != nil {
		status := http.StatusBadRequest
		if result == nil {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
