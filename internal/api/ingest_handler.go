// File path: internal/api/ingest_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/devtrail/devtrail/internal/ingest"
)

// handleEnqueue accepts one raw telemetry record and hands it to the
// intake queue. Validation failures map to 400, saturation to 429; a
// duplicate id is acknowledged without re-ingesting.
func (s *Server) handleEnqueue(kind ingest.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
		id, err := s.orch.Queue().Enqueue(r.Context(), kind, payload)
		switch {
		case errors.Is(err, ingest.ErrBusy):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, err)
		case errors.Is(err, ingest.ErrValidation):
			writeError(w, http.StatusBadRequest, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})
		}
	}
}
