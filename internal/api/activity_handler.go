// File path: internal/api/activity_handler.go
package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/devtrail/devtrail/internal/model"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 1000
	streamFlushEvery     = 10
)

// activityItem is one element of the merged entry/prompt timeline.
type activityItem struct {
	Type      string      `json:"type"`
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Workspace string      `json:"workspace_path,omitempty"`
	Record    interface{} `json:"record"`
}

type pagination struct {
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
	Count  int  `json:"count"`
	More   bool `json:"has_more"`
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultActivityLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}
		if limit > maxActivityLimit {
			limit = maxActivityLimit
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}
	}
	return limit, offset, nil
}

// mergedActivity interleaves recent entries and prompts, newest first,
// and applies the page window.
func (s *Server) mergedActivity(r *http.Request, limit, offset int) ([]activityItem, bool, error) {
	ctx := r.Context()
	st := s.orch.Store()
	workspace := r.URL.Query().Get("workspace_id")
	fetch := limit + offset + 1

	entries, err := st.EntriesInRange(ctx, 0, int64(1)<<62, workspace, fetch)
	if err != nil {
		return nil, false, err
	}
	prompts, err := st.RecentPrompts(ctx, fetch)
	if err != nil {
		return nil, false, err
	}

	items := make([]activityItem, 0, len(entries)+len(prompts))
	for _, entry := range entries {
		items = append(items, activityItem{
			Type: "entry", ID: entry.ID, Timestamp: entry.Timestamp,
			Workspace: entry.WorkspacePath, Record: entry,
		})
	}
	for _, prompt := range prompts {
		if workspace != "" && !model.WorkspaceMatches(prompt.WorkspacePath, workspace) {
			continue
		}
		items = append(items, activityItem{
			Type: "prompt", ID: prompt.ID, Timestamp: prompt.Timestamp,
			Workspace: prompt.WorkspacePath, Record: prompt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp > items[j].Timestamp })

	if offset >= len(items) {
		return []activityItem{}, false, nil
	}
	items = items[offset:]
	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sequence := s.orch.Store().Sequence()
	etag := fmt.Sprintf(`W/"activity-%d-%d-%d"`, sequence, limit, offset)
	w.Header().Set("Cache-Control", "public, max-age=30, s-maxage=60, stale-while-revalidate=300")
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	items, more, err := s.mergedActivity(r, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       items,
		"pagination": pagination{Limit: limit, Offset: offset, Count: len(items), More: more},
	})
}

// handleActivityStream serves the same merged timeline progressively,
// flushing after every few records so large pages start rendering
// before the last row is serialized.
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, more, err := s.mergedActivity(r, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	sw := &streamJSON{w: w}
	sw.raw(`{"data":[`)
	for i, item := range items {
		if i > 0 {
			sw.raw(",")
		}
		sw.value(item)
		if flusher != nil && (i+1)%streamFlushEvery == 0 {
			flusher.Flush()
		}
		if sw.err != nil {
			return
		}
	}
	sw.raw(`],"pagination":`)
	sw.value(pagination{Limit: limit, Offset: offset, Count: len(items), More: more})
	sw.raw("}\n")
}

// handleEntries lists recent prompts with their origin tagged, so a
// consumer can tell direct telemetry from conversation-threaded rows.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.serveCached(w, r, func() (interface{}, error) {
		prompts, err := s.orch.Store().RecentPrompts(r.Context(), limit)
		if err != nil {
			return nil, err
		}
		type taggedPrompt struct {
			model.Prompt
			Origin string `json:"source"`
		}
		tagged := make([]taggedPrompt, 0, len(prompts))
		for _, prompt := range prompts {
			origin := "direct"
			if prompt.ConversationID != "" {
				origin = "conversation"
			}
			tagged = append(tagged, taggedPrompt{Prompt: prompt, Origin: origin})
		}
		return map[string]interface{}{"prompts": tagged, "count": len(tagged)}, nil
	})
}
