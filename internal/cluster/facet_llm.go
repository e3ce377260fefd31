// File path: internal/cluster/facet_llm.go
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/llm"
	"github.com/devtrail/devtrail/internal/model"
)

// facetSystemPrompt pins the reply to one JSON object so the parser
// stays trivial.
const facetSystemPrompt = `Classify one developer request. Reply with a single JSON object with the keys topic, task_type, language and complexity. task_type is one of bugfix, refactor, testing, docs, feature, general. complexity is one of simple, moderate, complex. No prose.`

var (
	knownTaskTypes    = map[string]bool{"bugfix": true, "refactor": true, "testing": true, "docs": true, "feature": true, "general": true}
	knownComplexities = map[string]bool{"simple": true, "moderate": true, "complex": true}
)

// LLMFacet asks the chat capability to classify one item. Workspace
// facets and safety flags stay heuristic; the model only refines topic,
// task type, language and complexity over the heuristic baseline.
func LLMFacet(ctx context.Context, provider llm.Provider, item Item, wc model.WorkspaceContext) (Facet, error) {
	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: facetSystemPrompt},
		{Role: "user", Content: item.Text},
	})
	if err != nil {
		return Facet{}, err
	}
	var parsed struct {
		Topic      string `json:"topic"`
		TaskType   string `json:"task_type"`
		Language   string `json:"language"`
		Complexity string `json:"complexity"`
	}
	raw := strings.TrimSpace(reply)
	if open := strings.IndexByte(raw, '{'); open >= 0 {
		if end := strings.LastIndexByte(raw, '}'); end > open {
			raw = raw[open : end+1]
		}
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Facet{}, fmt.Errorf("parse facet reply: %w", err)
	}
	facet := HeuristicFacet(item, wc)
	if topic := strings.ToLower(strings.TrimSpace(parsed.Topic)); topic != "" {
		facet.Topic = topic
	}
	if task := strings.ToLower(strings.TrimSpace(parsed.TaskType)); knownTaskTypes[task] {
		facet.TaskType = task
	}
	if lang := strings.ToLower(strings.TrimSpace(parsed.Language)); lang != "" {
		facet.Language = lang
	}
	if complexity := strings.ToLower(strings.TrimSpace(parsed.Complexity)); knownComplexities[complexity] {
		facet.Complexity = complexity
	}
	return facet, nil
}

// extractFacets computes the heuristic baseline for every item, then
// refines it through the chat capability when a remote provider is
// configured. The local provider skips the model round trips entirely,
// and any per-item failure keeps the heuristic facet.
func (p *Pipeline) extractFacets(ctx context.Context, items []Item, contexts map[string]model.WorkspaceContext) map[string]Facet {
	facets := make(map[string]Facet, len(items))
	for _, item := range items {
		facets[item.ID] = HeuristicFacet(item, contexts[item.Workspace])
	}
	if p.provider == nil || p.provider.Name() == "local" {
		return facets
	}
	sem := semaphore.NewWeighted(summaryConcurrency)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			defer sem.Release(1)
			facet, err := LLMFacet(ctx, p.provider, item, contexts[item.Workspace])
			if err != nil {
				common.Logger().Warn("cluster: facet capability failed, keeping heuristic", "item", item.ID, "error", err)
				return
			}
			mu.Lock()
			facets[item.ID] = facet
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return facets
}
