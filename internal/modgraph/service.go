// File path: internal/modgraph/service.go
package modgraph

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

const (
	cacheTTL  = 5 * time.Minute
	cacheSize = 64
)

// Service serves per-workspace graphs through a TTL cache. Concurrent
// requests for the same workspace share one build via singleflight, and
// a store sequence newer than the cached watermark forces a rebuild.
type Service struct {
	store   *store.Store
	builder *Builder
	cache   *expirable.LRU[string, *Graph]
	group   singleflight.Group
}

func NewService(st *store.Store) *Service {
	return &Service{
		store:   st,
		builder: NewBuilder(st),
		cache:   expirable.NewLRU[string, *Graph](cacheSize, nil, cacheTTL),
	}
}

func (s *Service) Graph(ctx context.Context, workspace string) (*Graph, error) {
	key := model.NormalizeWorkspace(workspace)
	if cached, ok := s.cache.Get(key); ok && cached.Watermark >= s.store.Sequence() {
		telemetry.RecordCacheHit("modgraph")
		return cached, nil
	}
	telemetry.RecordCacheMiss("modgraph")

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		graph, err := s.builder.Build(ctx, key)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, graph)
		common.Logger().Debug("modgraph: rebuilt graph", "workspace", key, "nodes", len(graph.Nodes), "edges", len(graph.Edges))
		return graph, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Graph), nil
}

// StructuralEvent is one edge occurrence on the event timeline.
type StructuralEvent struct {
	Type      EdgeType `json:"event_type"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Timestamp int64    `json:"timestamp"`
}

// Events flattens the graph's edge occurrences into a filtered,
// time-ordered timeline.
func (s *Service) Events(ctx context.Context, workspace string, eventType EdgeType, since, until int64) ([]StructuralEvent, error) {
	graph, err := s.Graph(ctx, workspace)
	if err != nil {
		return nil, err
	}
	var events []StructuralEvent
	for _, edge := range graph.Edges {
		if eventType != "" && edge.Type != eventType {
			continue
		}
		for _, ts := range edge.Timestamps {
			if since > 0 && ts < since {
				continue
			}
			if until > 0 && ts > until {
				continue
			}
			events = append(events, StructuralEvent{Type: edge.Type, Source: edge.Source, Target: edge.Target, Timestamp: ts})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
	return events, nil
}

// Refresh evicts the cached graph for one workspace.
func (s *Service) Refresh(workspace string) {
	s.cache.Remove(model.NormalizeWorkspace(workspace))
}
