// File path: internal/cluster/pipeline.go
package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/llm"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
	"github.com/devtrail/devtrail/internal/workspace"
)

// Strategy names one clustering partition scheme.
type Strategy string

const (
	StrategyGlobal    Strategy = "global"
	StrategyWorkspace Strategy = "workspace_specific"
	StrategyRepoType  Strategy = "repo_type"
)

type Config struct {
	// SampleSize caps the input; beyond it, items are sampled
	// proportionally per workspace.
	SampleSize int
	Strategies []Strategy
	Thresholds Thresholds
	// Strict drops every invalid cluster; otherwise only those with
	// concentration violations are dropped.
	Strict bool
	// SimilarityFloor is the minimum similarity for cluster
	// membership.
	SimilarityFloor float64
}

func (c *Config) applyDefaults() {
	if c.SampleSize <= 0 {
		c.SampleSize = 100_000
	}
	if len(c.Strategies) == 0 {
		c.Strategies = []Strategy{StrategyGlobal, StrategyWorkspace, StrategyRepoType}
	}
	if c.SimilarityFloor <= 0 {
		c.SimilarityFloor = 0.6
	}
	c.Thresholds.applyDefaults()
}

// summaryConcurrency bounds parallel LLM summaries.
const summaryConcurrency = 5

// Cluster is one group of related items plus its composition counters.
type Cluster struct {
	ID          string   `json:"id"`
	Strategy    Strategy `json:"strategy"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ItemIDs     []string `json:"item_ids"`
	Facet       Facet    `json:"facet"`

	conversations map[string]struct{}
	users         map[string]struct{}
	workspaces    map[string]int
}

func newCluster(id string, strategy Strategy, seed Facet) *Cluster {
	return &Cluster{
		ID:            id,
		Strategy:      strategy,
		Facet:         seed,
		conversations: make(map[string]struct{}),
		users:         make(map[string]struct{}),
		workspaces:    make(map[string]int),
	}
}

func (c *Cluster) absorb(item Item) {
	c.ItemIDs = append(c.ItemIDs, item.ID)
	if item.ConversationID != "" {
		c.conversations[item.ConversationID] = struct{}{}
	}
	if item.UserID != "" {
		c.users[item.UserID] = struct{}{}
	}
	c.workspaces[item.Workspace]++
}

func (c Cluster) Conversations() int { return len(c.conversations) }

func (c Cluster) UniqueUsers() int { return len(c.users) }

func (c Cluster) UniqueWorkspaces() int { return len(c.workspaces) }

func (c Cluster) LargestWorkspaceShare() float64 {
	total, largest := 0, 0
	for _, n := range c.workspaces {
		total += n
		if n > largest {
			largest = n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(largest) / float64(total)
}

// Result is the outcome of one full pipeline run.
type Result struct {
	Clusters   []Cluster  `json:"clusters"`
	Dropped    int        `json:"dropped"`
	Validation Validation `json:"validation"`
	SampledN   int        `json:"sampled_items"`
	TotalN     int        `json:"total_items"`
}

// Pipeline runs sampling, facet extraction, clustering, privacy
// filtering, and summarization over the prompt history.
type Pipeline struct {
	store    *store.Store
	analyzer *workspace.Analyzer
	provider llm.Provider
	cfg      Config
}

func NewPipeline(st *store.Store, analyzer *workspace.Analyzer, provider llm.Provider, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{store: st, analyzer: analyzer, provider: provider, cfg: cfg}
}

func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	items, err := p.loadItems(ctx)
	if err != nil {
		return nil, err
	}
	total := len(items)
	items = StratifiedSample(items, p.cfg.SampleSize)

	contexts, err := p.workspaceContexts(ctx, items)
	if err != nil {
		return nil, err
	}
	facets := p.extractFacets(ctx, items, contexts)

	var (
		mu       sync.Mutex
		clusters []Cluster
	)
	group, gctx := errgroup.WithContext(ctx)
	for _, strategy := range p.cfg.Strategies {
		strategy := strategy
		group.Go(func() error {
			built, err := p.runStrategy(gctx, strategy, items, facets)
			if err != nil {
				return err
			}
			mu.Lock()
			clusters = append(clusters, built...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	filtered := Filter(clusters, p.cfg.Thresholds)
	kept := filtered.Valid
	if !p.cfg.Strict {
		kept = append(kept, lowSeverityOnly(filtered)...)
	}
	p.summarize(ctx, kept)

	return &Result{
		Clusters:   kept,
		Dropped:    len(clusters) - len(kept),
		Validation: filtered.Validation,
		SampledN:   len(items),
		TotalN:     total,
	}, nil
}

// lowSeverityOnly keeps invalid clusters whose violations are all low
// severity; concentration and workspace-diversity failures are always
// dropped.
func lowSeverityOnly(result FilterResult) []Cluster {
	severe := make(map[string]bool)
	for _, v := range result.Validation.Violations {
		if v.Check == "workspace_concentration" || v.Check == "insufficient_workspaces" {
			severe[v.Cluster] = true
		}
	}
	var kept []Cluster
	for _, c := range result.Invalid {
		if !severe[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept
}

func (p *Pipeline) loadItems(ctx context.Context) ([]Item, error) {
	now := time.Now().UnixMilli()
	prompts, err := p.store.PromptsInRange(ctx, 0, now+1, p.cfg.SampleSize*2)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(prompts))
	for _, prompt := range prompts {
		conversation := prompt.ConversationID
		if conversation == "" {
			conversation = prompt.ID
		}
		user := prompt.WorkspaceID
		if user == "" {
			user = conversation
		}
		items = append(items, Item{
			ID:             prompt.ID,
			ConversationID: conversation,
			UserID:         user,
			Workspace:      prompt.WorkspacePath,
			Timestamp:      prompt.Timestamp,
			Text:           prompt.Text,
			FilePaths:      prompt.ContextFiles,
		})
	}
	return items, nil
}

// StratifiedSample keeps at most limit items, sampled proportionally
// across workspaces so no single workspace dominates the sample. The
// selection inside each stratum is an even stride, deterministic for a
// given input order.
func StratifiedSample(items []Item, limit int) []Item {
	if len(items) <= limit {
		return items
	}
	strata := make(map[string][]Item)
	var keys []string
	for _, item := range items {
		if _, ok := strata[item.Workspace]; !ok {
			keys = append(keys, item.Workspace)
		}
		strata[item.Workspace] = append(strata[item.Workspace], item)
	}
	sort.Strings(keys)

	out := make([]Item, 0, limit)
	for _, key := range keys {
		stratum := strata[key]
		quota := int(math.Ceil(float64(len(stratum)) / float64(len(items)) * float64(limit)))
		if quota >= len(stratum) {
			out = append(out, stratum...)
			continue
		}
		stride := float64(len(stratum)) / float64(quota)
		for i := 0; i < quota; i++ {
			out = append(out, stratum[int(float64(i)*stride)])
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (p *Pipeline) workspaceContexts(ctx context.Context, items []Item) (map[string]model.WorkspaceContext, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, item := range items {
		if _, ok := seen[item.Workspace]; ok {
			continue
		}
		seen[item.Workspace] = struct{}{}
		paths = append(paths, item.Workspace)
	}
	contexts := make(map[string]model.WorkspaceContext, len(paths))
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	// The analyzer holds its own concurrency limit; errgroup only
	// bounds the fanout.
	group.SetLimit(summaryConcurrency)
	for _, path := range paths {
		path := path
		group.Go(func() error {
			wc, err := p.analyzer.Context(gctx, path)
			if err != nil {
				return err
			}
			mu.Lock()
			contexts[path] = wc
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return contexts, nil
}

func (p *Pipeline) runStrategy(ctx context.Context, strategy Strategy, items []Item, facets map[string]Facet) ([]Cluster, error) {
	partitions := partitionItems(strategy, items, facets)
	var clusters []Cluster
	for _, partition := range partitions {
		built, err := p.clusterPartition(ctx, strategy, partition.key, partition.items, facets)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, built...)
	}
	return clusters, nil
}

type partition struct {
	key   string
	items []Item
}

func partitionItems(strategy Strategy, items []Item, facets map[string]Facet) []partition {
	switch strategy {
	case StrategyWorkspace:
		return groupBy(items, func(item Item) string { return item.Workspace })
	case StrategyRepoType:
		return groupBy(items, func(item Item) string { return facets[item.ID].RepositoryType })
	default:
		return []partition{{key: "all", items: items}}
	}
}

func groupBy(items []Item, keyOf func(Item) string) []partition {
	groups := make(map[string][]Item)
	var keys []string
	for _, item := range items {
		key := keyOf(item)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], item)
	}
	sort.Strings(keys)
	out := make([]partition, 0, len(keys))
	for _, key := range keys {
		out = append(out, partition{key: key, items: groups[key]})
	}
	return out
}

// clusterPartition groups one partition's items greedily: embeddings
// when the capability is available, Jaccard over facet values
// otherwise.
func (p *Pipeline) clusterPartition(ctx context.Context, strategy Strategy, key string, items []Item, facets map[string]Facet) ([]Cluster, error) {
	if len(items) == 0 {
		return nil, nil
	}
	vectors := p.embedItems(ctx, items)

	type seed struct {
		cluster *Cluster
		vector  []float32
		facet   Facet
		anchor  string
	}
	var seeds []*seed
	for _, item := range items {
		facet := facets[item.ID]
		var best *seed
		bestSim := 0.0
		for _, s := range seeds {
			sim := 0.0
			if vectors != nil && s.vector != nil {
				sim = cosine(vectors[s.anchor], vectors[item.ID])
			} else {
				sim = jaccard(s.facet, facet)
			}
			if sim > bestSim {
				best, bestSim = s, sim
			}
		}
		if best != nil && bestSim >= p.cfg.SimilarityFloor {
			best.cluster.absorb(item)
			continue
		}
		id := fmt.Sprintf("%s-%s-%d", strategy, sanitizeKey(key), len(seeds))
		c := newCluster(id, strategy, facet)
		c.absorb(item)
		s := &seed{cluster: c, facet: facet, anchor: item.ID}
		if vectors != nil {
			s.vector = vectors[item.ID]
		}
		seeds = append(seeds, s)
	}
	out := make([]Cluster, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, *s.cluster)
	}
	return out, nil
}

// embedItems returns nil when the embeddings capability fails or is
// missing; callers fall back to facet similarity.
func (p *Pipeline) embedItems(ctx context.Context, items []Item) map[string][]float32 {
	if p.provider == nil {
		return nil
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}
	vectors, err := p.provider.Embed(ctx, texts)
	if err != nil || len(vectors) != len(items) {
		common.Logger().Warn("cluster: embeddings unavailable, using facet similarity", "error", err)
		return nil
	}
	out := make(map[string][]float32, len(items))
	for i, item := range items {
		out[item.ID] = vectors[i]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sanitizeKey(key string) string {
	key = strings.Trim(strings.ReplaceAll(key, "/", "-"), "-")
	if key == "" {
		return "none"
	}
	return key
}

// summarize asks the LLM for a title and description per cluster, at
// most summaryConcurrency in flight. Failures fall back to the
// deterministic placeholder.
func (p *Pipeline) summarize(ctx context.Context, clusters []Cluster) {
	sem := semaphore.NewWeighted(summaryConcurrency)
	var wg sync.WaitGroup
	for i := range clusters {
		c := &clusters[i]
		c.Title = fmt.Sprintf("Cluster %s", c.ID)
		c.Description = fmt.Sprintf("%d items across %d workspaces", len(c.ItemIDs), c.UniqueWorkspaces())
		if p.provider == nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			title, err := p.provider.Chat(ctx, []llm.Message{
				{Role: "system", Content: "Name this group of developer activities in at most six words."},
				{Role: "user", Content: fmt.Sprintf("task=%s topic=%s language=%s items=%d", c.Facet.TaskType, c.Facet.Topic, c.Facet.Language, len(c.ItemIDs))},
			})
			if err != nil || strings.TrimSpace(title) == "" {
				return
			}
			c.Title = strings.TrimSpace(title)
		}()
	}
	wg.Wait()
}
