// File path: internal/cluster/cluster_test.go
package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/devtrail/devtrail/internal/llm/providers"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
	"github.com/devtrail/devtrail/internal/workspace"
)

func buildCluster(conversations, users, workspaces int, largestShare float64) Cluster {
	c := newCluster("c1", StrategyGlobal, Facet{})
	total := conversations
	largest := int(largestShare * float64(total))
	for i := 0; i < total; i++ {
		ws := "ws-0"
		if i >= largest && workspaces > 1 {
			ws = fmt.Sprintf("ws-%d", 1+i%(workspaces-1))
		}
		c.absorb(Item{
			ID:             fmt.Sprintf("i%d", i),
			ConversationID: fmt.Sprintf("conv%d", i),
			UserID:         fmt.Sprintf("user%d", i%users),
			Workspace:      ws,
		})
	}
	return *c
}

func TestPrivacyFilterScenario(t *testing.T) {
	// 150 conversations, 12 users, 2 workspaces, 90% in the largest.
	concentrated := buildCluster(150, 12, 2, 0.9)
	result := Filter([]Cluster{concentrated}, Thresholds{})
	if len(result.Valid) != 0 {
		t.Fatalf("concentrated cluster should be invalid")
	}
	checks := map[string]bool{}
	for _, v := range result.Validation.Violations {
		checks[v.Check] = true
	}
	if !checks["insufficient_workspaces"] || !checks["workspace_concentration"] {
		t.Fatalf("expected workspace violations, got %v", checks)
	}

	// Raise workspace diversity to 5, largest share 0.3.
	diverse := buildCluster(150, 12, 5, 0.3)
	result = Filter([]Cluster{diverse}, Thresholds{})
	if len(result.Valid) != 1 {
		t.Fatalf("diverse cluster should be valid: %+v", result.Validation)
	}
}

func TestPrivacyMonotonicity(t *testing.T) {
	clusters := []Cluster{
		buildCluster(150, 12, 5, 0.3),
		buildCluster(120, 15, 4, 0.4),
		buildCluster(80, 12, 5, 0.3),
	}
	base := Filter(clusters, Thresholds{})
	stricter := Filter(clusters, Thresholds{MinConversations: 130})
	if len(stricter.Valid) > len(base.Valid) {
		t.Fatalf("raising a threshold increased valid clusters: %d > %d", len(stricter.Valid), len(base.Valid))
	}
	evenStricter := Filter(clusters, Thresholds{MinConversations: 130, MinWorkspaces: 5})
	if len(evenStricter.Valid) > len(stricter.Valid) {
		t.Fatalf("monotonicity violated on workspace threshold")
	}
}

func TestPrivacyScoreDeterministic(t *testing.T) {
	c := buildCluster(150, 12, 5, 0.3)
	if PrivacyScore(c) != PrivacyScore(c) {
		t.Fatalf("score not deterministic")
	}
	if PrivacyScore(c) != 5 {
		t.Fatalf("expected max score for diverse cluster, got %d", PrivacyScore(c))
	}
	small := buildCluster(10, 2, 1, 1.0)
	if PrivacyScore(small) != 1 {
		t.Fatalf("expected min score, got %d", PrivacyScore(small))
	}
}

func TestHeuristicFacets(t *testing.T) {
	item := Item{
		Text:      "Fix the crash in the login handler and add a regression test",
		FilePaths: []string{"/app/src/login.go", "/app/src/login_test.go"},
	}
	facet := HeuristicFacet(item, model.WorkspaceContext{RepoType: "go", SizeBucket: "medium"})
	if facet.TaskType != "bugfix" {
		t.Fatalf("expected bugfix, got %q", facet.TaskType)
	}
	if facet.Language != "go" {
		t.Fatalf("expected go, got %q", facet.Language)
	}
	if facet.RepositoryType != "go" || facet.WorkspaceSize != "medium" {
		t.Fatalf("workspace facets not carried: %+v", facet)
	}

	flagged := HeuristicFacet(Item{Text: "here is my api_key abc123"}, model.WorkspaceContext{})
	if len(flagged.SafetyFlags) == 0 {
		t.Fatalf("expected safety flags for credentials")
	}
}

// scriptedProvider answers every chat with a canned reply and fails
// embeddings, so facet tests isolate the chat capability.
type scriptedProvider struct {
	reply string
	err   error
	calls int
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *scriptedProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, fmt.Errorf("embeddings unavailable")
}

func (s *scriptedProvider) Name() string { return "scripted" }

func TestLLMFacetRefinesHeuristic(t *testing.T) {
	item := Item{
		ID:        "i1",
		Text:      "please help with the thing",
		FilePaths: []string{"/app/main.rs"},
	}
	wc := model.WorkspaceContext{RepoType: "rust", SizeBucket: "small"}

	provider := &scriptedProvider{reply: `{"topic":"auth","task_type":"bugfix","language":"rust","complexity":"moderate"}`}
	facet, err := LLMFacet(context.Background(), provider, item, wc)
	if err != nil {
		t.Fatalf("facet: %v", err)
	}
	if facet.Topic != "auth" || facet.TaskType != "bugfix" || facet.Complexity != "moderate" {
		t.Fatalf("model classification not applied: %+v", facet)
	}
	if facet.RepositoryType != "rust" || facet.WorkspaceSize != "small" {
		t.Fatalf("workspace facets must stay heuristic: %+v", facet)
	}

	// Unknown enum values are discarded in favor of the baseline.
	provider = &scriptedProvider{reply: `{"task_type":"world-domination","complexity":"impossible"}`}
	facet, err = LLMFacet(context.Background(), provider, item, wc)
	if err != nil {
		t.Fatalf("facet: %v", err)
	}
	if facet.TaskType != "general" {
		t.Fatalf("unknown task type should fall back, got %q", facet.TaskType)
	}

	// Prose around the JSON object is tolerated.
	provider = &scriptedProvider{reply: "Sure: {\"topic\":\"parser\"} hope that helps"}
	facet, err = LLMFacet(context.Background(), provider, item, wc)
	if err != nil {
		t.Fatalf("facet: %v", err)
	}
	if facet.Topic != "parser" {
		t.Fatalf("embedded JSON not extracted: %+v", facet)
	}

	if _, err := LLMFacet(context.Background(), &scriptedProvider{reply: "no json here"}, item, wc); err == nil {
		t.Fatalf("unparseable reply must error")
	}
}

func TestExtractFacetsProviderSelection(t *testing.T) {
	items := []Item{{ID: "i1", Text: "fix the crash in login"}}
	contexts := map[string]model.WorkspaceContext{}

	// A remote provider refines the baseline.
	remote := &scriptedProvider{reply: `{"topic":"login","task_type":"bugfix"}`}
	p := &Pipeline{provider: remote}
	facets := p.extractFacets(context.Background(), items, contexts)
	if remote.calls != 1 {
		t.Fatalf("expected one chat call, got %d", remote.calls)
	}
	if facets["i1"].Topic != "login" {
		t.Fatalf("remote facet not applied: %+v", facets["i1"])
	}

	// The local provider never pays for model round trips.
	p = &Pipeline{provider: providers.NewLocalProvider()}
	facets = p.extractFacets(context.Background(), items, contexts)
	if got, want := facets["i1"], HeuristicFacet(items[0], model.WorkspaceContext{}); got.TaskType != want.TaskType || got.Topic != want.Topic {
		t.Fatalf("local provider should keep heuristic facets: %+v", got)
	}

	// A failing capability keeps the heuristic facet per item.
	failing := &scriptedProvider{err: fmt.Errorf("model offline")}
	p = &Pipeline{provider: failing}
	facets = p.extractFacets(context.Background(), items, contexts)
	if facets["i1"].TaskType != "bugfix" {
		t.Fatalf("heuristic fallback lost: %+v", facets["i1"])
	}
}

func TestStratifiedSampleProportional(t *testing.T) {
	var items []Item
	for i := 0; i < 900; i++ {
		items = append(items, Item{ID: fmt.Sprintf("a%d", i), Workspace: "/ws/a"})
	}
	for i := 0; i < 100; i++ {
		items = append(items, Item{ID: fmt.Sprintf("b%d", i), Workspace: "/ws/b"})
	}
	sampled := StratifiedSample(items, 100)
	if len(sampled) > 100 {
		t.Fatalf("sample exceeds limit: %d", len(sampled))
	}
	counts := map[string]int{}
	for _, item := range sampled {
		counts[item.Workspace]++
	}
	if counts["/ws/b"] == 0 {
		t.Fatalf("minority workspace dropped from sample")
	}
	if counts["/ws/a"] < 5*counts["/ws/b"] {
		t.Fatalf("sample not proportional: %v", counts)
	}
	// Under the limit, input passes through untouched.
	if got := StratifiedSample(items[:50], 100); len(got) != 50 {
		t.Fatalf("small input should pass through")
	}
}

func TestPipelineRunWithLocalProvider(t *testing.T) {
	dir := t.TempDir()
	st, err := store.OpenWithConfig(store.Config{Path: filepath.Join(dir, "core.db"), DataDir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	texts := []string{
		"fix the bug in parser", "fix parser crash", "fix broken parser test",
		"add dark mode feature", "add settings feature", "implement export feature",
	}
	for i, text := range texts {
		ws := "/ws/a"
		if i%2 == 1 {
			ws = "/ws/b"
		}
		prompt := model.Prompt{
			ID:             fmt.Sprintf("p%d", i),
			Timestamp:      now - int64(i)*60_000,
			WorkspacePath:  ws,
			WorkspaceID:    fmt.Sprintf("u%d", i),
			ConversationID: fmt.Sprintf("c%d", i),
			Text:           text,
		}
		prompt.Normalize()
		if err := st.SavePrompt(ctx, prompt); err != nil {
			t.Fatalf("save prompt: %v", err)
		}
	}

	pipeline := NewPipeline(st, workspace.NewAnalyzer(st), providers.NewLocalProvider(), Config{
		Strategies: []Strategy{StrategyGlobal},
		Thresholds: Thresholds{MinConversations: 1, MinUsers: 1, MinWorkspaces: 1, MaxWorkspaceShare: 1, MinPrivacyScore: 1},
	})
	result, err := pipeline.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.TotalN != len(texts) || result.SampledN != len(texts) {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Clusters) == 0 {
		t.Fatalf("expected at least one cluster")
	}
	covered := 0
	for _, c := range result.Clusters {
		if c.Title == "" {
			t.Fatalf("cluster missing title")
		}
		covered += len(c.ItemIDs)
	}
	if covered != len(texts) {
		t.Fatalf("clusters cover %d of %d items", covered, len(texts))
	}
}
