// File path: internal/modgraph/graph.go
package modgraph

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/devtrail/devtrail/internal/model"
)

type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
)

type EdgeType string

const (
	EdgeImport       EdgeType = "IMPORT"
	EdgeCall         EdgeType = "CALL"
	EdgeModelContext EdgeType = "MODEL_CONTEXT"
	EdgeNavigate     EdgeType = "NAVIGATE"
	EdgeTool         EdgeType = "TOOL"
)

// maxEdgeTimestamps caps the per-edge occurrence history to the most
// recent entries.
const maxEdgeTimestamps = 50

// InteractionCounts accumulates per-file activity over time.
type InteractionCounts struct {
	Edits            int `json:"edits"`
	Navs             int `json:"navs"`
	AISuggestions    int `json:"ai_suggestions"`
	ModelContextUses int `json:"model_context_uses"`
}

type Node struct {
	ID           string            `json:"id"`
	Type         NodeType          `json:"type"`
	Lang         string            `json:"lang"`
	SizeBucket   string            `json:"size_bucket"`
	Interactions InteractionCounts `json:"interaction_counts"`
}

type Edge struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       EdgeType `json:"type"`
	Weight     int      `json:"weight"`
	Timestamps []int64  `json:"timestamps"`
}

// Graph is the derived file-interaction graph for one workspace.
type Graph struct {
	Workspace   string `json:"workspace"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
	GeneratedAt int64  `json:"generated_at"`
	// Watermark is the store sequence captured at build time; a newer
	// sequence invalidates the cached graph.
	Watermark int64 `json:"-"`
}

var langByExt = map[string]string{
	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".py": "python", ".rs": "rust", ".go": "go", ".java": "java",
	".cpp": "cpp", ".cc": "cpp", ".hpp": "cpp", ".c": "c", ".h": "c",
	".rb": "ruby", ".php": "php", ".swift": "swift", ".kt": "kotlin",
	".scala": "scala", ".sh": "shell", ".sql": "sql",
	".html": "html", ".css": "css", ".json": "json", ".yaml": "yaml", ".yml": "yaml",
	".md": "markdown",
}

func langFor(filePath string) string {
	if lang, ok := langByExt[strings.ToLower(path.Ext(filePath))]; ok {
		return lang
	}
	return "unknown"
}

func sizeBucket(lines int) string {
	switch {
	case lines < 100:
		return "small"
	case lines < 1000:
		return "medium"
	default:
		return "large"
	}
}

// builderState accumulates nodes and deduplicated edges while scanning
// the raw record streams.
type builderState struct {
	workspace string
	nodes     map[string]*Node
	edges     map[string]*Edge
}

func newBuilderState(workspace string) *builderState {
	return &builderState{
		workspace: model.NormalizeWorkspace(workspace),
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
	}
}

func (b *builderState) fileNode(filePath string) *Node {
	filePath = normalizePath(filePath)
	if filePath == "" {
		return nil
	}
	node, ok := b.nodes[filePath]
	if !ok {
		node = &Node{ID: filePath, Type: NodeFile, Lang: langFor(filePath), SizeBucket: "small"}
		b.nodes[filePath] = node
		b.ensureParents(filePath)
	}
	return node
}

func (b *builderState) ensureParents(filePath string) {
	dir := path.Dir(filePath)
	for dir != "" && dir != "/" && dir != "." && strings.HasPrefix(dir, b.workspace) {
		if _, ok := b.nodes[dir]; !ok {
			b.nodes[dir] = &Node{ID: dir, Type: NodeDirectory, Lang: "unknown"}
		}
		dir = path.Dir(dir)
	}
}

func (b *builderState) addEdge(source, target string, kind EdgeType, timestamp int64) {
	source = normalizePath(source)
	target = normalizePath(target)
	if source == "" || target == "" || source == target {
		return
	}
	key := source + "\x00" + target + "\x00" + string(kind)
	edge, ok := b.edges[key]
	if !ok {
		edge = &Edge{
			ID:     fmt.Sprintf("%s:%s->%s", kind, source, target),
			Source: source,
			Target: target,
			Type:   kind,
		}
		b.edges[key] = edge
	}
	edge.Weight++
	edge.Timestamps = append(edge.Timestamps, timestamp)
	if len(edge.Timestamps) > maxEdgeTimestamps {
		edge.Timestamps = edge.Timestamps[len(edge.Timestamps)-maxEdgeTimestamps:]
	}
}

func (b *builderState) finish(generatedAt, watermark int64) *Graph {
	graph := &Graph{Workspace: b.workspace, GeneratedAt: generatedAt, Watermark: watermark}
	for _, node := range b.nodes {
		graph.Nodes = append(graph.Nodes, *node)
	}
	sort.Slice(graph.Nodes, func(i, j int) bool { return graph.Nodes[i].ID < graph.Nodes[j].ID })
	for _, edge := range b.edges {
		sort.Slice(edge.Timestamps, func(i, j int) bool { return edge.Timestamps[i] < edge.Timestamps[j] })
		graph.Edges = append(graph.Edges, *edge)
	}
	sort.Slice(graph.Edges, func(i, j int) bool { return graph.Edges[i].ID < graph.Edges[j].ID })
	return graph
}

func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	return path.Clean(strings.ToLower(p))
}

// NodeFilter selects graph nodes; zero values match everything.
type NodeFilter struct {
	Type            NodeType
	Lang            string
	MinEdits        int
	HasModelContext bool
}

func (f NodeFilter) Apply(nodes []Node) []Node {
	var out []Node
	for _, node := range nodes {
		if f.Type != "" && node.Type != f.Type {
			continue
		}
		if f.Lang != "" && node.Lang != f.Lang {
			continue
		}
		if node.Interactions.Edits < f.MinEdits {
			continue
		}
		if f.HasModelContext && node.Interactions.ModelContextUses == 0 {
			continue
		}
		out = append(out, node)
	}
	return out
}

// EdgeFilter selects graph edges; zero values match everything. The
// Endpoint field matches either side.
type EdgeFilter struct {
	Type      EdgeType
	Endpoint  string
	MinWeight int
	Since     int64
	Until     int64
}

func (f EdgeFilter) Apply(edges []Edge) []Edge {
	endpoint := normalizePath(f.Endpoint)
	var out []Edge
	for _, edge := range edges {
		if f.Type != "" && edge.Type != f.Type {
			continue
		}
		if endpoint != "" && edge.Source != endpoint && edge.Target != endpoint {
			continue
		}
		if edge.Weight < f.MinWeight {
			continue
		}
		if f.Since > 0 || f.Until > 0 {
			if !edgeInRange(edge, f.Since, f.Until) {
				continue
			}
		}
		out = append(out, edge)
	}
	return out
}

func edgeInRange(edge Edge, since, until int64) bool {
	for _, ts := range edge.Timestamps {
		if (since <= 0 || ts >= since) && (until <= 0 || ts <= until) {
			return true
		}
	}
	return false
}
