// File path: internal/modgraph/builder.go
package modgraph

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

const (
	// NavigateWindow bounds same-session edit sequences counted as
	// navigation.
	NavigateWindow = 60 * time.Second
	// ToolWindow bounds terminal-to-edit attachment.
	ToolWindow = 30 * time.Second

	buildScanLimit = 10000
)

// Builder derives the interaction graph for one workspace from the raw
// record streams in the store.
type Builder struct {
	store *store.Store
}

func NewBuilder(st *store.Store) *Builder {
	return &Builder{store: st}
}

func (b *Builder) Build(ctx context.Context, workspace string) (*Graph, error) {
	watermark := b.store.Sequence()
	now := time.Now().UnixMilli()

	entries, err := b.store.EntriesInRange(ctx, 0, now+1, workspace, buildScanLimit)
	if err != nil {
		return nil, err
	}
	// Oldest first; navigation and tool edges depend on arrival order.
	reverseEntries(entries)

	prompts, err := b.store.PromptsInRange(ctx, 0, now+1, buildScanLimit)
	if err != nil {
		return nil, err
	}
	promptContext := make(map[string][]string, len(prompts))
	for _, p := range prompts {
		if len(p.ContextFiles) > 0 {
			promptContext[p.ID] = p.ContextFiles
		}
	}

	terminals, err := b.store.TerminalInRange(ctx, 0, now+1, buildScanLimit)
	if err != nil {
		return nil, err
	}

	state := newBuilderState(workspace)
	b.scanEntries(state, entries, promptContext)
	b.scanTerminals(state, entries, terminals)
	b.inferCalls(state, entries)
	return state.finish(now, watermark), nil
}

func reverseEntries(entries []model.Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

func (b *Builder) scanEntries(state *builderState, entries []model.Entry, promptContext map[string][]string) {
	type lastEdit struct {
		file string
		ts   int64
	}
	// Keyed by session; entries without one share a workspace-wide key.
	previous := make(map[string]lastEdit)
	navWindow := NavigateWindow.Milliseconds()

	for _, entry := range entries {
		node := state.fileNode(entry.FilePath)
		if node == nil {
			continue
		}
		node.Interactions.Edits++
		if entry.PromptID != "" {
			node.Interactions.AISuggestions++
		}
		if entry.AfterCode != "" {
			node.SizeBucket = sizeBucket(model.LineCount(entry.AfterCode))
		}

		sessionKey := entry.SessionID
		if sessionKey == "" {
			sessionKey = "ws:" + state.workspace
		}
		if prev, ok := previous[sessionKey]; ok {
			if prev.file != normalizePath(entry.FilePath) && entry.Timestamp-prev.ts <= navWindow && entry.Timestamp >= prev.ts {
				state.addEdge(prev.file, entry.FilePath, EdgeNavigate, entry.Timestamp)
				node.Interactions.Navs++
			}
		}
		previous[sessionKey] = lastEdit{file: normalizePath(entry.FilePath), ts: entry.Timestamp}

		for _, target := range importTargets(entry.AfterCode, entry.FilePath, state.workspace) {
			state.fileNode(target)
			state.addEdge(entry.FilePath, target, EdgeImport, entry.Timestamp)
		}

		if entry.PromptID != "" {
			for _, ctxFile := range promptContext[entry.PromptID] {
				target := state.fileNode(ctxFile)
				if target == nil || normalizePath(ctxFile) == normalizePath(entry.FilePath) {
					continue
				}
				target.Interactions.ModelContextUses++
				state.addEdge(entry.FilePath, ctxFile, EdgeModelContext, entry.Timestamp)
			}
		}
	}
}

func (b *Builder) scanTerminals(state *builderState, entries []model.Entry, terminals []model.TerminalCommand) {
	toolWindow := ToolWindow.Milliseconds()
	for _, cmd := range terminals {
		if !model.WorkspaceMatches(cmd.WorkspacePath, state.workspace) {
			continue
		}
		var best *model.Entry
		for i := range entries {
			e := &entries[i]
			gap := cmd.Timestamp - e.Timestamp
			if gap < 0 || gap > toolWindow {
				continue
			}
			if best == nil || e.Timestamp > best.Timestamp {
				best = e
			}
		}
		if best == nil {
			continue
		}
		dir := model.NormalizeWorkspace(cmd.WorkspacePath)
		if _, ok := state.nodes[dir]; !ok {
			state.nodes[dir] = &Node{ID: dir, Type: NodeDirectory, Lang: "unknown"}
		}
		state.addEdge(dir, best.FilePath, EdgeTool, cmd.Timestamp)
	}
}

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+(?:[\w{},*\s]+\s+from\s+)?['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?m)require\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\s`),
}

// importTargets extracts import statements from the edited code and
// resolves relative specifiers against the editing file's directory.
// Only paths under the same workspace survive.
func importTargets(code, filePath, workspace string) []string {
	if code == "" || workspace == "" {
		return nil
	}
	base := path.Dir(normalizePath(filePath))
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range importPatterns {
		for _, match := range pattern.FindAllStringSubmatch(code, 32) {
			spec := strings.TrimSpace(match[1])
			resolved := resolveImport(spec, base, workspace)
			if resolved == "" {
				continue
			}
			if _, ok := seen[resolved]; ok {
				continue
			}
			seen[resolved] = struct{}{}
			out = append(out, resolved)
		}
	}
	return out
}

func resolveImport(spec, base, workspace string) string {
	switch {
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		resolved := path.Join(base, spec)
		if strings.HasPrefix(resolved, workspace) {
			return resolved
		}
	case strings.HasPrefix(spec, "/"):
		if strings.HasPrefix(normalizePath(spec), workspace) {
			return normalizePath(spec)
		}
	}
	return ""
}

var exportedSymbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:async\s+)?(?:function|class|const|let|var)\s+(\w+)`),
	regexp.MustCompile(`(?m)^func\s+([A-Z]\w*)\s*\(`),
	regexp.MustCompile(`(?m)^def\s+(\w+)\s*\(`),
}

// inferCalls is a best-effort pass: an exported symbol defined in one
// edited file and mentioned in another yields a CALL edge.
func (b *Builder) inferCalls(state *builderState, entries []model.Entry) {
	latest := make(map[string]model.Entry)
	for _, entry := range entries {
		if entry.AfterCode == "" {
			continue
		}
		key := normalizePath(entry.FilePath)
		if prev, ok := latest[key]; !ok || entry.Timestamp > prev.Timestamp {
			latest[key] = entry
		}
	}
	symbols := make(map[string][]string)
	for file, entry := range latest {
		for _, pattern := range exportedSymbolPatterns {
			for _, match := range pattern.FindAllStringSubmatch(entry.AfterCode, 32) {
				name := match[1]
				if len(name) < 4 {
					continue
				}
				symbols[file] = append(symbols[file], name)
			}
		}
	}
	for caller, entry := range latest {
		for callee, names := range symbols {
			if caller == callee {
				continue
			}
			for _, name := range names {
				if strings.Contains(entry.AfterCode, name) {
					state.addEdge(caller, callee, EdgeCall, entry.Timestamp)
					break
				}
			}
		}
	}
}
