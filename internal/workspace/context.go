// File path: internal/workspace/context.go
package workspace

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

const (
	cacheTTL  = 10 * time.Minute
	cacheSize = 128
	// maxParallel bounds concurrent workspace analyses.
	maxParallel = 5

	activityScanLimit = 2000
)

// markerFiles maps repository marker files to a repo type, checked in
// order so the most specific marker wins.
var markerFiles = []struct {
	file     string
	repoType string
}{
	{"go.mod", "go"},
	{"Cargo.toml", "rust"},
	{"package.json", "node"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"setup.py", "python"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"Gemfile", "ruby"},
	{"composer.json", "php"},
	{"Package.swift", "swift"},
	{"CMakeLists.txt", "cpp"},
	{"Makefile", "make"},
}

var repoTypeByExt = map[string]string{
	".go": "go", ".rs": "rust",
	".js": "node", ".jsx": "node", ".ts": "node", ".tsx": "node",
	".py": "python", ".java": "java", ".kt": "java",
	".rb": "ruby", ".php": "php", ".swift": "swift",
	".c": "cpp", ".cc": "cpp", ".cpp": "cpp", ".h": "cpp",
}

// Analyzer derives cached workspace-context records. Detection prefers
// marker files on disk; for workspaces that only exist as telemetry
// paths it falls back to the extensions observed in the store.
type Analyzer struct {
	store *store.Store
	cache *expirable.LRU[string, model.WorkspaceContext]
	group singleflight.Group
	sem   *semaphore.Weighted
}

func NewAnalyzer(st *store.Store) *Analyzer {
	return &Analyzer{
		store: st,
		cache: expirable.NewLRU[string, model.WorkspaceContext](cacheSize, nil, cacheTTL),
		sem:   semaphore.NewWeighted(maxParallel),
	}
}

func (a *Analyzer) Context(ctx context.Context, workspacePath string) (model.WorkspaceContext, error) {
	key := model.NormalizeWorkspace(workspacePath)
	if cached, ok := a.cache.Get(key); ok {
		telemetry.RecordCacheHit("workspace")
		return cached, nil
	}
	telemetry.RecordCacheMiss("workspace")

	result, err, _ := a.group.Do(key, func() (interface{}, error) {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return model.WorkspaceContext{}, err
		}
		defer a.sem.Release(1)
		wc, err := a.analyze(ctx, key, workspacePath)
		if err != nil {
			return model.WorkspaceContext{}, err
		}
		a.cache.Add(key, wc)
		return wc, nil
	})
	if err != nil {
		return model.WorkspaceContext{}, err
	}
	return result.(model.WorkspaceContext), nil
}

func (a *Analyzer) analyze(ctx context.Context, key, rawPath string) (model.WorkspaceContext, error) {
	wc := model.WorkspaceContext{WorkspacePath: key, RepoType: "unknown", ProjectStructure: "flat"}

	if fromDisk, ok := a.analyzeDisk(rawPath, &wc); ok {
		wc.RepoType = fromDisk
	} else if fromStore, err := a.analyzeStore(ctx, key, &wc); err != nil {
		return wc, err
	} else if fromStore != "" {
		wc.RepoType = fromStore
	}

	wc.SizeBucket = sizeBucket(wc.FileCount)
	level, err := a.activityLevel(ctx, key)
	if err != nil {
		return wc, err
	}
	wc.ActivityLevel = level
	common.Logger().Debug("workspace: analyzed", "workspace", key, "repo_type", wc.RepoType, "files", wc.FileCount)
	return wc, nil
}

// analyzeDisk runs the marker-file heuristics against a real directory.
func (a *Analyzer) analyzeDisk(rawPath string, wc *model.WorkspaceContext) (string, bool) {
	rawPath = strings.TrimSpace(rawPath)
	info, err := os.Stat(rawPath)
	if err != nil || !info.IsDir() {
		return "", false
	}
	repoType := ""
	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(rawPath, marker.file)); err == nil {
			repoType = marker.repoType
			break
		}
	}
	names, err := os.ReadDir(rawPath)
	if err == nil {
		for _, entry := range names {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if entry.IsDir() {
				wc.DirCount++
			} else {
				wc.FileCount++
			}
		}
		wc.ProjectStructure = structureFor(names)
	}
	if repoType == "" {
		return "", false
	}
	return repoType, true
}

func structureFor(entries []os.DirEntry) string {
	dirs := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			dirs[entry.Name()] = true
		}
	}
	switch {
	case dirs["cmd"] && dirs["internal"]:
		return "go-standard"
	case dirs["src"] && dirs["test"], dirs["src"] && dirs["tests"]:
		return "src-test"
	case dirs["src"]:
		return "src-rooted"
	case dirs["packages"], dirs["apps"]:
		return "monorepo"
	case len(dirs) == 0:
		return "flat"
	default:
		return "mixed"
	}
}

// analyzeStore derives the repo type from the file extensions observed
// in the workspace's edit history.
func (a *Analyzer) analyzeStore(ctx context.Context, key string, wc *model.WorkspaceContext) (string, error) {
	now := time.Now().UnixMilli()
	entries, err := a.store.EntriesInRange(ctx, 0, now+1, key, activityScanLimit)
	if err != nil {
		return "", err
	}
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	votes := make(map[string]int)
	for _, entry := range entries {
		if entry.FilePath == "" {
			continue
		}
		files[entry.FilePath] = struct{}{}
		dirs[path.Dir(entry.FilePath)] = struct{}{}
		if repoType, ok := repoTypeByExt[strings.ToLower(path.Ext(entry.FilePath))]; ok {
			votes[repoType]++
		}
	}
	wc.FileCount = len(files)
	wc.DirCount = len(dirs)

	best, bestCount := "", 0
	types := make([]string, 0, len(votes))
	for repoType := range votes {
		types = append(types, repoType)
	}
	sort.Strings(types)
	for _, repoType := range types {
		if votes[repoType] > bestCount {
			best, bestCount = repoType, votes[repoType]
		}
	}
	return best, nil
}

func (a *Analyzer) activityLevel(ctx context.Context, key string) (string, error) {
	now := time.Now().UnixMilli()
	weekAgo := now - 7*24*time.Hour.Milliseconds()
	recent, err := a.store.EntriesInRange(ctx, weekAgo, now+1, key, activityScanLimit)
	if err != nil {
		return "", err
	}
	switch {
	case len(recent) >= 200:
		return "high", nil
	case len(recent) >= 20:
		return "medium", nil
	case len(recent) > 0:
		return "low", nil
	default:
		return "idle", nil
	}
}

func sizeBucket(files int) string {
	switch {
	case files < 20:
		return "small"
	case files < 200:
		return "medium"
	default:
		return "large"
	}
}

// Invalidate evicts one workspace from the cache.
func (a *Analyzer) Invalidate(workspacePath string) {
	a.cache.Remove(model.NormalizeWorkspace(workspacePath))
}
