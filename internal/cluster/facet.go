// File path: internal/cluster/facet.go
package cluster

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/devtrail/devtrail/internal/model"
)

// Item is one clusterable record: a prompt projected down to the
// fields the pipeline needs. UserID is an opaque session token, never
// an identity.
type Item struct {
	ID             string
	ConversationID string
	UserID         string
	Workspace      string
	Timestamp      int64
	Text           string
	FilePaths      []string
}

// Facet is the per-item feature record driving clustering.
type Facet struct {
	Topic               string   `json:"topic"`
	TaskType            string   `json:"task_type"`
	Language            string   `json:"language"`
	Complexity          string   `json:"complexity"`
	SafetyFlags         []string `json:"safety_flags,omitempty"`
	RepositoryType      string   `json:"repository_type"`
	ProjectStructure    string   `json:"project_structure"`
	WorkspaceSize       string   `json:"workspace_size"`
	WorkspaceComplexity string   `json:"workspace_complexity"`
}

// values flattens the facet for Jaccard comparison.
func (f Facet) values() []string {
	return []string{
		"topic:" + f.Topic,
		"task:" + f.TaskType,
		"lang:" + f.Language,
		"complexity:" + f.Complexity,
		"repo:" + f.RepositoryType,
		"size:" + f.WorkspaceSize,
	}
}

var taskKeywords = []struct {
	taskType string
	words    []string
}{
	{"bugfix", []string{"fix", "bug", "error", "crash", "broken", "issue"}},
	{"refactor", []string{"refactor", "rename", "restructure", "clean up", "cleanup", "simplify"}},
	{"testing", []string{"test", "coverage", "mock", "assert"}},
	{"docs", []string{"document", "readme", "comment", "explain"}},
	{"feature", []string{"add", "implement", "create", "build", "support", "new"}},
}

var safetyPatterns = map[string]*regexp.Regexp{
	"credentials": regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_ ]?key|token|credential)\b`),
	"pii":         regexp.MustCompile(`(?i)\b(ssn|social security|credit card|passport)\b`),
	"email":       regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`),
}

var langNames = map[string]string{
	".js": "javascript", ".jsx": "javascript", ".ts": "typescript", ".tsx": "typescript",
	".py": "python", ".go": "go", ".rs": "rust", ".java": "java",
	".rb": "ruby", ".php": "php", ".c": "c", ".cpp": "cpp", ".swift": "swift", ".kt": "kotlin",
}

// HeuristicFacet is the deterministic extractor used when no LLM
// capability is available (and the baseline the LLM path falls back
// to).
func HeuristicFacet(item Item, wc model.WorkspaceContext) Facet {
	text := strings.ToLower(item.Text)
	facet := Facet{
		Topic:               topicOf(text),
		TaskType:            "general",
		Language:            languageOf(item.FilePaths),
		Complexity:          complexityOf(item.Text),
		RepositoryType:      wc.RepoType,
		ProjectStructure:    wc.ProjectStructure,
		WorkspaceSize:       wc.SizeBucket,
		WorkspaceComplexity: wc.ActivityLevel,
	}
	for _, candidate := range taskKeywords {
		for _, word := range candidate.words {
			if strings.Contains(text, word) {
				facet.TaskType = candidate.taskType
				break
			}
		}
		if facet.TaskType != "general" {
			break
		}
	}
	for flag, pattern := range safetyPatterns {
		if pattern.MatchString(item.Text) {
			facet.SafetyFlags = append(facet.SafetyFlags, flag)
		}
	}
	sort.Strings(facet.SafetyFlags)
	return facet
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "in": true, "of": true,
	"and": true, "for": true, "with": true, "this": true, "that": true,
	"please": true, "can": true, "you": true, "me": true, "my": true, "it": true,
}

// topicOf picks the most frequent non-stopword.
func topicOf(text string) string {
	counts := make(map[string]int)
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		counts[word]++
	}
	best, bestCount := "general", 0
	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Strings(words)
	for _, word := range words {
		if counts[word] > bestCount {
			best, bestCount = word, counts[word]
		}
	}
	return best
}

func languageOf(files []string) string {
	counts := make(map[string]int)
	for _, file := range files {
		if lang, ok := langNames[strings.ToLower(path.Ext(file))]; ok {
			counts[lang]++
		}
	}
	best, bestCount := "unknown", 0
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	return best
}

func complexityOf(text string) string {
	switch n := len(strings.Fields(text)); {
	case n < 15:
		return "simple"
	case n < 60:
		return "moderate"
	default:
		return "complex"
	}
}

// jaccard measures facet-value overlap between two items.
func jaccard(a, b Facet) float64 {
	set := make(map[string]int)
	for _, v := range a.values() {
		set[v] |= 1
	}
	for _, v := range b.values() {
		set[v] |= 2
	}
	var union, intersection int
	for _, mask := range set {
		union++
		if mask == 3 {
			intersection++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
