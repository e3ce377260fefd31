// File path: internal/export/abstract.go
package export

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Pattern is one aggregated activity shape extracted at abstraction
// level 3. Patterns carry counts only, never record text.
type Pattern struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Count int    `json:"count"`
}

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer)\s*[:=]\s*\S+`)
	longDigits    = regexp.MustCompile(`\b\d{9,}\b`)
	homeDir       = regexp.MustCompile(`(?i)(/users/|/home/|c:\\users\\)[^/\\\s]+`)
)

// redactPII scrubs obvious identifiers from free text. Level 1 and up.
func redactPII(text string) string {
	if text == "" {
		return ""
	}
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = secretPattern.ReplaceAllString(text, "$1=[redacted]")
	text = longDigits.ReplaceAllString(text, "[number]")
	text = homeDir.ReplaceAllString(text, "$1[user]")
	return text
}

// abstractPrompt replaces prompt text with a shape summary. Level 2 and
// up, or the abstract_prompts flag.
func abstractPrompt(text string) string {
	words := len(strings.Fields(text))
	task := "general"
	lower := strings.ToLower(text)
	for _, kw := range []struct{ name, match string }{
		{"bugfix", "fix"},
		{"bugfix", "bug"},
		{"refactor", "refactor"},
		{"testing", "test"},
		{"docs", "document"},
		{"feature", "add"},
		{"feature", "implement"},
	} {
		if strings.Contains(lower, kw.match) {
			task = kw.name
			break
		}
	}
	return fmt.Sprintf("[abstracted] %s request, %d words", task, words)
}

// applyAbstraction rewrites the dataset in place according to the
// requested level. Level 0 leaves everything untouched.
func applyAbstraction(ds *dataset, opts Options) {
	if opts.AbstractionLevel < 1 && !opts.AbstractPrompts {
		return
	}
	if opts.AbstractionLevel >= 1 {
		for i := range ds.prompts {
			ds.prompts[i].Text = redactPII(ds.prompts[i].Text)
		}
		for i := range ds.entries {
			ds.entries[i].Notes = redactPII(ds.entries[i].Notes)
		}
		for i := range ds.terminals {
			ds.terminals[i].Command = redactPII(ds.terminals[i].Command)
			ds.terminals[i].Output = redactPII(ds.terminals[i].Output)
			ds.terminals[i].Error = redactPII(ds.terminals[i].Error)
		}
	}
	if opts.AbstractPrompts {
		for i := range ds.prompts {
			ds.prompts[i].Text = abstractPrompt(ds.prompts[i].Text)
		}
	}
}

// extractPatterns aggregates the dataset into counted shapes: file
// extensions touched, command heads run, prompt roles seen.
func extractPatterns(ds *dataset) []Pattern {
	counts := make(map[string]map[string]int)
	bump := func(kind, value string) {
		if value == "" {
			return
		}
		if counts[kind] == nil {
			counts[kind] = make(map[string]int)
		}
		counts[kind][value]++
	}
	for _, entry := range ds.entries {
		if ext := strings.TrimPrefix(path.Ext(entry.FilePath), "."); ext != "" {
			bump("file_extension", ext)
		}
		bump("change_type", entry.Type)
	}
	for _, cmd := range ds.terminals {
		fields := strings.Fields(cmd.Command)
		if len(fields) > 0 {
			bump("command", fields[0])
		}
	}
	for _, prompt := range ds.prompts {
		bump("prompt_role", prompt.MessageRole)
	}
	patterns := []Pattern{}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		values := make([]string, 0, len(counts[kind]))
		for value := range counts[kind] {
			values = append(values, value)
		}
		sort.Strings(values)
		for _, value := range values {
			patterns = append(patterns, Pattern{Kind: kind, Value: value, Count: counts[kind][value]})
		}
	}
	return patterns
}
