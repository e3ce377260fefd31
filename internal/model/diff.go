// File path: internal/model/diff.go
package model

import "strings"

// ComputeDiffStats derives line and character deltas from the before/after
// payloads of an entry. The result depends only on the two inputs.
func ComputeDiffStats(before, after string) DiffStats {
	if before == after {
		return DiffStats{}
	}
	beforeLines := splitLines(before)
	afterLines := splitLines(after)

	beforeSet := make(map[string]int, len(beforeLines))
	for _, line := range beforeLines {
		beforeSet[line]++
	}
	afterSet := make(map[string]int, len(afterLines))
	for _, line := range afterLines {
		afterSet[line]++
	}

	stats := DiffStats{HasDiff: true}
	for line, count := range afterSet {
		if extra := count - beforeSet[line]; extra > 0 {
			stats.LinesAdded += extra
		}
	}
	for line, count := range beforeSet {
		if missing := count - afterSet[line]; missing > 0 {
			stats.LinesRemoved += missing
		}
	}
	if delta := len(after) - len(before); delta > 0 {
		stats.CharsAdded = delta
	} else {
		stats.CharsRemoved = -delta
	}
	return stats
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}

// LineCount reports the number of lines in a code payload. Used for the
// module-graph node size buckets.
func LineCount(code string) int {
	if code == "" {
		return 0
	}
	return len(splitLines(code))
}
