// File path: internal/cluster/privacy.go
package cluster

import "fmt"

// Thresholds gate which clusters are safe to expose. Zero values take
// the defaults.
type Thresholds struct {
	MinConversations  int
	MinUsers          int
	MinWorkspaces     int
	MaxWorkspaceShare float64
	MinPrivacyScore   int
}

func (t *Thresholds) applyDefaults() {
	if t.MinConversations <= 0 {
		t.MinConversations = 100
	}
	if t.MinUsers <= 0 {
		t.MinUsers = 10
	}
	if t.MinWorkspaces <= 0 {
		t.MinWorkspaces = 3
	}
	if t.MaxWorkspaceShare <= 0 {
		t.MaxWorkspaceShare = 0.5
	}
	if t.MinPrivacyScore <= 0 {
		t.MinPrivacyScore = 3
	}
}

// Violation names one failed privacy check.
type Violation struct {
	Cluster string `json:"cluster"`
	Check   string `json:"check"`
	Detail  string `json:"detail"`
}

// Validation summarizes a privacy filtering pass.
type Validation struct {
	Summary    string      `json:"summary"`
	Violations []Violation `json:"violations"`
}

// FilterResult splits clusters into the ones safe to expose and the
// rest.
type FilterResult struct {
	Valid      []Cluster  `json:"valid"`
	Invalid    []Cluster  `json:"invalid"`
	Validation Validation `json:"validation"`
}

// PrivacyScore is computed deterministically from cluster composition
// on a 1..5 scale: diversity across workspaces and users raises it,
// concentration lowers it.
func PrivacyScore(c Cluster) int {
	score := 1
	if c.UniqueWorkspaces() >= 3 {
		score++
	}
	if c.UniqueUsers() >= 10 {
		score++
	}
	if c.LargestWorkspaceShare() <= 0.5 {
		score++
	}
	if c.Conversations() >= 100 {
		score++
	}
	return score
}

func validate(c Cluster, t Thresholds) []Violation {
	var violations []Violation
	add := func(check, format string, args ...interface{}) {
		violations = append(violations, Violation{Cluster: c.ID, Check: check, Detail: fmt.Sprintf(format, args...)})
	}
	if n := c.Conversations(); n < t.MinConversations {
		add("insufficient_conversations", "%d < %d", n, t.MinConversations)
	}
	if n := c.UniqueUsers(); n < t.MinUsers {
		add("insufficient_users", "%d < %d", n, t.MinUsers)
	}
	if n := c.UniqueWorkspaces(); n < t.MinWorkspaces {
		add("insufficient_workspaces", "%d < %d", n, t.MinWorkspaces)
	}
	if share := c.LargestWorkspaceShare(); share > t.MaxWorkspaceShare {
		add("workspace_concentration", "%.2f > %.2f", share, t.MaxWorkspaceShare)
	}
	if score := PrivacyScore(c); score < t.MinPrivacyScore {
		add("low_privacy_score", "%d < %d", score, t.MinPrivacyScore)
	}
	return violations
}

// Filter applies every threshold to every cluster. Callers in strict
// mode drop the invalid set; otherwise they may keep clusters whose
// only violations are low severity.
func Filter(clusters []Cluster, t Thresholds) FilterResult {
	t.applyDefaults()
	result := FilterResult{}
	for _, c := range clusters {
		violations := validate(c, t)
		if len(violations) == 0 {
			result.Valid = append(result.Valid, c)
			continue
		}
		result.Invalid = append(result.Invalid, c)
		result.Validation.Violations = append(result.Validation.Violations, violations...)
	}
	result.Validation.Summary = fmt.Sprintf("%d valid, %d invalid of %d clusters", len(result.Valid), len(result.Invalid), len(clusters))
	return result
}
