// File path: internal/export/options.go
package export

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultStreamThreshold switches an export to streaming once the
// total item count crosses it.
const DefaultStreamThreshold = 5000

// Options controls one export run.
type Options struct {
	Limit int   `json:"limit,omitempty"`
	Since int64 `json:"since,omitempty"`
	Until int64 `json:"until,omitempty"`

	ExcludeEvents   bool `json:"exclude_events,omitempty"`
	ExcludePrompts  bool `json:"exclude_prompts,omitempty"`
	ExcludeTerminal bool `json:"exclude_terminal,omitempty"`
	ExcludeContext  bool `json:"exclude_context,omitempty"`

	NoCodeDiffs      bool `json:"no_code_diffs,omitempty"`
	NoLinkedData     bool `json:"no_linked_data,omitempty"`
	NoTemporalChunks bool `json:"no_temporal_chunks,omitempty"`

	// AbstractionLevel 0 is raw; 1 redacts PII, 2 additionally
	// abstracts prompt text, 3 additionally extracts patterns.
	AbstractionLevel int  `json:"abstraction_level,omitempty"`
	AbstractPrompts  bool `json:"abstract_prompts,omitempty"`
	ExtractPatterns  bool `json:"extract_patterns,omitempty"`

	Stream          bool `json:"stream,omitempty"`
	StreamThreshold int  `json:"stream_threshold,omitempty"`
}

func (o *Options) applyDefaults() {
	if o.StreamThreshold <= 0 {
		o.StreamThreshold = DefaultStreamThreshold
	}
	if o.Until <= 0 {
		o.Until = int64(1) << 62
	}
	if o.AbstractionLevel >= 2 {
		o.AbstractPrompts = true
	}
	if o.AbstractionLevel >= 3 {
		o.ExtractPatterns = true
	}
}

// ParseOptions reads export options from query parameters.
func ParseOptions(values url.Values) (Options, error) {
	var opts Options
	var err error
	if opts.Limit, err = intParam(values, "limit"); err != nil {
		return opts, err
	}
	if opts.Since, err = timeParam(values, "since", false); err != nil {
		return opts, err
	}
	if opts.Until, err = timeParam(values, "until", true); err != nil {
		return opts, err
	}
	opts.ExcludeEvents = boolParam(values, "exclude_events")
	opts.ExcludePrompts = boolParam(values, "exclude_prompts")
	opts.ExcludeTerminal = boolParam(values, "exclude_terminal")
	opts.ExcludeContext = boolParam(values, "exclude_context")
	opts.NoCodeDiffs = boolParam(values, "no_code_diffs")
	opts.NoLinkedData = boolParam(values, "no_linked_data")
	opts.NoTemporalChunks = boolParam(values, "no_temporal_chunks")
	opts.AbstractPrompts = boolParam(values, "abstract_prompts")
	opts.ExtractPatterns = boolParam(values, "extract_patterns")
	opts.Stream = boolParam(values, "stream")
	if opts.StreamThreshold, err = intParam(values, "stream_threshold"); err != nil {
		return opts, err
	}
	if raw := strings.TrimSpace(values.Get("abstraction_level")); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil || level < 0 || level > 3 {
			return opts, fmt.Errorf("invalid abstraction_level %q", raw)
		}
		opts.AbstractionLevel = level
	}
	return opts, nil
}

func intParam(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

func boolParam(values url.Values, key string) bool {
	switch strings.ToLower(strings.TrimSpace(values.Get(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// timeParam accepts a millisecond epoch or an ISO date. A date with no
// time component means start-of-day for since and end-of-day for
// until.
func timeParam(values url.Values, key string, endOfDay bool) (int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	return ParseTimeBound(raw, endOfDay)
}

func ParseTimeBound(raw string, endOfDay bool) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms < 1e11 {
			ms *= 1000
		}
		return ms, nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			return day.Add(24*time.Hour - time.Millisecond).UnixMilli(), nil
		}
		return day.UnixMilli(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unparseable time bound %q", raw)
}
