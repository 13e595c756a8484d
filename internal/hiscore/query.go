package hiscore

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MinIDPrefix is the shortest fingerprint prefix accepted by Resolve.
const MinIDPrefix = 6

// Criteria selects entries of a list. All set criteria must match.
type Criteria struct {
	SinceMs      int64   // 0 = no lower bound on CreatedAtMs
	UntilMs      int64   // 0 = no upper bound on CreatedAtMs
	Worker       int     // -1 = any worker
	MinZ         float64 // 0 = any Z
	AnalysisGlob string  // glob over combined analysis ids, empty = any
}

// AnyCriteria matches every entry.
func AnyCriteria() Criteria {
	return Criteria{Worker: -1}
}

// Matches reports whether e satisfies c.
func (c Criteria) Matches(e Entry) bool {
	if c.SinceMs > 0 && e.CreatedAtMs < c.SinceMs {
		return false
	}
	if c.UntilMs > 0 && e.CreatedAtMs > c.UntilMs {
		return false
	}
	if c.Worker >= 0 && e.Worker != c.Worker {
		return false
	}
	if c.MinZ > 0 && e.Z < c.MinZ {
		return false
	}
	if c.AnalysisGlob != "" {
		if e.Combination == nil {
			return false
		}
		found := false
		for _, id := range e.Combination.AnalysisIDs() {
			if ok, err := filepath.Match(c.AnalysisGlob, id); err == nil && ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Select returns the entries matching c, keeping their order.
func (c Criteria) Select(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if c.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// ParseTime parses a duration before now ("1h30m") or an RFC3339
// timestamp into Unix milliseconds.
func ParseTime(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2026-01-02T15:04:05Z')", value)
}

// ParseTimeRange parses the --since and --until flags. Empty flags leave
// that end open.
func ParseTimeRange(since, until string) (int64, int64, error) {
	var sinceMs, untilMs int64
	var err error
	if since != "" {
		if sinceMs, err = ParseTime(since); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMs, err = ParseTime(until); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMs, untilMs, nil
}

// NotFoundError is returned when no entry has the requested fingerprint prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no model with id '%s'", e.Prefix)
}

// AmbiguousError is returned when several distinct models share the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("id '%s' matches %d models", e.Prefix, len(e.Matches))
}

// Describe lists up to ten of the matching fingerprints for display.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	n := len(e.Matches)
	if n > 10 {
		n = 10
	}
	for _, m := range e.Matches[:n] {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(e.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-10)
	}
	return b.String()
}

// Resolve finds the entry whose fingerprint starts with prefix. A full
// fingerprint may appear in both lists of a file; the first occurrence wins.
func Resolve(entries []Entry, prefix string) (*Entry, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < MinIDPrefix {
		return nil, fmt.Errorf("id prefix '%s' is too short (minimum %d characters)", prefix, MinIDPrefix)
	}

	var match *Entry
	var fingerprints []string
	seen := make(map[string]bool)
	for i := range entries {
		fp := entries[i].Fingerprint
		if !strings.HasPrefix(fp, prefix) || seen[fp] {
			continue
		}
		seen[fp] = true
		fingerprints = append(fingerprints, fp)
		if match == nil {
			match = &entries[i]
		}
	}

	switch len(fingerprints) {
	case 0:
		return nil, &NotFoundError{Prefix: prefix}
	case 1:
		return match, nil
	default:
		return nil, &AmbiguousError{Prefix: prefix, Matches: fingerprints}
	}
}
