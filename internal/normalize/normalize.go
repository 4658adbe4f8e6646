// Package normalize canonicalizes fetched content per artifact kind so
// cosmetic differences (comments, whitespace, ordering) never change the
// content hash, and produces human-readable diff summaries when the
// canonical form does change.
package normalize

import (
	"sort"
	"strings"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Func canonicalizes raw content for one artifact kind.
type Func func(raw string) string

// The kind set is closed, so dispatch is a lookup table rather than
// open-ended polymorphism.
var normalizers = map[monitor.Kind]Func{
	monitor.KindRobotsTxt:         Robots,
	monitor.KindSitemap:           URLSet,
	monitor.KindPageStatus:        Scalar,
	monitor.KindKeyPageTitle:      Scalar,
	monitor.KindKeyPageCanonical:  Scalar,
	monitor.KindKeyPageMetaRobots: LowerScalar,
	monitor.KindPSIMetric:         Scalar,
}

// ForKind returns the normalizer for a kind, falling back to Scalar.
func ForKind(kind monitor.Kind) Func {
	if fn, ok := normalizers[kind]; ok {
		return fn
	}
	return Scalar
}

// Robots canonicalizes robots.txt rules: comments and blank lines are
// stripped, directive names lowercased, and whitespace collapsed, without
// reordering directives (order is meaningful in robots.txt).
func Robots(raw string) string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			out = append(out, strings.ToLower(strings.TrimSpace(name))+": "+collapseSpaces(strings.TrimSpace(value)))
			continue
		}
		out = append(out, collapseSpaces(line))
	}
	return strings.Join(out, "\n")
}

// URLSet canonicalizes a newline-separated URL list as an unordered set:
// reordering alone produces no diff.
func URLSet(raw string) string {
	seen := make(map[string]struct{})
	var urls []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		urls = append(urls, line)
	}
	sort.Strings(urls)
	return strings.Join(urls, "\n")
}

// Scalar trims and collapses whitespace in a single-value snapshot.
func Scalar(raw string) string {
	return collapseSpaces(strings.TrimSpace(raw))
}

// LowerScalar is Scalar plus lowercasing, for values that are
// case-insensitive by specification (meta robots directives).
func LowerScalar(raw string) string {
	return strings.ToLower(Scalar(raw))
}

// DisallowRules extracts the Disallow values from normalized robots
// content. Empty Disallow lines (which allow everything) are skipped.
func DisallowRules(normalized string) []string {
	var rules []string
	for _, line := range strings.Split(normalized, "\n") {
		value, ok := strings.CutPrefix(line, "disallow:")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value != "" {
			rules = append(rules, value)
		}
	}
	return rules
}

// LineCount returns the number of non-empty lines in normalized content.
func LineCount(normalized string) int {
	if normalized == "" {
		return 0
	}
	return len(strings.Split(normalized, "\n"))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
