// Package severity maps detected changes to severities and deterministic
// dedupe keys.
package severity

import (
	"strings"

	"github.com/rankwatch/rankwatch/internal/monitor"
	"github.com/rankwatch/rankwatch/internal/normalize"
)

// Finding categories. Stable strings: they participate in dedupe keys, so
// renaming one would re-alert every customer it applies to.
const (
	CategoryRobotsDisallowAll  = "robots_disallow_all"
	CategoryRobotsNewDisallow  = "robots_new_disallow"
	CategoryRobotsChanged      = "robots_changed"
	CategorySitemapShrunk      = "sitemap_shrunk"
	CategorySitemapChanged     = "sitemap_changed"
	CategorySitemapUnreachable = "sitemap_unreachable"
	CategorySitemapUnusable    = "sitemap_unusable"
	CategoryPageUnavailable    = "page_unavailable"
	CategoryPageRecovered      = "page_recovered"
	CategoryPageStatusChanged  = "page_status_changed"
	CategoryTitleChanged       = "title_changed"
	CategoryCanonicalChanged   = "canonical_changed"
	CategoryNoindexAdded       = "noindex_added"
	CategoryMetaRobotsChanged  = "meta_robots_changed"
	CategoryPSIRegression      = "psi_regression"
)

// Change is a detected difference between the stored and the freshly
// observed normalized content for one (customer, kind, subject).
type Change struct {
	CustomerID string
	Kind       monitor.Kind
	Subject    string
	Old        string
	New        string
	// OldCount/NewCount carry the full distinct URL totals for sitemap
	// changes. The normalized content is a capped sample, so line counts
	// understate real shrinkage on large sites.
	OldCount   int
	NewCount   int
	Thresholds monitor.Thresholds
}

// Verdict is the classification of a change.
type Verdict struct {
	Severity monitor.Severity
	Category string
}

// Engine applies the fixed rule table and computes dedupe keys.
type Engine struct {
	shrinkFraction float64
	hasher         monitor.Hasher
}

// NewEngine builds an Engine. shrinkFraction is the default sitemap
// shrink threshold for customers without their own.
func NewEngine(shrinkFraction float64, hasher monitor.Hasher) *Engine {
	if shrinkFraction <= 0 || shrinkFraction >= 1 {
		shrinkFraction = 0.5
	}
	return &Engine{
		shrinkFraction: shrinkFraction,
		hasher:         hasher,
	}
}

// The kind set is closed; rules dispatch through a lookup table.
var rules = map[monitor.Kind]func(*Engine, Change) Verdict{
	monitor.KindRobotsTxt:         (*Engine).classifyRobots,
	monitor.KindSitemap:           (*Engine).classifySitemap,
	monitor.KindPageStatus:        (*Engine).classifyPageStatus,
	monitor.KindKeyPageTitle:      (*Engine).classifyTitle,
	monitor.KindKeyPageCanonical:  (*Engine).classifyCanonical,
	monitor.KindKeyPageMetaRobots: (*Engine).classifyMetaRobots,
	monitor.KindPSIMetric:         (*Engine).classifyPSI,
}

// Classify maps a change to a severity and category via the rule table.
func (e *Engine) Classify(ch Change) Verdict {
	if rule, ok := rules[ch.Kind]; ok {
		return rule(e, ch)
	}
	return Verdict{Severity: monitor.SeverityInfo, Category: string(ch.Kind) + "_changed"}
}

// DedupeKey derives the deterministic identifier that scopes finding
// idempotency to (customer, run type, category, subject, period).
func (e *Engine) DedupeKey(customerID string, runType monitor.RunType, category, subject, period string) string {
	parts := strings.Join([]string{customerID, string(runType), category, subject, period}, "|")
	key, err := e.hasher.Hash([]byte(parts))
	if err != nil {
		// SHA-256 over a byte slice cannot fail; keep the raw key usable anyway.
		return parts
	}
	return key
}

func (e *Engine) classifyRobots(ch Change) Verdict {
	oldRules := ruleSet(normalize.DisallowRules(ch.Old))
	var added []string
	for _, rule := range normalize.DisallowRules(ch.New) {
		if _, ok := oldRules[rule]; !ok {
			added = append(added, rule)
		}
	}
	for _, rule := range added {
		if rule == "/" {
			return Verdict{Severity: monitor.SeverityCritical, Category: CategoryRobotsDisallowAll}
		}
	}
	if len(added) > 0 {
		return Verdict{Severity: monitor.SeverityWarning, Category: CategoryRobotsNewDisallow}
	}
	return Verdict{Severity: monitor.SeverityInfo, Category: CategoryRobotsChanged}
}

func (e *Engine) classifySitemap(ch Change) Verdict {
	oldCount, newCount := ch.OldCount, ch.NewCount
	if oldCount == 0 {
		// Snapshots from before totals were stored: fall back to the
		// sample line counts.
		oldCount = normalize.LineCount(ch.Old)
		newCount = normalize.LineCount(ch.New)
	}
	fraction := ch.Thresholds.SitemapShrinkFraction
	if fraction <= 0 || fraction >= 1 {
		fraction = e.shrinkFraction
	}
	if oldCount > 0 && float64(newCount) < fraction*float64(oldCount) {
		return Verdict{Severity: monitor.SeverityCritical, Category: CategorySitemapShrunk}
	}
	return Verdict{Severity: monitor.SeverityInfo, Category: CategorySitemapChanged}
}

func (e *Engine) classifyPageStatus(ch Change) Verdict {
	switch {
	case ch.New == "not_found" || ch.New == "gone":
		return Verdict{Severity: monitor.SeverityCritical, Category: CategoryPageUnavailable}
	case ch.New == "ok":
		return Verdict{Severity: monitor.SeverityInfo, Category: CategoryPageRecovered}
	default:
		return Verdict{Severity: monitor.SeverityWarning, Category: CategoryPageStatusChanged}
	}
}

func (e *Engine) classifyTitle(Change) Verdict {
	return Verdict{Severity: monitor.SeverityWarning, Category: CategoryTitleChanged}
}

func (e *Engine) classifyCanonical(Change) Verdict {
	return Verdict{Severity: monitor.SeverityWarning, Category: CategoryCanonicalChanged}
}

func (e *Engine) classifyMetaRobots(ch Change) Verdict {
	if strings.Contains(ch.New, "noindex") && !strings.Contains(ch.Old, "noindex") {
		return Verdict{Severity: monitor.SeverityCritical, Category: CategoryNoindexAdded}
	}
	return Verdict{Severity: monitor.SeverityWarning, Category: CategoryMetaRobotsChanged}
}

func (e *Engine) classifyPSI(Change) Verdict {
	return Verdict{Severity: monitor.SeverityWarning, Category: CategoryPSIRegression}
}

func ruleSet(rules []string) map[string]struct{} {
	set := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		set[r] = struct{}{}
	}
	return set
}
