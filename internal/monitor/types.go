// Package monitor defines core types shared across subsystems.
package monitor

import "time"

// RunType distinguishes the daily and weekly monitoring cadences.
type RunType string

// Run cadences. The run type participates in finding dedup keys, so a
// daily and a weekly run observing the same change produce distinct findings.
const (
	RunTypeDaily  RunType = "daily"
	RunTypeWeekly RunType = "weekly"
)

// Kind identifies what an artifact is a snapshot of. The set is closed:
// normalization and severity rules dispatch on it through lookup tables.
type Kind string

// Artifact kinds.
const (
	KindRobotsTxt         Kind = "robots_txt"
	KindSitemap           Kind = "sitemap"
	KindPageStatus        Kind = "page_status"
	KindKeyPageTitle      Kind = "key_page_title"
	KindKeyPageCanonical  Kind = "key_page_canonical"
	KindKeyPageMetaRobots Kind = "key_page_meta_robots"
	KindPSIMetric         Kind = "psi_metric"
)

// Severity ranks how urgent a finding is.
type Severity string

// Severity levels, most urgent first.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ErrorClass categorizes the outcome of a fetch attempt.
type ErrorClass string

// Fetch outcome classes. Timeout, connection and http_5xx are retried
// inside the fetch client; http_429 is never retried there because the
// cooldown state it needs lives in the scheduler. ErrClassNone is the
// zero value, so a FetchResult built from just a status code reads as a
// clean fetch.
const (
	ErrClassNone       ErrorClass = ""
	ErrClassTimeout    ErrorClass = "timeout"
	ErrClassDNS        ErrorClass = "dns"
	ErrClassConnection ErrorClass = "connection"
	ErrClassHTTP4xx    ErrorClass = "http_4xx"
	ErrClassHTTP429    ErrorClass = "http_429"
	ErrClassHTTP5xx    ErrorClass = "http_5xx"
)

// Thresholds carries per-customer tuning knobs set during onboarding.
type Thresholds struct {
	// SitemapShrinkFraction: a sitemap URL count dropping below this
	// fraction of its prior value is a critical finding. Zero means
	// "use the configured default".
	SitemapShrinkFraction float64 `json:"sitemap_shrink_fraction"`
	// PSIRegressionDelta: minimum score drop treated as a regression.
	PSIRegressionDelta float64 `json:"psi_regression_delta"`
}

// Customer is a monitored account, owned by the admin subsystem and
// read-only here. Only status "active" customers are processed.
type Customer struct {
	ID         string
	Status     string
	SitemapURL string
	Thresholds Thresholds
}

// Target is a URL to monitor for one customer. Key targets additionally
// get their title, canonical and meta-robots tracked.
type Target struct {
	CustomerID string
	URL        string
	IsKey      bool
}

// Artifact is the latest known snapshot of one observable thing, unique
// per (customer, kind, subject). ContentHash is always the hash of the
// normalized form of RawContent so cosmetic differences never change it.
type Artifact struct {
	CustomerID  string
	Kind        Kind
	Subject     string
	ContentHash string
	RawContent  string
	// URLCount is the full distinct URL count behind a sitemap snapshot.
	// The stored sample is capped, so shrink detection needs the real
	// total. Zero for every other kind.
	URLCount  int
	FetchedAt time.Time
}

// FetchResult is the classified outcome of one fetch.
type FetchResult struct {
	StatusCode int
	FinalURL   string
	Body       []byte
	ErrorClass ErrorClass
	Err        error
}

// OK reports whether the fetch produced a usable 2xx body.
func (r FetchResult) OK() bool {
	return r.ErrorClass == ErrClassNone && r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchTask is a unit of scheduling work, held in per-customer queues for
// the duration of one run. Attempts counts 429 requeues by the scheduler.
type FetchTask struct {
	CustomerID string
	URL        string
	Domain     string
	Kind       Kind
	IsKey      bool
	Attempts   int
}

// Finding is a customer-visible, severity-tagged detected change.
// Findings are append-only; the unique dedupe key makes reruns idempotent.
type Finding struct {
	CustomerID  string
	RunID       string
	RunType     RunType
	Category    string
	Severity    Severity
	Subject     string
	DiffSummary string
	DedupeKey   string
	CreatedAt   time.Time
}

// Coverage records what one run attempted for one customer and how it
// went, independent of whether anything noteworthy was found.
type Coverage struct {
	RunID        string
	CustomerID   string
	RunType      RunType
	SitemapURL   string
	TotalURLs    int
	SampledURLs  int
	SuccessCount int
	ErrorCount   int
	HTTP429Count int
	HTTP404Count int
}

// ConfirmationRecord holds a flaky numeric regression that has been seen
// once and is waiting for the next run to confirm or discard it.
type ConfirmationRecord struct {
	CustomerID     string
	MetricKey      string
	ObservedValue  float64
	FirstSeenRunID string
	Confirmed      bool
}

// MetricObservation is one numeric signal reported by an external metric
// source (for example PageSpeed Insights) for a customer.
type MetricObservation struct {
	CustomerID string
	MetricKey  string
	Value      float64
}
