// Package run orchestrates one monitoring run: customer preparation,
// scheduled fetching, change detection, and reporting.
package run

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/backoff"
	"github.com/rankwatch/rankwatch/internal/confirm"
	"github.com/rankwatch/rankwatch/internal/coverage"
	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/monitor"
	"github.com/rankwatch/rankwatch/internal/normalize"
	"github.com/rankwatch/rankwatch/internal/scheduler"
	"github.com/rankwatch/rankwatch/internal/severity"
	"github.com/rankwatch/rankwatch/internal/sitemap"
)

// Options wires a Runner. Store, Fetcher, Hasher, Clock and IDs are
// required; Blobs, Publisher and Metrics are optional integrations.
type Options struct {
	Store     monitor.Store
	Fetcher   monitor.Fetcher
	Hasher    monitor.Hasher
	Clock     monitor.Clock
	IDs       monitor.IDGenerator
	Blobs     monitor.BlobStore
	Publisher monitor.Publisher
	Metrics   monitor.MetricSource
	Logger    *zap.Logger

	RunType  monitor.RunType
	Deadline time.Duration

	SchedulerConfig scheduler.Config
	CooldownPolicy  backoff.Policy
	Domain429Limit  int

	SitemapMaxPages    int
	SitemapMaxChildren int

	SitemapShrinkFraction float64
	PSIRegressionDelta    float64

	Topic string
}

// Runner executes monitoring runs.
type Runner struct {
	opts     Options
	resolver *sitemap.Resolver
	sev      *severity.Engine
	confirm  *confirm.Engine
	logger   *zap.Logger
}

// Summary is the outcome of one run.
type Summary struct {
	RunID      string          `json:"run_id"`
	RunType    monitor.RunType `json:"run_type"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Customers  int             `json:"customers"`
	Tasks      int             `json:"tasks"`
	Findings   int             `json:"findings"`
	Errors     int             `json:"errors"`
}

// NewRunner validates options and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if opts.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if opts.RunType != monitor.RunTypeDaily && opts.RunType != monitor.RunTypeWeekly {
		return nil, fmt.Errorf("run type must be daily or weekly")
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Minute
	}
	if opts.PSIRegressionDelta <= 0 {
		opts.PSIRegressionDelta = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		opts:     opts,
		resolver: sitemap.NewResolver(opts.Fetcher, opts.SitemapMaxPages, opts.SitemapMaxChildren, logger.Named("sitemap")),
		sev:      severity.NewEngine(opts.SitemapShrinkFraction, opts.Hasher),
		confirm:  confirm.NewEngine(opts.Store, logger.Named("confirm")),
		logger:   logger,
	}, nil
}

// state is the per-run working set. A fresh one is built for every Run
// call so reruns and concurrent runs never share anything.
type state struct {
	runID    string
	period   string
	agg      *coverage.Aggregator
	prevRuns map[string]string
	byCust   map[string]monitor.Customer
	findings int
	errors   int
}

// Run executes one full monitoring run and returns its summary. Customer
// failures are counted and logged but never abort the run; the returned
// error covers only run-level failures (listing customers, flushing
// coverage).
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID, err := r.opts.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := r.opts.Clock.Now()

	st := &state{
		runID:    runID,
		period:   monitor.PeriodBucket(r.opts.RunType, started),
		agg:      coverage.NewAggregator(runID, r.opts.RunType),
		prevRuns: make(map[string]string),
		byCust:   make(map[string]monitor.Customer),
	}

	r.logger.Info("run starting",
		zap.String("run_id", runID),
		zap.String("run_type", string(r.opts.RunType)),
		zap.String("period", st.period),
	)

	customers, err := r.opts.Store.ListActiveCustomers(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list active customers: %w", err)
	}

	// Previous run IDs feed two-run confirmation and must be read before
	// this run writes its own coverage rows.
	for _, cust := range customers {
		st.byCust[cust.ID] = cust
		prev, err := r.opts.Store.LastRunID(ctx, cust.ID, r.opts.RunType)
		if err != nil {
			r.logger.Error("look up previous run", zap.String("customer_id", cust.ID), zap.Error(err))
			continue
		}
		st.prevRuns[cust.ID] = prev
	}

	// The fetch phase is bounded; persistence afterwards uses the caller's
	// context so a fetch deadline never corrupts bookkeeping.
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.Deadline)
	defer cancel()

	var tasks []monitor.FetchTask
	for _, cust := range customers {
		custTasks, err := r.prepare(fetchCtx, ctx, st, cust)
		if err != nil {
			r.logger.Error("customer preparation failed",
				zap.String("customer_id", cust.ID),
				zap.Error(err),
			)
			st.agg.RecordError(cust.ID)
			st.errors++
			continue
		}
		tasks = append(tasks, custTasks...)
	}

	// Initial coverage flush: even a run that dies mid-fetch leaves a
	// record of what it intended to check.
	if err := st.agg.Flush(ctx, r.opts.Store); err != nil {
		return Summary{}, fmt.Errorf("flush initial coverage: %w", err)
	}

	cooldowns := scheduler.NewCooldownTracker(r.opts.CooldownPolicy, r.opts.Domain429Limit)
	sched := scheduler.New(r.opts.Fetcher, cooldowns, r.opts.Clock, r.opts.SchedulerConfig, r.logger.Named("scheduler"))
	sched.SetRateLimitObserver(func(task monitor.FetchTask) {
		st.agg.RecordRateLimited(task.CustomerID)
	})
	sched.Drain(fetchCtx, tasks, func(res scheduler.Result) {
		r.handleResult(ctx, st, res)
	})

	r.observeMetrics(ctx, st, customers)

	if err := st.agg.Flush(ctx, r.opts.Store); err != nil {
		return Summary{}, fmt.Errorf("flush coverage: %w", err)
	}

	summary := Summary{
		RunID:      runID,
		RunType:    r.opts.RunType,
		StartedAt:  started,
		FinishedAt: r.opts.Clock.Now(),
		Customers:  len(customers),
		Tasks:      len(tasks),
		Findings:   st.findings,
		Errors:     st.errors,
	}
	r.publishSummary(ctx, summary)

	r.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("customers", summary.Customers),
		zap.Int("tasks", summary.Tasks),
		zap.Int("findings", summary.Findings),
		zap.Int("errors", summary.Errors),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// prepare resolves a customer's sitemap and builds its fetch tasks:
// robots.txt, a bounded sample of sitemap pages, and every key target.
func (r *Runner) prepare(fetchCtx, ctx context.Context, st *state, cust monitor.Customer) ([]monitor.FetchTask, error) {
	if cust.SitemapURL == "" {
		return nil, fmt.Errorf("customer has no sitemap url")
	}

	var tasks []monitor.FetchTask
	seen := make(map[string]int)
	add := func(rawURL string, kind monitor.Kind, isKey bool) {
		u, err := monitor.NormalizeURL(rawURL)
		if err != nil {
			r.logger.Warn("skipping unparseable url",
				zap.String("customer_id", cust.ID),
				zap.String("url", rawURL),
			)
			return
		}
		if idx, dup := seen[u]; dup {
			tasks[idx].IsKey = tasks[idx].IsKey || isKey
			return
		}
		tasks = append(tasks, monitor.FetchTask{
			CustomerID: cust.ID,
			URL:        u,
			Domain:     monitor.DomainOf(u),
			Kind:       kind,
			IsKey:      isKey,
		})
		seen[u] = len(tasks) - 1
	}

	robotsURL, err := monitor.RobotsURL(cust.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("derive robots url: %w", err)
	}
	add(robotsURL, monitor.KindRobotsTxt, false)

	pages, total, err := r.resolver.Resolve(fetchCtx, cust.SitemapURL)
	switch {
	case err != nil:
		r.logger.Warn("sitemap unreachable",
			zap.String("customer_id", cust.ID),
			zap.String("sitemap_url", cust.SitemapURL),
			zap.Error(err),
		)
		r.emitFinding(ctx, st, cust, monitor.Finding{
			Category:    severity.CategorySitemapUnreachable,
			Severity:    monitor.SeverityCritical,
			Subject:     cust.SitemapURL,
			DiffSummary: fmt.Sprintf("sitemap could not be fetched: %v", err),
		})
	case total == 0:
		r.emitFinding(ctx, st, cust, monitor.Finding{
			Category:    severity.CategorySitemapUnusable,
			Severity:    monitor.SeverityCritical,
			Subject:     cust.SitemapURL,
			DiffSummary: "sitemap fetched but yielded no page urls",
		})
	default:
		r.compareSitemap(ctx, st, cust, cust.SitemapURL, pages, total)
		for _, page := range pages {
			add(page, monitor.KindPageStatus, false)
		}
	}

	targets, err := r.opts.Store.ListTargets(ctx, cust.ID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		add(t.URL, monitor.KindPageStatus, t.IsKey)
	}

	// sampled_urls counts every page fetch the run will attempt for this
	// customer, so success + error never exceeds it.
	sampled := 0
	for _, task := range tasks {
		if task.Kind == monitor.KindPageStatus {
			sampled++
		}
	}
	st.agg.Init(cust.ID, cust.SitemapURL, total, sampled)

	return tasks, nil
}

// handleResult processes one terminal fetch outcome from the scheduler.
// It runs on the drain loop goroutine, so processing is serialized.
func (r *Runner) handleResult(ctx context.Context, st *state, res scheduler.Result) {
	cust, ok := st.byCust[res.Task.CustomerID]
	if !ok {
		return
	}
	// Coverage success/error counters track page fetches only; that keeps
	// them comparable to sampled_urls.
	if res.Task.Kind == monitor.KindPageStatus {
		st.agg.RecordResult(cust.ID, res.Res)
	}

	switch res.Task.Kind {
	case monitor.KindRobotsTxt:
		r.handleRobots(ctx, st, cust, res)
	case monitor.KindPageStatus:
		r.handlePage(ctx, st, cust, res)
	}
}

func (r *Runner) handleRobots(ctx context.Context, st *state, cust monitor.Customer, res scheduler.Result) {
	switch {
	case res.Res.OK():
		r.compareAndEmit(ctx, st, cust, monitor.KindRobotsTxt, res.Task.URL, string(res.Res.Body))
	case res.Res.StatusCode == 404 || res.Res.StatusCode == 410:
		// No robots file means everything is allowed: an empty rule set.
		r.compareAndEmit(ctx, st, cust, monitor.KindRobotsTxt, res.Task.URL, "")
	default:
		// Transient failure: keep the stored snapshot untouched rather
		// than mistaking an outage for a rule change.
		r.logger.Warn("robots fetch failed, skipping comparison",
			zap.String("customer_id", cust.ID),
			zap.String("url", res.Task.URL),
			zap.String("class", string(res.Res.ErrorClass)),
		)
	}
}

func (r *Runner) handlePage(ctx context.Context, st *state, cust monitor.Customer, res scheduler.Result) {
	status, definitive := pageStatusValue(res.Res)
	if definitive {
		r.comparePageStatus(ctx, st, cust, res.Task.URL, status)
	} else {
		r.logger.Debug("page fetch inconclusive, skipping status comparison",
			zap.String("customer_id", cust.ID),
			zap.String("url", res.Task.URL),
			zap.String("class", string(res.Res.ErrorClass)),
		)
	}

	if res.Task.IsKey && res.Res.OK() {
		signals, err := normalize.ExtractPageSignals(res.Res.Body)
		if err != nil {
			r.logger.Warn("key page html parse failed",
				zap.String("customer_id", cust.ID),
				zap.String("url", res.Task.URL),
				zap.Error(err),
			)
			return
		}
		r.compareAndEmit(ctx, st, cust, monitor.KindKeyPageTitle, res.Task.URL, signals.Title)
		r.compareAndEmit(ctx, st, cust, monitor.KindKeyPageCanonical, res.Task.URL, signals.Canonical)
		r.compareAndEmit(ctx, st, cust, monitor.KindKeyPageMetaRobots, res.Task.URL, signals.MetaRobots)
	}
}

// pageStatusValue maps a fetch result to a stored availability value.
// Only definitive HTTP answers count; timeouts, connection errors, 5xx
// and rate limiting say nothing about whether the page exists. A page
// that answers with a redirect still exists, so terminal 3xx is ok.
func pageStatusValue(res monitor.FetchResult) (string, bool) {
	switch {
	case res.ErrorClass == monitor.ErrClassNone && res.StatusCode >= 200 && res.StatusCode < 400:
		return "ok", true
	case res.StatusCode == 404:
		return "not_found", true
	case res.StatusCode == 410:
		return "gone", true
	default:
		return "", false
	}
}

// comparePageStatus handles availability separately from content kinds:
// a page that is missing on first sight is still worth a finding even
// though there is no prior snapshot to diff against.
func (r *Runner) comparePageStatus(ctx context.Context, st *state, cust monitor.Customer, url, status string) {
	prior, exists, err := r.opts.Store.GetArtifact(ctx, cust.ID, monitor.KindPageStatus, url)
	if err != nil {
		r.logger.Error("load page status artifact", zap.String("url", url), zap.Error(err))
		st.errors++
		return
	}
	if exists && prior.RawContent == status {
		return
	}
	if exists || status != "ok" {
		verdict := r.sev.Classify(severity.Change{
			CustomerID: cust.ID,
			Kind:       monitor.KindPageStatus,
			Subject:    url,
			Old:        prior.RawContent,
			New:        status,
			Thresholds: cust.Thresholds,
		})
		// A first sighting that is already healthy is a baseline, not a
		// recovery.
		if exists || verdict.Category != severity.CategoryPageRecovered {
			r.emitFinding(ctx, st, cust, monitor.Finding{
				Category:    verdict.Category,
				Severity:    verdict.Severity,
				Subject:     url,
				DiffSummary: normalize.Summary(monitor.KindPageStatus, prior.RawContent, status),
			})
		}
	}
	r.putArtifact(ctx, st, monitor.Artifact{
		CustomerID: cust.ID,
		Kind:       monitor.KindPageStatus,
		Subject:    url,
		RawContent: status,
	})
}

// compareSitemap handles the sitemap kind separately from other content
// kinds: the stored snapshot is a capped sample, so shrink detection has
// to run on the full distinct URL total, and a count change must surface
// even when the sorted sample happens to stay identical.
func (r *Runner) compareSitemap(ctx context.Context, st *state, cust monitor.Customer, subject string, pages []string, total int) {
	raw := strings.Join(pages, "\n")
	normFn := normalize.ForKind(monitor.KindSitemap)
	newNorm := normFn(raw)
	hash, err := r.opts.Hasher.Hash([]byte(newNorm))
	if err != nil {
		r.logger.Error("hash content", zap.String("subject", subject), zap.Error(err))
		st.errors++
		return
	}

	prior, exists, err := r.opts.Store.GetArtifact(ctx, cust.ID, monitor.KindSitemap, subject)
	if err != nil {
		r.logger.Error("load artifact",
			zap.String("customer_id", cust.ID),
			zap.String("subject", subject),
			zap.Error(err),
		)
		st.errors++
		return
	}
	countChanged := prior.URLCount > 0 && prior.URLCount != total
	if exists && prior.ContentHash == hash && !countChanged {
		return
	}

	if exists {
		oldNorm := normFn(prior.RawContent)
		verdict := r.sev.Classify(severity.Change{
			CustomerID: cust.ID,
			Kind:       monitor.KindSitemap,
			Subject:    subject,
			Old:        oldNorm,
			New:        newNorm,
			OldCount:   prior.URLCount,
			NewCount:   total,
			Thresholds: cust.Thresholds,
		})
		summary := normalize.Summary(monitor.KindSitemap, oldNorm, newNorm)
		if countChanged {
			countLine := fmt.Sprintf("url count %d -> %d", prior.URLCount, total)
			if prior.ContentHash == hash {
				summary = countLine
			} else {
				summary = countLine + "\n" + summary
			}
		}
		r.emitFinding(ctx, st, cust, monitor.Finding{
			Category:    verdict.Category,
			Severity:    verdict.Severity,
			Subject:     subject,
			DiffSummary: summary,
		})
	}

	r.archive(ctx, st, cust, monitor.KindSitemap, subject, raw)
	r.putArtifact(ctx, st, monitor.Artifact{
		CustomerID:  cust.ID,
		Kind:        monitor.KindSitemap,
		Subject:     subject,
		ContentHash: hash,
		RawContent:  raw,
		URLCount:    total,
	})
}

// compareAndEmit is the core change-detection step: normalize, hash,
// compare with the stored snapshot, and only on a real difference emit a
// finding and supersede the artifact. First sightings store a baseline
// silently.
func (r *Runner) compareAndEmit(ctx context.Context, st *state, cust monitor.Customer, kind monitor.Kind, subject, raw string) {
	normFn := normalize.ForKind(kind)
	newNorm := normFn(raw)
	hash, err := r.opts.Hasher.Hash([]byte(newNorm))
	if err != nil {
		r.logger.Error("hash content", zap.String("subject", subject), zap.Error(err))
		st.errors++
		return
	}

	prior, exists, err := r.opts.Store.GetArtifact(ctx, cust.ID, kind, subject)
	if err != nil {
		r.logger.Error("load artifact",
			zap.String("customer_id", cust.ID),
			zap.String("kind", string(kind)),
			zap.String("subject", subject),
			zap.Error(err),
		)
		st.errors++
		return
	}
	if exists && prior.ContentHash == hash {
		return
	}

	if exists {
		oldNorm := normFn(prior.RawContent)
		verdict := r.sev.Classify(severity.Change{
			CustomerID: cust.ID,
			Kind:       kind,
			Subject:    subject,
			Old:        oldNorm,
			New:        newNorm,
			Thresholds: cust.Thresholds,
		})
		r.emitFinding(ctx, st, cust, monitor.Finding{
			Category:    verdict.Category,
			Severity:    verdict.Severity,
			Subject:     subject,
			DiffSummary: normalize.Summary(kind, oldNorm, newNorm),
		})
	}

	r.archive(ctx, st, cust, kind, subject, raw)
	r.putArtifact(ctx, st, monitor.Artifact{
		CustomerID:  cust.ID,
		Kind:        kind,
		Subject:     subject,
		ContentHash: hash,
		RawContent:  raw,
	})
}

// emitFinding stamps run identity, computes the dedupe key and inserts.
// A duplicate within the same period is silently absorbed, which is what
// makes reruns idempotent.
func (r *Runner) emitFinding(ctx context.Context, st *state, cust monitor.Customer, f monitor.Finding) {
	f.CustomerID = cust.ID
	f.RunID = st.runID
	f.RunType = r.opts.RunType
	f.CreatedAt = r.opts.Clock.Now()
	f.DedupeKey = r.sev.DedupeKey(cust.ID, r.opts.RunType, f.Category, f.Subject, st.period)

	inserted, err := r.opts.Store.InsertFinding(ctx, f)
	if err != nil {
		r.logger.Error("insert finding",
			zap.String("customer_id", cust.ID),
			zap.String("category", f.Category),
			zap.Error(err),
		)
		st.errors++
		return
	}
	if !inserted {
		return
	}
	st.findings++
	metrics.TotalFindings.Inc()
	r.logger.Info("finding emitted",
		zap.String("customer_id", cust.ID),
		zap.String("category", f.Category),
		zap.String("severity", string(f.Severity)),
		zap.String("subject", f.Subject),
	)
}

func (r *Runner) putArtifact(ctx context.Context, st *state, art monitor.Artifact) {
	art.FetchedAt = r.opts.Clock.Now()
	if art.ContentHash == "" {
		hash, err := r.opts.Hasher.Hash([]byte(normalize.ForKind(art.Kind)(art.RawContent)))
		if err == nil {
			art.ContentHash = hash
		}
	}
	if err := r.opts.Store.PutArtifact(ctx, art); err != nil {
		r.logger.Error("put artifact",
			zap.String("customer_id", art.CustomerID),
			zap.String("kind", string(art.Kind)),
			zap.String("subject", art.Subject),
			zap.Error(err),
		)
		st.errors++
		return
	}
	metrics.TotalArtifactsWritten.Inc()
}

// archive ships changed raw bytes to the blob store when one is
// configured. Failures are logged but never block change detection.
func (r *Runner) archive(ctx context.Context, st *state, cust monitor.Customer, kind monitor.Kind, subject, raw string) {
	if r.opts.Blobs == nil || raw == "" {
		return
	}
	subjectKey, err := r.opts.Hasher.Hash([]byte(subject))
	if err != nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%s/%s.txt", st.runID, cust.ID, kind, subjectKey[:16])
	uri, err := r.opts.Blobs.PutObject(ctx, path, "text/plain; charset=utf-8", strings.NewReader(raw))
	if err != nil {
		r.logger.Warn("archive snapshot failed",
			zap.String("customer_id", cust.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("snapshot archived", zap.String("uri", uri))
}

// observeMetrics pulls external numeric signals (PSI scores) and pushes
// regressions through two-run confirmation; only a regression seen in two
// consecutive runs produces a finding.
func (r *Runner) observeMetrics(ctx context.Context, st *state, customers []monitor.Customer) {
	if r.opts.Metrics == nil {
		return
	}
	for _, cust := range customers {
		obs, err := r.opts.Metrics.Observations(ctx, cust)
		if err != nil {
			r.logger.Warn("metric source failed",
				zap.String("customer_id", cust.ID),
				zap.Error(err),
			)
			st.agg.RecordError(cust.ID)
			st.errors++
			continue
		}
		for _, o := range obs {
			r.observeMetric(ctx, st, cust, o)
		}
	}
}

func (r *Runner) observeMetric(ctx context.Context, st *state, cust monitor.Customer, o monitor.MetricObservation) {
	prior, exists, err := r.opts.Store.GetArtifact(ctx, cust.ID, monitor.KindPSIMetric, o.MetricKey)
	if err != nil {
		r.logger.Error("load metric baseline", zap.String("metric_key", o.MetricKey), zap.Error(err))
		st.errors++
		return
	}

	delta := cust.Thresholds.PSIRegressionDelta
	if delta <= 0 {
		delta = r.opts.PSIRegressionDelta
	}

	regressed := false
	var baseline float64
	if exists {
		baseline, err = strconv.ParseFloat(prior.RawContent, 64)
		if err != nil {
			r.logger.Warn("unparseable metric baseline, resetting",
				zap.String("metric_key", o.MetricKey),
				zap.String("value", prior.RawContent),
			)
			exists = false
		} else {
			regressed = baseline-o.Value >= delta
		}
	}

	confirmed, err := r.confirm.Observe(ctx, cust.ID, o.MetricKey, regressed, o.Value, st.runID, st.prevRuns[cust.ID])
	if err != nil {
		r.logger.Error("confirm metric observation", zap.String("metric_key", o.MetricKey), zap.Error(err))
		st.errors++
		return
	}

	if confirmed {
		r.emitFinding(ctx, st, cust, monitor.Finding{
			Category: severity.CategoryPSIRegression,
			Severity: monitor.SeverityWarning,
			Subject:  o.MetricKey,
			DiffSummary: fmt.Sprintf("score dropped from %s to %s, confirmed over two runs",
				formatScore(baseline), formatScore(o.Value)),
		})
	}

	// The baseline follows healthy values and confirmed regressions, but
	// holds still while a regression is pending so a slow slide cannot
	// dodge the threshold.
	if !exists || !regressed || confirmed {
		r.putArtifact(ctx, st, monitor.Artifact{
			CustomerID: cust.ID,
			Kind:       monitor.KindPSIMetric,
			Subject:    o.MetricKey,
			RawContent: formatScore(o.Value),
		})
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r *Runner) publishSummary(ctx context.Context, summary Summary) {
	if r.opts.Publisher == nil {
		return
	}
	id, err := r.opts.Publisher.Publish(ctx, r.opts.Topic, summary)
	if err != nil {
		r.logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	r.logger.Debug("run summary published", zap.String("message_id", id))
}
