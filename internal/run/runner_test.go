package run

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/backoff"
	"github.com/rankwatch/rankwatch/internal/clock/system"
	"github.com/rankwatch/rankwatch/internal/hash/sha256"
	"github.com/rankwatch/rankwatch/internal/id/uuid"
	"github.com/rankwatch/rankwatch/internal/monitor"
	memorypub "github.com/rankwatch/rankwatch/internal/publisher/memory"
	"github.com/rankwatch/rankwatch/internal/scheduler"
	"github.com/rankwatch/rankwatch/internal/severity"
	"github.com/rankwatch/rankwatch/internal/storage/memory"
)

type fakeSite struct {
	mu        sync.Mutex
	responses map[string]monitor.FetchResult
}

func newFakeSite() *fakeSite {
	return &fakeSite{responses: make(map[string]monitor.FetchResult)}
}

func (s *fakeSite) set(url string, res monitor.FetchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = res
}

func (s *fakeSite) setBody(url, body string) {
	s.set(url, monitor.FetchResult{StatusCode: 200, Body: []byte(body), FinalURL: url})
}

func (s *fakeSite) setStatus(url string, status int) {
	class := monitor.ErrClassNone
	switch {
	case status == 429:
		class = monitor.ErrClassHTTP429
	case status >= 500:
		class = monitor.ErrClassHTTP5xx
	case status >= 400:
		class = monitor.ErrClassHTTP4xx
	}
	s.set(url, monitor.FetchResult{StatusCode: status, ErrorClass: class, FinalURL: url})
}

func (s *fakeSite) Fetch(_ context.Context, url string) monitor.FetchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.responses[url]; ok {
		return res
	}
	return monitor.FetchResult{StatusCode: 404, ErrorClass: monitor.ErrClassHTTP4xx, FinalURL: url}
}

type fakeMetrics struct {
	mu     sync.Mutex
	values map[string]float64
}

func (m *fakeMetrics) set(metricKey string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]float64)
	}
	m.values[metricKey] = v
}

func (m *fakeMetrics) Observations(_ context.Context, cust monitor.Customer) ([]monitor.MetricObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []monitor.MetricObservation
	for key, v := range m.values {
		out = append(out, monitor.MetricObservation{CustomerID: cust.ID, MetricKey: key, Value: v})
	}
	return out, nil
}

func sitemapXML(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		b.WriteString("<url><loc>" + u + "</loc></url>")
	}
	b.WriteString("</urlset>")
	return b.String()
}

func newTestRunner(t *testing.T, store monitor.Store, site *fakeSite, metrics monitor.MetricSource, pub monitor.Publisher) *Runner {
	t.Helper()
	runner, err := NewRunner(Options{
		Store:     store,
		Fetcher:   site,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Publisher: pub,
		Metrics:   metrics,
		RunType:   monitor.RunTypeDaily,
		Deadline:  time.Minute,
		SchedulerConfig: scheduler.Config{
			Workers:         4,
			MaxTaskAttempts: 3,
		},
		CooldownPolicy:        backoff.New(time.Millisecond, 5*time.Millisecond),
		Domain429Limit:        10,
		SitemapMaxPages:       100,
		SitemapMaxChildren:    10,
		SitemapShrinkFraction: 0.5,
		PSIRegressionDelta:    10,
		Topic:                 "rankwatch-runs",
	})
	require.NoError(t, err)
	return runner
}

func seedSite(site *fakeSite, pages ...string) {
	site.setBody("https://shop.example/sitemap.xml", sitemapXML(pages...))
	site.setBody("https://shop.example/robots.txt", "User-agent: *\nDisallow: /admin\n")
	for _, p := range pages {
		site.setBody(p, "<html><head><title>Page</title></head><body>x</body></html>")
	}
}

func TestRunBaselineThenIdenticalRerunIsSilent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a", "https://shop.example/b", "https://shop.example/c")

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	first, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, first.Findings)
	require.Zero(t, first.Errors)

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Findings)

	cov, exists, err := store.GetCoverage(ctx, second.RunID, "cust-1", monitor.RunTypeDaily)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 3, cov.TotalURLs)
	require.Equal(t, 3, cov.SampledURLs)
	require.Equal(t, 3, cov.SuccessCount)
}

func TestRunIgnoresCosmeticChanges(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a", "https://shop.example/b")

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// Same rules, different comments/whitespace; same URLs, different order.
	site.setBody("https://shop.example/robots.txt",
		"# regenerated by cms\nUSER-AGENT:   *\n\ndisallow:  /admin   # staff only\n")
	site.setBody("https://shop.example/sitemap.xml",
		sitemapXML("https://shop.example/b", "https://shop.example/a"))

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Findings)
}

func TestRunDetectsRobotsDisallowAll(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	site.setBody("https://shop.example/robots.txt", "User-agent: *\nDisallow: /\n")

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.Findings)

	findings, err := store.ListFindings(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategoryRobotsDisallowAll, findings[0].Category)
	require.Equal(t, monitor.SeverityCritical, findings[0].Severity)
	require.Equal(t, "https://shop.example/robots.txt", findings[0].Subject)
}

func TestRunDeduplicatesWithinPeriod(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	site.setBody("https://shop.example/robots.txt", "User-agent: *\nDisallow: /\nDisallow: /admin\n")
	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.Findings)

	// Force the same change to be re-detected in the same period: reset the
	// stored snapshot to the original content and run again. The dedupe key
	// absorbs the duplicate.
	require.NoError(t, store.PutArtifact(ctx, monitor.Artifact{
		CustomerID:  "cust-1",
		Kind:        monitor.KindRobotsTxt,
		Subject:     "https://shop.example/robots.txt",
		RawContent:  "User-agent: *\nDisallow: /admin\n",
		ContentHash: "stale",
	}))
	third, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, third.Findings)
}

func TestRunSampledSitemapWithMissingPage(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	var pages []string
	for i := 0; i < 500; i++ {
		pages = append(pages, fmt.Sprintf("https://shop.example/page-%03d", i))
	}
	site := newFakeSite()
	seedSite(site, pages...)
	site.setStatus("https://shop.example/page-042", 404)

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Findings)

	findings, err := store.ListFindings(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategoryPageUnavailable, findings[0].Category)
	require.Equal(t, monitor.SeverityCritical, findings[0].Severity)
	require.Equal(t, "https://shop.example/page-042", findings[0].Subject)

	cov, exists, err := store.GetCoverage(ctx, summary.RunID, "cust-1", monitor.RunTypeDaily)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, 500, cov.TotalURLs)
	require.Equal(t, 100, cov.SampledURLs)
	require.Equal(t, 1, cov.HTTP404Count)
	require.Equal(t, 99, cov.SuccessCount)
	require.Equal(t, 1, cov.ErrorCount)
}

func TestRunSitemapShrinkIsCritical(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	var pages []string
	for i := 0; i < 10; i++ {
		pages = append(pages, fmt.Sprintf("https://shop.example/p%d", i))
	}
	site := newFakeSite()
	seedSite(site, pages...)

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	site.setBody("https://shop.example/sitemap.xml", sitemapXML(pages[:3]...))

	second, err := runner.Run(ctx)
	require.NoError(t, err)

	findings, err := store.ListFindings(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategorySitemapShrunk, findings[0].Category)
	require.Equal(t, monitor.SeverityCritical, findings[0].Severity)
}

func TestRunSitemapShrinkDetectedBeyondSampleCap(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	var pages []string
	for i := 0; i < 500; i++ {
		pages = append(pages, fmt.Sprintf("https://shop.example/page-%03d", i))
	}
	site := newFakeSite()
	seedSite(site, pages...)

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	first, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, first.Findings)

	// 500 -> 150 is a 70% drop, but both sampled snapshots hold the same
	// first 100 sorted URLs. The stored total has to carry the signal.
	site.setBody("https://shop.example/sitemap.xml", sitemapXML(pages[:150]...))

	second, err := runner.Run(ctx)
	require.NoError(t, err)

	findings, err := store.ListFindings(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategorySitemapShrunk, findings[0].Category)
	require.Equal(t, monitor.SeverityCritical, findings[0].Severity)
	require.Contains(t, findings[0].DiffSummary, "url count 500 -> 150")
}

func TestRunLargeReorderedSitemapIsSilent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	var pages []string
	for i := 0; i < 200; i++ {
		pages = append(pages, fmt.Sprintf("https://shop.example/page-%03d", i))
	}
	site := newFakeSite()
	seedSite(site, pages...)

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// More URLs than the sample cap, served in reverse order: the sample
	// must not shift, so nothing changed.
	reversed := make([]string, len(pages))
	for i, p := range pages {
		reversed[len(pages)-1-i] = p
	}
	site.setBody("https://shop.example/sitemap.xml", sitemapXML(reversed...))

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Findings)
}

func TestRunSitemapUnreachableIsCritical(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})
	store.AddTarget(monitor.Target{CustomerID: "cust-1", URL: "https://shop.example/landing", IsKey: true})

	site := newFakeSite()
	site.setStatus("https://shop.example/sitemap.xml", 503)
	site.setBody("https://shop.example/robots.txt", "User-agent: *\n")
	site.setBody("https://shop.example/landing", "<html><head><title>L</title></head></html>")

	runner := newTestRunner(t, store, site, nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	findings, err := store.ListFindings(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategorySitemapUnreachable, findings[0].Category)
	require.Equal(t, monitor.SeverityCritical, findings[0].Severity)

	// Key targets are still checked when the sitemap is down.
	_, exists, err := store.GetArtifact(context.Background(), "cust-1", monitor.KindKeyPageTitle, "https://shop.example/landing")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRunKeyPageSignalChanges(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})
	store.AddTarget(monitor.Target{CustomerID: "cust-1", URL: "https://shop.example/landing", IsKey: true})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")
	site.setBody("https://shop.example/landing", `<html><head>
		<title>Spring Sale</title>
		<link rel="canonical" href="https://shop.example/landing">
	</head></html>`)

	runner := newTestRunner(t, store, site, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	site.setBody("https://shop.example/landing", `<html><head>
		<title>Winter Sale</title>
		<link rel="canonical" href="https://shop.example/landing">
		<meta name="robots" content="noindex">
	</head></html>`)

	second, err := runner.Run(ctx)
	require.NoError(t, err)

	findings, err := store.ListFindings(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	byCategory := make(map[string]monitor.Finding)
	for _, f := range findings {
		byCategory[f.Category] = f
	}
	require.Contains(t, byCategory, severity.CategoryTitleChanged)
	require.Equal(t, monitor.SeverityWarning, byCategory[severity.CategoryTitleChanged].Severity)
	require.Contains(t, byCategory, severity.CategoryNoindexAdded)
	require.Equal(t, monitor.SeverityCritical, byCategory[severity.CategoryNoindexAdded].Severity)
	require.NotContains(t, byCategory, severity.CategoryCanonicalChanged)
}

func TestRunPSIRegressionNeedsTwoRuns(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	metrics := &fakeMetrics{}
	metrics.set("psi_performance", 90)

	runner := newTestRunner(t, store, site, metrics, nil)
	ctx := context.Background()

	first, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, first.Findings)

	// First regression: recorded, not reported.
	metrics.set("psi_performance", 60)
	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Findings)

	// Second consecutive regression: confirmed, exactly one finding.
	third, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, third.Findings)

	findings, err := store.ListFindings(ctx, third.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, severity.CategoryPSIRegression, findings[0].Category)

	// The confirmed value is the new baseline: staying there is quiet.
	fourth, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, fourth.Findings)
}

func TestRunTransientFlakeIsDiscarded(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	metrics := &fakeMetrics{}
	metrics.set("psi_performance", 90)

	runner := newTestRunner(t, store, site, metrics, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// One bad run, then recovery: never reported.
	metrics.set("psi_performance", 60)
	_, err = runner.Run(ctx)
	require.NoError(t, err)

	metrics.set("psi_performance", 92)
	third, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, third.Findings)

	metrics.set("psi_performance", 60)
	fourth, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, fourth.Findings) // window restarted, not confirmed yet
}

func TestPageStatusValueDefinitiveAnswers(t *testing.T) {
	t.Parallel()

	status, definitive := pageStatusValue(monitor.FetchResult{StatusCode: 200})
	require.True(t, definitive)
	require.Equal(t, "ok", status)

	// A redirecting page still exists.
	status, definitive = pageStatusValue(monitor.FetchResult{StatusCode: 301})
	require.True(t, definitive)
	require.Equal(t, "ok", status)

	status, definitive = pageStatusValue(monitor.FetchResult{StatusCode: 404, ErrorClass: monitor.ErrClassHTTP4xx})
	require.True(t, definitive)
	require.Equal(t, "not_found", status)

	status, definitive = pageStatusValue(monitor.FetchResult{StatusCode: 410, ErrorClass: monitor.ErrClassHTTP4xx})
	require.True(t, definitive)
	require.Equal(t, "gone", status)

	_, definitive = pageStatusValue(monitor.FetchResult{StatusCode: 503, ErrorClass: monitor.ErrClassHTTP5xx})
	require.False(t, definitive)
	_, definitive = pageStatusValue(monitor.FetchResult{ErrorClass: monitor.ErrClassTimeout})
	require.False(t, definitive)
	_, definitive = pageStatusValue(monitor.FetchResult{StatusCode: 429, ErrorClass: monitor.ErrClassHTTP429})
	require.False(t, definitive)
}

func TestRunPublishesSummary(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "cust-1", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	pub := memorypub.New()
	runner := newTestRunner(t, store, site, nil, pub)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "rankwatch-runs", msgs[0].Topic)
	require.Contains(t, string(msgs[0].Data), summary.RunID)
}

func TestRunContinuesPastBrokenCustomer(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.AddCustomer(monitor.Customer{ID: "bad", Status: "active"}) // no sitemap URL
	store.AddCustomer(monitor.Customer{ID: "good", Status: "active", SitemapURL: "https://shop.example/sitemap.xml"})

	site := newFakeSite()
	seedSite(site, "https://shop.example/a")

	runner := newTestRunner(t, store, site, nil, nil)
	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Customers)
	require.NotZero(t, summary.Errors)

	_, exists, err := store.GetArtifact(context.Background(), "good", monitor.KindSitemap, "https://shop.example/sitemap.xml")
	require.NoError(t, err)
	require.True(t, exists)
}
