// Package fetch implements the outbound HTTP client using gocolly.
//
// The client is the single entry point for network I/O: it classifies every
// outcome into an error class, applies a bounded timeout, and retries
// transient failures (timeout, connection, http_5xx) a small fixed number
// of times. It never retries 429 — the retry policy for rate limiting
// needs cross-request cooldown state that only the scheduler holds.
package fetch

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/backoff"
	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Config controls client behavior.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    backoff.Policy
}

// Client implements monitor.Fetcher using a Colly collector.
type Client struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	// Customers monitor their own sites; robots compliance is theirs to set.
	c.IgnoreRobotsTxt = true
	return &Client{
		cfg:    cfg,
		base:   c,
		logger: logger,
	}
}

// Fetch executes a single HTTP GET and classifies the outcome, retrying
// transient error classes up to the configured attempt count.
func (c *Client) Fetch(ctx context.Context, url string) monitor.FetchResult {
	var res monitor.FetchResult
	for attempt := 0; ; attempt++ {
		res = c.fetchOnce(ctx, url)
		metrics.TotalFetches.Inc()
		if res.ErrorClass == monitor.ErrClassNone {
			return res
		}
		metrics.TotalFetchErrors.Inc()
		if !retryable(res.ErrorClass) || attempt >= c.cfg.MaxRetries {
			return res
		}
		c.logger.Debug("retrying transient fetch failure",
			zap.String("url", url),
			zap.String("class", string(res.ErrorClass)),
			zap.Int("attempt", attempt+1),
		)
		if err := pause(ctx, c.cfg.Backoff.Delay(attempt)); err != nil {
			res.ErrorClass = monitor.ErrClassTimeout
			res.Err = err
			return res
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, url string) monitor.FetchResult {
	collector := c.base.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	var (
		result   monitor.FetchResult
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = monitor.FetchResult{
			StatusCode: r.StatusCode,
			FinalURL:   r.Request.URL.String(),
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r == nil {
			return
		}
		result.StatusCode = r.StatusCode
		result.Body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return monitor.FetchResult{
			FinalURL:   url,
			ErrorClass: monitor.ErrClassTimeout,
			Err:        ctx.Err(),
		}
	case visitErr = <-done:
	}
	if fetchErr == nil {
		fetchErr = visitErr
	}

	if result.StatusCode != 0 {
		result.ErrorClass = classifyStatus(result.StatusCode)
		if result.ErrorClass != monitor.ErrClassNone {
			result.Err = fetchErr
		}
		if result.FinalURL == "" {
			result.FinalURL = url
		}
		return result
	}
	return monitor.FetchResult{
		FinalURL:   url,
		ErrorClass: classifyError(fetchErr),
		Err:        fetchErr,
	}
}

func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
