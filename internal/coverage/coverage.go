// Package coverage accumulates per-customer run statistics.
package coverage

import (
	"context"
	"fmt"
	"sync"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Aggregator collects what one run attempted per customer and how it
// went. It is safe for concurrent use and is flushed to the coverage
// store so "all clear" reports can still show what was checked.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	runType monitor.RunType
	rows    map[string]*monitor.Coverage
}

// NewAggregator builds an Aggregator for one run.
func NewAggregator(runID string, runType monitor.RunType) *Aggregator {
	return &Aggregator{
		runID:   runID,
		runType: runType,
		rows:    make(map[string]*monitor.Coverage),
	}
}

// Init registers a customer with its sitemap stats. Safe to call once per
// customer before any results arrive.
func (a *Aggregator) Init(customerID, sitemapURL string, totalURLs, sampledURLs int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row := a.row(customerID)
	row.SitemapURL = sitemapURL
	row.TotalURLs = totalURLs
	row.SampledURLs = sampledURLs
}

// RecordResult accounts one terminal fetch outcome.
func (a *Aggregator) RecordResult(customerID string, res monitor.FetchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row := a.row(customerID)
	if res.OK() {
		row.SuccessCount++
		return
	}
	row.ErrorCount++
	if res.StatusCode == 404 {
		row.HTTP404Count++
	}
}

// RecordRateLimited accounts one observed 429 response, terminal or not.
func (a *Aggregator) RecordRateLimited(customerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.row(customerID).HTTP429Count++
}

// RecordError accounts a non-fetch processing failure for the customer.
func (a *Aggregator) RecordError(customerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.row(customerID).ErrorCount++
}

// Snapshot returns a copy of the current per-customer rows.
func (a *Aggregator) Snapshot() []monitor.Coverage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]monitor.Coverage, 0, len(a.rows))
	for _, row := range a.rows {
		out = append(out, *row)
	}
	return out
}

// Get returns the row for one customer.
func (a *Aggregator) Get(customerID string) (monitor.Coverage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.rows[customerID]
	if !ok {
		return monitor.Coverage{}, false
	}
	return *row, true
}

// Flush upserts every row into the store.
func (a *Aggregator) Flush(ctx context.Context, store monitor.CoverageStore) error {
	for _, row := range a.Snapshot() {
		if err := store.PutCoverage(ctx, row); err != nil {
			return fmt.Errorf("put coverage for customer %s: %w", row.CustomerID, err)
		}
	}
	return nil
}

// row must be called with the mutex held.
func (a *Aggregator) row(customerID string) *monitor.Coverage {
	row, ok := a.rows[customerID]
	if !ok {
		row = &monitor.Coverage{
			RunID:      a.runID,
			CustomerID: customerID,
			RunType:    a.runType,
		}
		a.rows[customerID] = row
	}
	return row
}
