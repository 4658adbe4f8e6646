// Package metrics exposes Prometheus counters for the monitoring core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalFetches tracks the number of fetch attempts dispatched.
	TotalFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_fetches_total",
		Help: "The total number of fetch attempts dispatched.",
	})
	// TotalFetchErrors tracks fetch attempts that ended in an error class.
	TotalFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_fetch_errors_total",
		Help: "The total number of fetch attempts that failed.",
	})
	// TotalRateLimitHits tracks HTTP 429 responses observed.
	TotalRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_rate_limit_hits_total",
		Help: "The total number of HTTP 429 responses observed.",
	})
	// TotalArtifactsWritten tracks artifact upserts (first sightings and changes).
	TotalArtifactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_artifacts_written_total",
		Help: "The total number of artifact snapshots written.",
	})
	// TotalFindings tracks findings actually inserted (duplicates excluded).
	TotalFindings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_findings_total",
		Help: "The total number of findings emitted.",
	})
)
