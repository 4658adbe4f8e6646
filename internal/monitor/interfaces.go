package monitor

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one outbound request and classifies the outcome.
// It never retries a 429; that is the scheduler's job.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// CustomerSource exposes the admin subsystem's customer and target lists.
type CustomerSource interface {
	ListActiveCustomers(ctx context.Context) ([]Customer, error)
	ListTargets(ctx context.Context, customerID string) ([]Target, error)
}

// ArtifactStore persists the latest normalized snapshot per
// (customer, kind, subject). Put supersedes; concurrent writers race to
// last-write-wins at the store, not via external locking.
type ArtifactStore interface {
	GetArtifact(ctx context.Context, customerID string, kind Kind, subject string) (Artifact, bool, error)
	PutArtifact(ctx context.Context, artifact Artifact) error
}

// FindingStore appends findings. Insert reports false when the dedupe key
// already exists, which is what makes reruns within a period idempotent.
type FindingStore interface {
	InsertFinding(ctx context.Context, finding Finding) (bool, error)
	ListFindings(ctx context.Context, runID string) ([]Finding, error)
}

// CoverageStore persists one coverage row per (run, customer, run type).
type CoverageStore interface {
	PutCoverage(ctx context.Context, cov Coverage) error
	GetCoverage(ctx context.Context, runID, customerID string, runType RunType) (Coverage, bool, error)
	// LastRunID returns the most recent run recorded for the customer and
	// cadence, or "" when none exists. Used by two-run confirmation to
	// decide whether an unconfirmed record came from the immediately
	// prior run.
	LastRunID(ctx context.Context, customerID string, runType RunType) (string, error)
}

// ConfirmationStore persists pending metric regressions, unique per
// (customer, metric key).
type ConfirmationStore interface {
	GetConfirmation(ctx context.Context, customerID, metricKey string) (ConfirmationRecord, bool, error)
	PutConfirmation(ctx context.Context, rec ConfirmationRecord) error
	DeleteConfirmation(ctx context.Context, customerID, metricKey string) error
}

// Store aggregates every persistence concern of the monitoring core.
type Store interface {
	CustomerSource
	ArtifactStore
	FindingStore
	CoverageStore
	ConfirmationStore
}

// BlobStore archives raw snapshot bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// MetricSource reports numeric signals (for example PSI scores) per
// customer. The client behind it is external; only the two-run
// confirmation of its output is handled here.
type MetricSource interface {
	Observations(ctx context.Context, customer Customer) ([]MetricObservation, error)
}

// Hasher computes digests for content hashes and dedupe keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
