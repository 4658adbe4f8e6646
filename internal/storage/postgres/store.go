// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool dbConn
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbConn) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies the schema. Every statement is idempotent, so it runs
// unconditionally on startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// ListActiveCustomers returns customers whose status is "active".
func (s *Store) ListActiveCustomers(ctx context.Context) ([]monitor.Customer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, status, sitemap_url, thresholds_json
FROM customers
WHERE status = 'active'
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []monitor.Customer
	for rows.Next() {
		var c monitor.Customer
		var thresholds []byte
		if err := rows.Scan(&c.ID, &c.Status, &c.SitemapURL, &thresholds); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		if len(thresholds) > 0 {
			if err := json.Unmarshal(thresholds, &c.Thresholds); err != nil {
				return nil, fmt.Errorf("decode thresholds for customer %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTargets returns the targets registered for a customer.
func (s *Store) ListTargets(ctx context.Context, customerID string) ([]monitor.Target, error) {
	rows, err := s.pool.Query(ctx, `
SELECT customer_id, url, is_key
FROM targets
WHERE customer_id = $1
ORDER BY url`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []monitor.Target
	for rows.Next() {
		var t monitor.Target
		if err := rows.Scan(&t.CustomerID, &t.URL, &t.IsKey); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetArtifact looks up the latest snapshot for (customer, kind, subject).
func (s *Store) GetArtifact(ctx context.Context, customerID string, kind monitor.Kind, subject string) (monitor.Artifact, bool, error) {
	var art monitor.Artifact
	err := s.pool.QueryRow(ctx, `
SELECT customer_id, kind, subject, content_hash, raw_content, url_count, fetched_at
FROM artifacts
WHERE customer_id = $1 AND kind = $2 AND subject = $3`,
		customerID, string(kind), subject,
	).Scan(&art.CustomerID, &art.Kind, &art.Subject, &art.ContentHash, &art.RawContent, &art.URLCount, &art.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Artifact{}, false, nil
	}
	if err != nil {
		return monitor.Artifact{}, false, fmt.Errorf("get artifact: %w", err)
	}
	return art, true, nil
}

// PutArtifact upserts a snapshot, last write wins.
func (s *Store) PutArtifact(ctx context.Context, artifact monitor.Artifact) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO artifacts (customer_id, kind, subject, content_hash, raw_content, url_count, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (customer_id, kind, subject) DO UPDATE SET
	content_hash = EXCLUDED.content_hash,
	raw_content = EXCLUDED.raw_content,
	url_count = EXCLUDED.url_count,
	fetched_at = EXCLUDED.fetched_at`,
		artifact.CustomerID, string(artifact.Kind), artifact.Subject,
		artifact.ContentHash, artifact.RawContent, artifact.URLCount, artifact.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// InsertFinding appends a finding unless its dedupe key is already present.
func (s *Store) InsertFinding(ctx context.Context, finding monitor.Finding) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO findings (dedupe_key, customer_id, run_id, run_type, category, severity, subject, diff_summary, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (dedupe_key) DO NOTHING`,
		finding.DedupeKey, finding.CustomerID, finding.RunID, string(finding.RunType),
		finding.Category, string(finding.Severity), finding.Subject,
		finding.DiffSummary, finding.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert finding: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListFindings returns the findings created by one run.
func (s *Store) ListFindings(ctx context.Context, runID string) ([]monitor.Finding, error) {
	rows, err := s.pool.Query(ctx, `
SELECT dedupe_key, customer_id, run_id, run_type, category, severity, subject, diff_summary, created_at
FROM findings
WHERE run_id = $1
ORDER BY created_at, dedupe_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []monitor.Finding
	for rows.Next() {
		var f monitor.Finding
		if err := rows.Scan(
			&f.DedupeKey, &f.CustomerID, &f.RunID, &f.RunType,
			&f.Category, &f.Severity, &f.Subject, &f.DiffSummary, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutCoverage upserts a coverage row.
func (s *Store) PutCoverage(ctx context.Context, cov monitor.Coverage) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO run_coverage (run_id, customer_id, run_type, sitemap_url, total_urls, sampled_urls, success_count, error_count, http_429_count, http_404_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, customer_id, run_type) DO UPDATE SET
	sitemap_url = EXCLUDED.sitemap_url,
	total_urls = EXCLUDED.total_urls,
	sampled_urls = EXCLUDED.sampled_urls,
	success_count = EXCLUDED.success_count,
	error_count = EXCLUDED.error_count,
	http_429_count = EXCLUDED.http_429_count,
	http_404_count = EXCLUDED.http_404_count`,
		cov.RunID, cov.CustomerID, string(cov.RunType), cov.SitemapURL,
		cov.TotalURLs, cov.SampledURLs, cov.SuccessCount, cov.ErrorCount,
		cov.HTTP429Count, cov.HTTP404Count,
	)
	if err != nil {
		return fmt.Errorf("put coverage: %w", err)
	}
	return nil
}

// GetCoverage looks up one coverage row.
func (s *Store) GetCoverage(ctx context.Context, runID, customerID string, runType monitor.RunType) (monitor.Coverage, bool, error) {
	var cov monitor.Coverage
	err := s.pool.QueryRow(ctx, `
SELECT run_id, customer_id, run_type, sitemap_url, total_urls, sampled_urls, success_count, error_count, http_429_count, http_404_count
FROM run_coverage
WHERE run_id = $1 AND customer_id = $2 AND run_type = $3`,
		runID, customerID, string(runType),
	).Scan(
		&cov.RunID, &cov.CustomerID, &cov.RunType, &cov.SitemapURL,
		&cov.TotalURLs, &cov.SampledURLs, &cov.SuccessCount, &cov.ErrorCount,
		&cov.HTTP429Count, &cov.HTTP404Count,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Coverage{}, false, nil
	}
	if err != nil {
		return monitor.Coverage{}, false, fmt.Errorf("get coverage: %w", err)
	}
	return cov, true, nil
}

// LastRunID returns the most recent run recorded for the customer and
// cadence, or "" when none exists.
func (s *Store) LastRunID(ctx context.Context, customerID string, runType monitor.RunType) (string, error) {
	var runID string
	err := s.pool.QueryRow(ctx, `
SELECT run_id
FROM run_coverage
WHERE customer_id = $1 AND run_type = $2
ORDER BY created_at DESC
LIMIT 1`,
		customerID, string(runType),
	).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last run id: %w", err)
	}
	return runID, nil
}

// GetConfirmation looks up a pending confirmation record.
func (s *Store) GetConfirmation(ctx context.Context, customerID, metricKey string) (monitor.ConfirmationRecord, bool, error) {
	var rec monitor.ConfirmationRecord
	err := s.pool.QueryRow(ctx, `
SELECT customer_id, metric_key, observed_value, first_seen_run_id, confirmed
FROM confirmation_records
WHERE customer_id = $1 AND metric_key = $2`,
		customerID, metricKey,
	).Scan(&rec.CustomerID, &rec.MetricKey, &rec.ObservedValue, &rec.FirstSeenRunID, &rec.Confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.ConfirmationRecord{}, false, nil
	}
	if err != nil {
		return monitor.ConfirmationRecord{}, false, fmt.Errorf("get confirmation: %w", err)
	}
	return rec, true, nil
}

// PutConfirmation upserts a confirmation record.
func (s *Store) PutConfirmation(ctx context.Context, rec monitor.ConfirmationRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO confirmation_records (customer_id, metric_key, observed_value, first_seen_run_id, confirmed)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (customer_id, metric_key) DO UPDATE SET
	observed_value = EXCLUDED.observed_value,
	first_seen_run_id = EXCLUDED.first_seen_run_id,
	confirmed = EXCLUDED.confirmed`,
		rec.CustomerID, rec.MetricKey, rec.ObservedValue, rec.FirstSeenRunID, rec.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("put confirmation: %w", err)
	}
	return nil
}

// DeleteConfirmation removes a confirmation record if present.
func (s *Store) DeleteConfirmation(ctx context.Context, customerID, metricKey string) error {
	if _, err := s.pool.Exec(ctx, `
DELETE FROM confirmation_records
WHERE customer_id = $1 AND metric_key = $2`,
		customerID, metricKey,
	); err != nil {
		return fmt.Errorf("delete confirmation: %w", err)
	}
	return nil
}
