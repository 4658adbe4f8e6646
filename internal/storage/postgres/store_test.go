package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestMigrateAppliesAllStatements(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range schemaStatements {
		mock.ExpectExec("(CREATE|ALTER)").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutArtifactUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	art := monitor.Artifact{
		CustomerID:  "cust-1",
		Kind:        monitor.KindRobotsTxt,
		Subject:     "https://a.example/robots.txt",
		ContentHash: "abc",
		RawContent:  "disallow: /admin",
		FetchedAt:   now,
	}
	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs(art.CustomerID, "robots_txt", art.Subject, art.ContentHash, art.RawContent, art.URLCount, art.FetchedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutArtifact(context.Background(), art))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArtifactMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM artifacts").
		WithArgs("cust-1", "sitemap", "https://a.example/sitemap.xml").
		WillReturnRows(pgxmock.NewRows([]string{"customer_id", "kind", "subject", "content_hash", "raw_content", "url_count", "fetched_at"}))

	_, exists, err := store.GetArtifact(context.Background(), "cust-1", monitor.KindSitemap, "https://a.example/sitemap.xml")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFindingReportsDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	f := monitor.Finding{
		CustomerID:  "cust-1",
		RunID:       "run-1",
		RunType:     monitor.RunTypeDaily,
		Category:    "title_changed",
		Severity:    monitor.SeverityWarning,
		Subject:     "https://a.example/p",
		DiffSummary: `changed from "a" to "b"`,
		DedupeKey:   "k1",
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO findings").
		WithArgs(f.DedupeKey, f.CustomerID, f.RunID, "daily", f.Category, "warning", f.Subject, f.DiffSummary, f.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := store.InsertFinding(context.Background(), f)
	require.NoError(t, err)
	require.True(t, inserted)

	// ON CONFLICT DO NOTHING: zero rows affected means duplicate.
	mock.ExpectExec("INSERT INTO findings").
		WithArgs(f.DedupeKey, f.CustomerID, f.RunID, "daily", f.Category, "warning", f.Subject, f.DiffSummary, f.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = store.InsertFinding(context.Background(), f)
	require.NoError(t, err)
	require.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastRunIDEmptyWhenNoHistory(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT run_id").
		WithArgs("cust-1", "daily").
		WillReturnRows(pgxmock.NewRows([]string{"run_id"}))

	last, err := store.LastRunID(context.Background(), "cust-1", monitor.RunTypeDaily)
	require.NoError(t, err)
	require.Empty(t, last)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveCustomersDecodesThresholds(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"id", "status", "sitemap_url", "thresholds_json"}).
		AddRow("cust-1", "active", "https://a.example/sitemap.xml", []byte(`{"sitemap_shrink_fraction":0.7}`))
	mock.ExpectQuery("FROM customers").WillReturnRows(rows)

	customers, err := store.ListActiveCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 1)
	require.InDelta(t, 0.7, customers[0].Thresholds.SitemapShrinkFraction, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutCoverageUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cov := monitor.Coverage{
		RunID:        "run-1",
		CustomerID:   "cust-1",
		RunType:      monitor.RunTypeDaily,
		SitemapURL:   "https://a.example/sitemap.xml",
		TotalURLs:    500,
		SampledURLs:  100,
		SuccessCount: 98,
		ErrorCount:   2,
		HTTP429Count: 1,
		HTTP404Count: 1,
	}
	mock.ExpectExec("INSERT INTO run_coverage").
		WithArgs(cov.RunID, cov.CustomerID, "daily", cov.SitemapURL,
			cov.TotalURLs, cov.SampledURLs, cov.SuccessCount, cov.ErrorCount,
			cov.HTTP429Count, cov.HTTP404Count).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutCoverage(context.Background(), cov))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmationRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := monitor.ConfirmationRecord{
		CustomerID:     "cust-1",
		MetricKey:      "psi_performance",
		ObservedValue:  55,
		FirstSeenRunID: "run-1",
	}

	mock.ExpectExec("INSERT INTO confirmation_records").
		WithArgs(rec.CustomerID, rec.MetricKey, rec.ObservedValue, rec.FirstSeenRunID, rec.Confirmed).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.PutConfirmation(context.Background(), rec))

	rows := pgxmock.NewRows([]string{"customer_id", "metric_key", "observed_value", "first_seen_run_id", "confirmed"}).
		AddRow(rec.CustomerID, rec.MetricKey, rec.ObservedValue, rec.FirstSeenRunID, rec.Confirmed)
	mock.ExpectQuery("FROM confirmation_records").
		WithArgs(rec.CustomerID, rec.MetricKey).
		WillReturnRows(rows)

	got, exists, err := store.GetConfirmation(context.Background(), rec.CustomerID, rec.MetricKey)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, rec, got)

	mock.ExpectExec("DELETE FROM confirmation_records").
		WithArgs(rec.CustomerID, rec.MetricKey).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.DeleteConfirmation(context.Background(), rec.CustomerID, rec.MetricKey))

	require.NoError(t, mock.ExpectationsWereMet())
}
