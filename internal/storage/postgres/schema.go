package postgres

// Schema statements are idempotent so Migrate can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		sitemap_url TEXT NOT NULL,
		thresholds_json JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		customer_id TEXT NOT NULL REFERENCES customers(id),
		url TEXT NOT NULL,
		is_key BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (customer_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		raw_content TEXT NOT NULL,
		url_count INTEGER NOT NULL DEFAULT 0,
		fetched_at TIMESTAMPTZ NOT NULL,
		UNIQUE (customer_id, kind, subject)
	)`,
	`ALTER TABLE artifacts ADD COLUMN IF NOT EXISTS url_count INTEGER NOT NULL DEFAULT 0`,
	`CREATE TABLE IF NOT EXISTS findings (
		dedupe_key TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		run_type TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		subject TEXT NOT NULL,
		diff_summary TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS findings_run_id_idx ON findings (run_id)`,
	`CREATE TABLE IF NOT EXISTS run_coverage (
		run_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		run_type TEXT NOT NULL,
		sitemap_url TEXT NOT NULL DEFAULT '',
		total_urls INTEGER NOT NULL DEFAULT 0,
		sampled_urls INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		http_429_count INTEGER NOT NULL DEFAULT 0,
		http_404_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (run_id, customer_id, run_type)
	)`,
	`CREATE INDEX IF NOT EXISTS run_coverage_customer_idx
		ON run_coverage (customer_id, run_type, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS confirmation_records (
		customer_id TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		observed_value DOUBLE PRECISION NOT NULL,
		first_seen_run_id TEXT NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (customer_id, metric_key)
	)`,
}
