// Package postgres implements internal/persistence's repository interfaces
// against PostgreSQL via sqlx+lib/pq, grounded on the teacher's
// internal/persistence/postgres/trades_repo.go (query shape, timeout
// wrapping, pq.Error unwrapping) and regime_repo.go (upsert-by-unique-key
// pattern, mirrored here by the snapshot and service-config repos).
package postgres

// Schema is the DDL for the ten-component persistence layer (§3, §6).
// Migration tooling itself is out of scope (spec §1 non-goals); this is
// carried as a plain constant a migration runner outside this package can
// apply, the same way the teacher keeps its schema alongside the repos
// rather than behind a migration framework.
const Schema = `
CREATE TABLE IF NOT EXISTS token (
	id         BIGSERIAL PRIMARY KEY,
	symbol     TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (symbol, source)
);

CREATE TABLE IF NOT EXISTS crawler_job (
	id        BIGSERIAL PRIMARY KEY,
	exchange  TEXT NOT NULL,
	connector TEXT NOT NULL,
	start     TIMESTAMPTZ NOT NULL,
	stop      TIMESTAMPTZ,
	error     TEXT,
	UNIQUE (exchange, connector)
);

CREATE TABLE IF NOT EXISTS crawler_iteration (
	id                   BIGSERIAL PRIMARY KEY,
	crawler_job_id       BIGINT NOT NULL REFERENCES crawler_job(id),
	token                BIGINT NOT NULL REFERENCES token(id),
	symbol               TEXT NOT NULL,
	start                TIMESTAMPTZ NOT NULL,
	stop                 TIMESTAMPTZ,
	done                 BOOLEAN NOT NULL DEFAULT false,
	status               TEXT NOT NULL,
	comment              TEXT,
	error                TEXT,
	last_update          TIMESTAMPTZ NOT NULL,
	currency_pair        JSONB,
	book_depth           JSONB,
	klines               JSONB,
	funding_rate         JSONB,
	next_funding_rate    JSONB,
	funding_rate_history JSONB,
	UNIQUE (crawler_job_id, token)
);
CREATE INDEX IF NOT EXISTS idx_crawler_iteration_job ON crawler_iteration(crawler_job_id);
CREATE INDEX IF NOT EXISTS idx_crawler_iteration_job_token ON crawler_iteration(crawler_job_id, token);

CREATE TABLE IF NOT EXISTS currency_pair_snapshot (
	id                BIGSERIAL PRIMARY KEY,
	exchange_id       TEXT NOT NULL,
	kind              TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	align_to_minutes  INT NOT NULL,
	aligned_timestamp BIGINT NOT NULL,
	base              TEXT NOT NULL,
	quote             TEXT NOT NULL,
	ratio             DOUBLE PRECISION NOT NULL,
	utc               BIGINT,
	UNIQUE (exchange_id, kind, symbol, align_to_minutes, aligned_timestamp)
);

CREATE TABLE IF NOT EXISTS service_config (
	service_class TEXT PRIMARY KEY,
	payload       JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
