package postgres

// frontierSchema creates the frontier tables when they are missing.
const frontierSchema = `
CREATE TABLE IF NOT EXISTS frontier_entries (
	id               BIGSERIAL PRIMARY KEY,
	url_key          TEXT NOT NULL UNIQUE,
	url              TEXT NOT NULL,
	host             TEXT NOT NULL DEFAULT '',
	class            TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	depth            INTEGER NOT NULL,
	score            DOUBLE PRECISION NOT NULL,
	sitemap_priority DOUBLE PRECISION NOT NULL DEFAULT 0,
	inlinks          INTEGER NOT NULL DEFAULT 0,
	state            TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	claimed_by       TEXT NOT NULL DEFAULT '',
	claimed_at       TIMESTAMPTZ,
	next_eligible_at TIMESTAMPTZ NOT NULL,
	last_outcome     TEXT NOT NULL DEFAULT '',
	last_status      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL DEFAULT '',
	redirect_target  TEXT NOT NULL DEFAULT '',
	discovered_at    TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS frontier_entries_claim_idx
	ON frontier_entries (score DESC, depth ASC, id ASC)
	WHERE state = 'queued';
CREATE INDEX IF NOT EXISTS frontier_entries_claimed_idx
	ON frontier_entries (claimed_at)
	WHERE state = 'claimed';
CREATE TABLE IF NOT EXISTS frontier_redirects (
	source_key   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	from_url     TEXT NOT NULL,
	to_url       TEXT NOT NULL,
	to_key       TEXT NOT NULL,
	status       INTEGER NOT NULL,
	chain_length INTEGER NOT NULL,
	result       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_key, seq)
);
CREATE TABLE IF NOT EXISTS frontier_links (
	from_key TEXT NOT NULL,
	to_key   TEXT NOT NULL,
	PRIMARY KEY (from_key, to_key)
);
`

// sessionSchema creates the crawl session tables when they are missing.
const sessionSchema = `
CREATE TABLE IF NOT EXISTS crawl_sessions (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT,
	fetched       BIGINT NOT NULL DEFAULT 0,
	redirected    BIGINT NOT NULL DEFAULT 0,
	retried       BIGINT NOT NULL DEFAULT 0,
	abandoned     BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS session_hosts (
	session_id  UUID NOT NULL REFERENCES crawl_sessions (id) ON DELETE CASCADE,
	host        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	visits      BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	fetch_2xx   BIGINT NOT NULL DEFAULT 0,
	fetch_3xx   BIGINT NOT NULL DEFAULT 0,
	fetch_4xx   BIGINT NOT NULL DEFAULT 0,
	fetch_5xx   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, host)
);
`
