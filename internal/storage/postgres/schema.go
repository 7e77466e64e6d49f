package postgres

// progressSchema creates the run history tables.
const progressSchema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS credential_stats (
	run_id      UUID NOT NULL REFERENCES harvest_runs(id) ON DELETE CASCADE,
	credential  TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	processed   BIGINT NOT NULL DEFAULT 0,
	active      BIGINT NOT NULL DEFAULT 0,
	blacklisted BIGINT NOT NULL DEFAULT 0,
	inactive    BIGINT NOT NULL DEFAULT 0,
	skipped     BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	deferred    BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, credential)
);
`

// stateSchema creates the three classification tables under prefix.
const stateSchema = `
CREATE TABLE IF NOT EXISTS %[1]sactive (
	identifier  BIGINT PRIMARY KEY,
	last_seen   TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]sblacklist (
	identifier  BIGINT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]srecently_inactive (
	identifier  BIGINT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
