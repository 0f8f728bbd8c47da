package repo

// schema — DDL для PostgreSQL backend'ов.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	inputs      JSONB,
	state       TEXT NOT NULL,
	owner       TEXT,
	error       TEXT,
	posted_on   TEXT[] NOT NULL DEFAULT '{}',
	posted_at   TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_posted_at_idx ON jobs (posted_at);

CREATE TABLE IF NOT EXISTS logbooks (
	job_id      UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_details (
	id          UUID PRIMARY KEY,
	job_id      UUID NOT NULL REFERENCES logbooks (job_id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	seq         BIGSERIAL,
	UNIQUE (job_id, name)
);

CREATE TABLE IF NOT EXISTS task_details (
	id          UUID PRIMARY KEY,
	flow_id     UUID NOT NULL REFERENCES flow_details (id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	seq         BIGSERIAL
);
CREATE INDEX IF NOT EXISTS task_details_flow_idx ON task_details (flow_id, seq);

CREATE TABLE IF NOT EXISTS schedules (
	id              UUID PRIMARY KEY,
	name            TEXT UNIQUE,
	flow_name       TEXT NOT NULL,
	cron_expr       TEXT,
	interval_sec    INT,
	timezone        TEXT NOT NULL DEFAULT 'UTC',
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	next_due_at     TIMESTAMPTZ,
	last_posted_at  TIMESTAMPTZ,
	last_job_id     UUID,
	inputs          JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS schedules_due_idx ON schedules (next_due_at) WHERE enabled;
`
