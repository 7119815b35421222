package store

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
	   id TEXT PRIMARY KEY,
	   name TEXT NOT NULL,
	   created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`INSERT INTO projects (id, name) VALUES ('default', 'Default') ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS project_api_keys (
	   key_hash TEXT PRIMARY KEY,
	   project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	   label TEXT NOT NULL DEFAULT '',
	   created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	   revoked_at TIMESTAMPTZ
	 )`,
	`CREATE TABLE IF NOT EXISTS session_updates (
	   project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	   session_id TEXT NOT NULL,
	   distinct_id TEXT NOT NULL DEFAULT '',
	   release TEXT NOT NULL,
	   environment TEXT NOT NULL DEFAULT '',
	   status TEXT NOT NULL CHECK (status IN ('healthy', 'errored', 'abnormal', 'crashed')),
	   started_at TIMESTAMPTZ NOT NULL,
	   duration_ms DOUBLE PRECISION,
	   updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	   PRIMARY KEY (project_id, session_id)
	 )`,
	`CREATE INDEX IF NOT EXISTS session_updates_release_started_idx
	   ON session_updates (project_id, release, started_at)`,
	`CREATE INDEX IF NOT EXISTS session_updates_started_idx
	   ON session_updates (project_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS replays (
	   id TEXT PRIMARY KEY,
	   project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	   event_object_key TEXT NOT NULL,
	   breadcrumbs_object_key TEXT NOT NULL,
	   recording_object_key TEXT NOT NULL,
	   spans_object_key TEXT NOT NULL,
	   created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`CREATE TABLE IF NOT EXISTS health_alerts (
	   id TEXT PRIMARY KEY,
	   project_id TEXT NOT NULL,
	   release TEXT NOT NULL,
	   crash_free_rate DOUBLE PRECISION NOT NULL,
	   sent_at TIMESTAMPTZ NOT NULL
	 )`,
	`CREATE INDEX IF NOT EXISTS health_alerts_release_idx
	   ON health_alerts (project_id, release, sent_at DESC)`,
}
