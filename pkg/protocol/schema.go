package protocol

// SchemaDDL defines the SQLite schema for the dlqwatch runtime database.
// Tables: investigations, timeline_events, cooldowns, agent_handles.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per investigation; terminal rows are retained for audit.
CREATE TABLE IF NOT EXISTS investigations (
    id TEXT PRIMARY KEY,
    queue_id TEXT NOT NULL,
    pending_count_at_start INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'initiated',
    progress_percent INTEGER NOT NULL DEFAULT 0,
    root_cause TEXT,
    proposed_fix TEXT,
    external_ref TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    duration_seconds REAL
);

CREATE INDEX IF NOT EXISTS idx_investigations_queue ON investigations(queue_id, started_at);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(status);

-- Append-only audit trail; ordered by occurred_at, tiebroken by rowid.
CREATE TABLE IF NOT EXISTS timeline_events (
    id INTEGER PRIMARY KEY,
    investigation_id TEXT NOT NULL REFERENCES investigations(id),
    event_type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    occurred_at TEXT NOT NULL,
    duration_seconds REAL
);

CREATE INDEX IF NOT EXISTS idx_timeline_investigation ON timeline_events(investigation_id, occurred_at);

-- Last approved investigation start per queue. Updated on approval, not on
-- completion, so cooldown comparisons are monotonic.
CREATE TABLE IF NOT EXISTS cooldowns (
    queue_id TEXT PRIMARY KEY,
    last_started_at TEXT NOT NULL
);

-- Live external agent processes. A row here means an investigation holds a
-- run-slot; rows left behind by a crash are reconciled at startup.
CREATE TABLE IF NOT EXISTS agent_handles (
    token TEXT PRIMARY KEY,
    investigation_id TEXT NOT NULL REFERENCES investigations(id),
    queue_id TEXT NOT NULL UNIQUE,
    pid INTEGER NOT NULL,
    spawned_at TEXT NOT NULL,
    deadline TEXT NOT NULL
);
`
