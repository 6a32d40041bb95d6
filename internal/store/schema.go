package store

// schemaVersion is stored in PRAGMA user_version. The cache is disposable,
// so an older database is dropped and recreated rather than migrated.
const schemaVersion = 2

const dropSQL = `
DROP TABLE IF EXISTS run_failures;
DROP TABLE IF EXISTS rebuild_runs;
DROP TABLE IF EXISTS file_tracker;
DROP TABLE IF EXISTS session_models;
DROP TABLE IF EXISTS sessions;
`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS file_tracker (
    file_path            TEXT PRIMARY KEY,
    conversation_id      TEXT NOT NULL,
    project              TEXT NOT NULL,
    mtime_ns             INTEGER NOT NULL,
    size_bytes           INTEGER NOT NULL,
    archived_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rebuild_runs (
    run_id               TEXT PRIMARY KEY,
    source               TEXT NOT NULL,
    started_at           TEXT NOT NULL,
    finished_at          TEXT,
    total                INTEGER NOT NULL DEFAULT 0,
    succeeded            INTEGER NOT NULL DEFAULT 0,
    failed               INTEGER NOT NULL DEFAULT 0,
    pending              INTEGER NOT NULL DEFAULT 0,
    warnings             INTEGER NOT NULL DEFAULT 0,
    status               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_failures (
    run_id               TEXT NOT NULL REFERENCES rebuild_runs(run_id) ON DELETE CASCADE,
    conversation_id      TEXT NOT NULL,
    path                 TEXT,
    error                TEXT NOT NULL,
    PRIMARY KEY (run_id, conversation_id)
);

CREATE INDEX IF NOT EXISTS idx_file_tracker_conversation ON file_tracker(conversation_id);
CREATE INDEX IF NOT EXISTS idx_rebuild_runs_started ON rebuild_runs(started_at);
`
