package store

// Schema is the complete application schema. All timestamps are Unix millis.
const Schema = `
-- Projects: one subject product compared against N competitors
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    industry    TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Products: form-supplied subject data, one per project
CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT '',
    positioning TEXT NOT NULL DEFAULT '',
    features    TEXT NOT NULL DEFAULT '[]',
    pricing     TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_project ON products(project_id);

-- Competitors tracked per project
CREATE TABLE IF NOT EXISTS competitors (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_competitors_project ON competitors(project_id);

-- Capture snapshots: content captured from a competitor site at a point in time
CREATE TABLE IF NOT EXISTS snapshots (
    id            TEXT PRIMARY KEY,
    competitor_id TEXT NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
    source        TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL,
    content_hash  TEXT NOT NULL DEFAULT '',
    status_code   INTEGER NOT NULL DEFAULT 0,
    capture_ms    INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_competitor_time
    ON snapshots(competitor_id, created_at DESC);

-- Finished reports with their quality assessments
CREATE TABLE IF NOT EXISTS reports (
    id                 TEXT PRIMARY KEY,
    task_id            TEXT NOT NULL,
    project_id         TEXT NOT NULL,
    title              TEXT NOT NULL,
    report_json        TEXT NOT NULL,
    assessment_json    TEXT NOT NULL DEFAULT '{}',
    completeness_score REAL NOT NULL DEFAULT 0,
    freshness_tier     TEXT NOT NULL DEFAULT 'basic',
    confidence_score   REAL NOT NULL DEFAULT 0,
    status             TEXT NOT NULL DEFAULT 'completed',
    created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_task ON reports(task_id);
CREATE INDEX IF NOT EXISTS idx_reports_project_time ON reports(project_id, created_at DESC);

-- Recurring report schedules (deactivated, never hard-deleted)
CREATE TABLE IF NOT EXISTS schedules (
    id              TEXT PRIMARY KEY,
    project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    frequency       TEXT NOT NULL,
    template        TEXT NOT NULL DEFAULT 'standard',
    volatility      TEXT NOT NULL DEFAULT 'normal',
    next_run        INTEGER NOT NULL,
    execution_count INTEGER NOT NULL DEFAULT 0,
    failure_count   INTEGER NOT NULL DEFAULT 0,
    is_active       INTEGER NOT NULL DEFAULT 1,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(is_active, next_run);

-- Durable task records: the system of record for task state.
-- The orchestrator's in-memory status map is a cache over these rows.
CREATE TABLE IF NOT EXISTS tasks (
    id            TEXT PRIMARY KEY,
    project_id    TEXT NOT NULL,
    kind          TEXT NOT NULL DEFAULT 'report',
    priority      INTEGER NOT NULL DEFAULT 2,
    state         TEXT NOT NULL DEFAULT 'queued',
    progress      INTEGER NOT NULL DEFAULT 0,
    current_step  TEXT NOT NULL DEFAULT '',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    max_retries   INTEGER NOT NULL DEFAULT 3,
    last_error    TEXT NOT NULL DEFAULT '',
    require_fresh INTEGER NOT NULL DEFAULT 0,
    allow_fallback INTEGER NOT NULL DEFAULT 1,
    max_duration_ms INTEGER NOT NULL DEFAULT 0,
    scheduled_for INTEGER,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_project_time ON tasks(project_id, created_at DESC);
`
