package postgres

// Vectors are real[]; candidate and verified lists are jsonb where NULL
// means "not computed" and '[]' is the empty terminal value.
const schema = `
CREATE TABLE IF NOT EXISTS signals (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding REAL[],
    candidates JSONB,
    verified JSONB,
    embedding_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (candidates IS NULL OR embedding IS NOT NULL),
    CHECK (verified IS NULL OR candidates IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_signals_project ON signals(project_id, seq);

CREATE TABLE IF NOT EXISTS processing_state (
    project_id TEXT PRIMARY KEY,
    total_signals INTEGER NOT NULL DEFAULT 0 CHECK(total_signals >= 0),
    embedding_completed INTEGER NOT NULL DEFAULT 0 CHECK(embedding_completed >= 0),
    similarity_completed INTEGER NOT NULL DEFAULT 0 CHECK(similarity_completed >= 0),
    verification_completed INTEGER NOT NULL DEFAULT 0 CHECK(verification_completed >= 0),
    verification_failed INTEGER NOT NULL DEFAULT 0 CHECK(verification_failed >= 0),
    phase TEXT NOT NULL DEFAULT 'pending',
    failed_phase TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS run_history (
    id BIGSERIAL PRIMARY KEY,
    project_id TEXT NOT NULL,
    attempt_number INTEGER NOT NULL,
    start_phase TEXT NOT NULL,
    end_phase TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL DEFAULT 'running',
    error_message TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    UNIQUE(project_id, attempt_number)
);
`
