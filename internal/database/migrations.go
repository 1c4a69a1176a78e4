package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "sessions, transcripts and guidance log",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    cross_session_enabled INTEGER NOT NULL DEFAULT 0,
    hypotheses_enabled INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    template_id TEXT NOT NULL DEFAULT '',
    collection_id TEXT NOT NULL DEFAULT '',
    persona_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    template_json TEXT NOT NULL,
    persona_json TEXT,
    additional_questions TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS turns (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    seq INTEGER NOT NULL,
    speaker TEXT NOT NULL,
    text TEXT NOT NULL,
    question_index INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS question_metrics (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    question_index INTEGER NOT NULL,
    word_count INTEGER NOT NULL DEFAULT 0,
    active_time_ms INTEGER NOT NULL DEFAULT 0,
    turn_count INTEGER NOT NULL DEFAULT 0,
    follow_up_count INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    recommended_follow_ups INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, question_index)
);

CREATE TABLE IF NOT EXISTS question_summaries (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    question_index INTEGER NOT NULL,
    question_text TEXT NOT NULL,
    respondent_summary TEXT NOT NULL DEFAULT '',
    key_insights TEXT,
    completeness TEXT NOT NULL,
    relevant_to_future TEXT,
    word_count INTEGER NOT NULL DEFAULT 0,
    turn_count INTEGER NOT NULL DEFAULT 0,
    active_time_ms INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT,
    PRIMARY KEY (session_id, question_index)
);

CREATE TABLE IF NOT EXISTS guidance_events (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    idx INTEGER NOT NULL,
    action TEXT NOT NULL,
    message_summary TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    injected INTEGER NOT NULL DEFAULT 0,
    late INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT,
    question_index INTEGER NOT NULL,
    trigger_turn_index INTEGER NOT NULL,
    adherence TEXT NOT NULL DEFAULT '',
    adherence_reason TEXT NOT NULL DEFAULT '',
    response_snippet TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS adherence_summaries (
    session_id TEXT PRIMARY KEY REFERENCES sessions(id),
    total INTEGER NOT NULL,
    followed INTEGER NOT NULL,
    partially_followed INTEGER NOT NULL,
    not_followed INTEGER NOT NULL,
    not_applicable INTEGER NOT NULL,
    unscored INTEGER NOT NULL,
    by_action TEXT,
    scored_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_collection ON sessions(collection_id);
CREATE INDEX IF NOT EXISTS idx_sessions_template ON sessions(template_id);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "usage accounting and project analytics",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS usage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    workspace_id TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    template_id TEXT NOT NULL DEFAULT '',
    collection_id TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    use_case TEXT NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    prompt_chars INTEGER NOT NULL,
    response_chars INTEGER NOT NULL,
    estimated_tokens INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS analytics_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL,
    source TEXT NOT NULL CHECK(source IN ('recommendation', 'action_item', 'strategic_insight')),
    type TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT '',
    related_questions TEXT,
    created_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_events(session_id);
CREATE INDEX IF NOT EXISTS idx_analytics_project ON analytics_items(project_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
