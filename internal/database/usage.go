package database

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/parley/internal/llm"
)

// RecordUsage stores one metered LLM call.
func (db *DB) RecordUsage(ctx context.Context, ev llm.UsageEvent) error {
	a := ev.Attribution
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO usage_events (timestamp, workspace_id, project_id, template_id, collection_id, session_id,
			use_case, provider, model, prompt_chars, response_chars, estimated_tokens, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(ev.Timestamp), a.WorkspaceID, a.ProjectID, a.TemplateID, a.CollectionID, a.SessionID,
		ev.UseCase, ev.Provider, ev.Model, ev.PromptChars, ev.ResponseChars, ev.EstimatedTokens(),
		ev.Duration.Milliseconds(), ev.Err,
	)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// SessionUsage totals a session's LLM usage by use case.
func (db *DB) SessionUsage(ctx context.Context, sessionID string) ([]UsageTotal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT use_case, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
			SUM(estimated_tokens), SUM(duration_ms)
		FROM usage_events WHERE session_id = ? GROUP BY use_case ORDER BY use_case`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageTotal
	for rows.Next() {
		var u UsageTotal
		var ms int64
		if err := rows.Scan(&u.UseCase, &u.Calls, &u.Errors, &u.EstimatedTokens, &ms); err != nil {
			return nil, err
		}
		u.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, u)
	}
	return out, rows.Err()
}
