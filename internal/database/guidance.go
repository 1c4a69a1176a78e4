package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/parley/internal/adherence"
	"github.com/TobiSchelling/parley/internal/models"
)

// SaveGuidanceEvents upserts guidance events, including any adherence
// labels the scorer has added.
func (db *DB) SaveGuidanceEvents(ctx context.Context, sessionID string, events []models.GuidanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO guidance_events (session_id, idx, action, message_summary, confidence, injected, late,
			timestamp, question_index, trigger_turn_index, adherence, adherence_reason, response_snippet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, idx) DO UPDATE SET
			adherence = excluded.adherence,
			adherence_reason = excluded.adherence_reason,
			response_snippet = excluded.response_snippet`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx, sessionID, ev.Index, string(ev.Action), ev.MessageSummary, ev.Confidence,
			boolInt(ev.Injected), boolInt(ev.Late), formatTime(ev.Timestamp), ev.QuestionIndex, ev.TriggerTurnIndex,
			string(ev.Adherence), ev.AdherenceReason, ev.ResponseSnippet)
		if err != nil {
			return fmt.Errorf("saving guidance event %d: %w", ev.Index, err)
		}
	}
	return tx.Commit()
}

// GuidanceEvents returns a session's guidance log in order.
func (db *DB) GuidanceEvents(ctx context.Context, sessionID string) ([]models.GuidanceEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT idx, action, message_summary, confidence, injected, late, timestamp, question_index,
			trigger_turn_index, adherence, adherence_reason, response_snippet
		FROM guidance_events WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GuidanceEvent
	for rows.Next() {
		var ev models.GuidanceEvent
		var action, label string
		var injected, late int
		var ts sql.NullString
		if err := rows.Scan(&ev.Index, &action, &ev.MessageSummary, &ev.Confidence, &injected, &late, &ts,
			&ev.QuestionIndex, &ev.TriggerTurnIndex, &label, &ev.AdherenceReason, &ev.ResponseSnippet); err != nil {
			return nil, err
		}
		ev.Action = models.Action(action)
		ev.Adherence = models.AdherenceLabel(label)
		ev.Injected = injected != 0
		ev.Late = late != 0
		ev.Timestamp = parseTime(ts.String)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveAdherenceSummary replaces the stored adherence roll-up of a session.
func (db *DB) SaveAdherenceSummary(ctx context.Context, sessionID string, s adherence.Summary, at time.Time) error {
	byAction, err := encodeJSON(s.ByAction)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO adherence_summaries (session_id, total, followed, partially_followed,
			not_followed, not_applicable, unscored, by_action, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Total, s.Followed, s.PartiallyFollowed, s.NotFollowed, s.NotApplicable, s.Unscored,
		byAction, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("saving adherence summary: %w", err)
	}
	return nil
}

// AdherenceSummary returns the stored roll-up and when it was computed, or
// ErrNotFound when the session has not been scored.
func (db *DB) AdherenceSummary(ctx context.Context, sessionID string) (*adherence.Summary, time.Time, error) {
	var s adherence.Summary
	var byAction sql.NullString
	var at string
	err := db.conn.QueryRowContext(ctx,
		`SELECT total, followed, partially_followed, not_followed, not_applicable, unscored, by_action, scored_at
		FROM adherence_summaries WHERE session_id = ?`, sessionID,
	).Scan(&s.Total, &s.Followed, &s.PartiallyFollowed, &s.NotFollowed, &s.NotApplicable, &s.Unscored, &byAction, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("adherence summary for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	s.ByAction = map[models.Action]*adherence.Counts{}
	if err := decodeJSON(byAction, &s.ByAction); err != nil {
		return nil, time.Time{}, err
	}
	return &s, parseTime(at), nil
}
