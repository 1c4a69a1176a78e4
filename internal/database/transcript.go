package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/parley/internal/models"
)

// AppendTurns stores transcript entries starting at sequence number from.
// Entries already stored are left untouched, so a write-behind flush can be
// retried safely.
func (db *DB) AppendTurns(ctx context.Context, sessionID string, from int, turns []models.TurnEntry) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO turns (session_id, seq, speaker, text, question_index, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range turns {
		if _, err := stmt.ExecContext(ctx, sessionID, from+i, string(t.Speaker), t.Text, t.QuestionIndex, formatTime(t.Timestamp)); err != nil {
			return fmt.Errorf("inserting turn %d: %w", from+i, err)
		}
	}
	return tx.Commit()
}

// Turns returns the full persisted transcript of a session.
func (db *DB) Turns(ctx context.Context, sessionID string) ([]models.TurnEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT speaker, text, question_index, timestamp FROM turns
		WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.TurnEntry
	for rows.Next() {
		var t models.TurnEntry
		var speaker, ts string
		if err := rows.Scan(&speaker, &t.Text, &t.QuestionIndex, &ts); err != nil {
			return nil, err
		}
		t.Speaker = models.Speaker(speaker)
		t.Timestamp = parseTime(ts)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SaveMetrics upserts the metrics of one question.
func (db *DB) SaveMetrics(ctx context.Context, sessionID string, m models.QuestionMetrics) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO question_metrics (session_id, question_index, word_count, active_time_ms,
			turn_count, follow_up_count, started_at, recommended_follow_ups)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, question_index) DO UPDATE SET
			word_count = excluded.word_count,
			active_time_ms = excluded.active_time_ms,
			turn_count = excluded.turn_count,
			follow_up_count = excluded.follow_up_count,
			started_at = excluded.started_at,
			recommended_follow_ups = excluded.recommended_follow_ups`,
		sessionID, m.QuestionIndex, m.WordCount, m.ActiveTimeMs, m.TurnCount, m.FollowUpCount,
		formatTime(m.StartedAt), m.RecommendedFollowUps,
	)
	if err != nil {
		return fmt.Errorf("saving metrics for question %d: %w", m.QuestionIndex, err)
	}
	return nil
}

// Metrics returns the stored metrics of a session ordered by question.
func (db *DB) Metrics(ctx context.Context, sessionID string) ([]models.QuestionMetrics, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT question_index, word_count, active_time_ms, turn_count, follow_up_count,
			started_at, recommended_follow_ups
		FROM question_metrics WHERE session_id = ? ORDER BY question_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QuestionMetrics
	for rows.Next() {
		var m models.QuestionMetrics
		var started sql.NullString
		if err := rows.Scan(&m.QuestionIndex, &m.WordCount, &m.ActiveTimeMs, &m.TurnCount,
			&m.FollowUpCount, &started, &m.RecommendedFollowUps); err != nil {
			return nil, err
		}
		m.StartedAt = parseTime(started.String)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveSummary upserts the summary of one question.
func (db *DB) SaveSummary(ctx context.Context, sessionID string, s models.QuestionSummary) error {
	insights, err := encodeJSON(s.KeyInsights)
	if err != nil {
		return err
	}
	relevant, err := encodeJSON(s.RelevantToFutureQuestions)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO question_summaries (session_id, question_index, question_text, respondent_summary,
			key_insights, completeness, relevant_to_future, word_count, turn_count, active_time_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, question_index) DO UPDATE SET
			question_text = excluded.question_text,
			respondent_summary = excluded.respondent_summary,
			key_insights = excluded.key_insights,
			completeness = excluded.completeness,
			relevant_to_future = excluded.relevant_to_future,
			word_count = excluded.word_count,
			turn_count = excluded.turn_count,
			active_time_ms = excluded.active_time_ms,
			timestamp = excluded.timestamp`,
		sessionID, s.QuestionIndex, s.QuestionText, s.RespondentSummary, insights,
		s.CompletenessAssessment, relevant, s.WordCount, s.TurnCount, s.ActiveTimeMs, formatTime(s.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("saving summary for question %d: %w", s.QuestionIndex, err)
	}
	return nil
}

// Summaries returns the question summaries of a session ordered by question.
func (db *DB) Summaries(ctx context.Context, sessionID string) ([]models.QuestionSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT question_index, question_text, respondent_summary, key_insights, completeness,
			relevant_to_future, word_count, turn_count, active_time_ms, timestamp
		FROM question_summaries WHERE session_id = ? ORDER BY question_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]models.QuestionSummary, error) {
	var out []models.QuestionSummary
	for rows.Next() {
		var s models.QuestionSummary
		var insights, relevant, ts sql.NullString
		if err := rows.Scan(&s.QuestionIndex, &s.QuestionText, &s.RespondentSummary, &insights,
			&s.CompletenessAssessment, &relevant, &s.WordCount, &s.TurnCount, &s.ActiveTimeMs, &ts); err != nil {
			return nil, err
		}
		if err := decodeJSON(insights, &s.KeyInsights); err != nil {
			return nil, fmt.Errorf("question %d insights: %w", s.QuestionIndex, err)
		}
		if err := decodeJSON(relevant, &s.RelevantToFutureQuestions); err != nil {
			return nil, fmt.Errorf("question %d relevance: %w", s.QuestionIndex, err)
		}
		s.Timestamp = parseTime(ts.String)
		out = append(out, s)
	}
	return out, rows.Err()
}
