package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `id, workspace_id, project_id, template_id, collection_id, persona_name,
	status, template_json, persona_json, additional_questions, started_at, completed_at, error`

// CreateSession inserts a new session.
func (db *DB) CreateSession(ctx context.Context, s Session) error {
	tmpl, err := encodeJSON(s.Template)
	if err != nil {
		return fmt.Errorf("encoding template: %w", err)
	}
	var persona sql.NullString
	if s.Persona != nil {
		p, err := encodeJSON(s.Persona)
		if err != nil {
			return fmt.Errorf("encoding persona: %w", err)
		}
		persona = sql.NullString{String: p, Valid: true}
	}
	var additional sql.NullString
	if s.AdditionalQuestions != nil {
		a, err := encodeJSON(s.AdditionalQuestions)
		if err != nil {
			return fmt.Errorf("encoding additional questions: %w", err)
		}
		additional = sql.NullString{String: a, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.WorkspaceID, s.ProjectID, s.TemplateID, s.CollectionID, s.PersonaName,
		s.Status, tmpl, persona, additional, formatTime(s.StartedAt), nullTime(s.CompletedAt), s.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", s.ID, err)
	}
	return nil
}

// SetSessionStatus records a status change. completedAt may be nil.
func (db *DB) SetSessionStatus(ctx context.Context, id, status string, completedAt *time.Time, errMsg string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET status = ?, completed_at = ?, error = ? WHERE id = ?",
		status, nullTime(completedAt), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", id, err)
	}
	return expectRow(res, id)
}

// SetAdditionalQuestions stores the generated additional questions so a
// resumed session asks the same ones.
func (db *DB) SetAdditionalQuestions(ctx context.Context, id string, questions []string) error {
	data, err := encodeJSON(questions)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, "UPDATE sessions SET additional_questions = ? WHERE id = ?", data, id)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", id, err)
	}
	return expectRow(res, id)
}

// GetSession returns one session or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns sessions matching the filter, newest first.
func (db *DB) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	var where []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"collection_id", f.CollectionID},
		{"template_id", f.TemplateID},
		{"project_id", f.ProjectID},
		{"status", f.Status},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	query := "SELECT " + sessionColumns + " FROM sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var tmpl string
	var persona, additional, completed sql.NullString
	var started string
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.ProjectID, &s.TemplateID, &s.CollectionID, &s.PersonaName,
		&s.Status, &tmpl, &persona, &additional, &started, &completed, &s.Error)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(sql.NullString{String: tmpl, Valid: true}, &s.Template); err != nil {
		return nil, fmt.Errorf("session %s template: %w", s.ID, err)
	}
	if persona.Valid {
		if err := decodeJSON(persona, &s.Persona); err != nil {
			return nil, fmt.Errorf("session %s persona: %w", s.ID, err)
		}
	}
	if err := decodeJSON(additional, &s.AdditionalQuestions); err != nil {
		return nil, fmt.Errorf("session %s additional questions: %w", s.ID, err)
	}
	s.StartedAt = parseTime(started)
	s.CompletedAt = timePtr(completed)
	return &s, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Stats counts what the database holds.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: map[string]int{}}
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM sessions GROUP BY status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByStatus[status] = n
		st.Sessions += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM turns", &st.Turns},
		{"SELECT COUNT(*) FROM guidance_events", &st.GuidanceEvents},
		{"SELECT COUNT(*) FROM adherence_summaries", &st.ScoredSessions},
		{"SELECT COUNT(*) FROM usage_events", &st.UsageCalls},
		{"SELECT COALESCE(SUM(estimated_tokens), 0) FROM usage_events", &st.EstimatedTokens},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return st, nil
}
