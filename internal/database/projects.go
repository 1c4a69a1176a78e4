package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TobiSchelling/parley/internal/assemble"
)

// UpsertProject creates or updates a project.
func (db *DB) UpsertProject(ctx context.Context, p Project) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO projects (id, name, cross_session_enabled, hypotheses_enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cross_session_enabled = excluded.cross_session_enabled,
			hypotheses_enabled = excluded.hypotheses_enabled`,
		p.ID, p.Name, boolInt(p.CrossSessionEnabled), boolInt(p.HypothesesEnabled),
	)
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject returns a project or ErrNotFound.
func (db *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var cross, hyp int
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, name, cross_session_enabled, hypotheses_enabled FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &cross, &hyp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.CrossSessionEnabled = cross != 0
	p.HypothesesEnabled = hyp != 0
	return &p, nil
}

// AddAnalyticsItem stores one project analytics finding under source, one
// of the assemble.Source* values.
func (db *DB) AddAnalyticsItem(ctx context.Context, projectID, source string, item assemble.AnalyticsItem) error {
	related, err := encodeJSON(item.RelatedQuestions)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO analytics_items (project_id, source, type, text, priority, related_questions)
		VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, source, item.Type, item.Text, item.Priority, related,
	)
	if err != nil {
		return fmt.Errorf("saving analytics item: %w", err)
	}
	return nil
}

// ProjectAnalytics returns the analytics feed of a project together with
// its number of completed sessions.
func (db *DB) ProjectAnalytics(ctx context.Context, projectID string) (*assemble.Analytics, error) {
	a := &assemble.Analytics{}
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE project_id = ? AND status = 'completed'", projectID,
	).Scan(&a.ProjectSessions); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT source, type, text, priority, related_questions FROM analytics_items
		WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var item assemble.AnalyticsItem
		var related sql.NullString
		if err := rows.Scan(&source, &item.Type, &item.Text, &item.Priority, &related); err != nil {
			return nil, err
		}
		if err := decodeJSON(related, &item.RelatedQuestions); err != nil {
			return nil, err
		}
		switch source {
		case assemble.SourceRecommendation:
			a.Recommendations = append(a.Recommendations, item)
		case assemble.SourceActionItem:
			a.ActionItems = append(a.ActionItems, item)
		case assemble.SourceStrategicInsight:
			a.StrategicInsights = append(a.StrategicInsights, item)
		}
	}
	return a, rows.Err()
}
