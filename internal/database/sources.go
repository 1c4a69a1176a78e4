package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/aggregate"
	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/themes"
)

// ScopeSessions loads every session in scope with its guidance log and
// transcript. A session whose transcript cannot be read is returned with
// HasTranscript false.
func (db *DB) ScopeSessions(ctx context.Context, scope aggregate.Scope) ([]aggregate.Session, error) {
	var f SessionFilter
	switch scope.Kind {
	case aggregate.ScopeCollection:
		f.CollectionID = scope.ID
	case aggregate.ScopeTemplate:
		f.TemplateID = scope.ID
	case aggregate.ScopeProject:
		f.ProjectID = scope.ID
	default:
		return nil, fmt.Errorf("unknown scope %q", scope.Kind)
	}
	sessions, err := db.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]aggregate.Session, 0, len(sessions))
	for _, s := range sessions {
		events, err := db.GuidanceEvents(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("guidance log of %s: %w", s.ID, err)
		}
		as := aggregate.Session{ID: s.ID, StartedAt: s.StartedAt, Events: events}
		turns, err := db.Turns(ctx, s.ID)
		if err != nil {
			db.logger.Warn("transcript unreadable; events count as unscored", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			as.Turns = turns
			as.HasTranscript = len(turns) > 0
		}
		out = append(out, as)
	}
	return out, nil
}

// AnalyzedSessions returns completed sessions of a collection, other than
// excludeID, with their summaries.
func (db *DB) AnalyzedSessions(ctx context.Context, collectionID, excludeID string) ([]themes.AnalyzedSession, error) {
	prior, err := db.PriorSessions(ctx, collectionID, excludeID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]themes.AnalyzedSession, 0, len(prior))
	for _, p := range prior {
		out = append(out, themes.AnalyzedSession{ID: p.ID, Summaries: p.Summaries})
	}
	return out, nil
}

// PriorSessions returns up to limit completed sessions of a collection,
// newest first, other than excludeID. A limit of zero means no limit.
func (db *DB) PriorSessions(ctx context.Context, collectionID, excludeID string, limit int) ([]assemble.PriorSession, error) {
	if collectionID == "" {
		return nil, nil
	}
	sessions, err := db.ListSessions(ctx, SessionFilter{CollectionID: collectionID, Status: models.SessionCompleted})
	if err != nil {
		return nil, err
	}

	var out []assemble.PriorSession
	for _, s := range sessions {
		if s.ID == excludeID {
			continue
		}
		summaries, err := db.Summaries(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("summaries of %s: %w", s.ID, err)
		}
		p := assemble.PriorSession{ID: s.ID, Status: s.Status, Summaries: summaries}
		if s.CompletedAt != nil {
			p.CompletedAt = *s.CompletedAt
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
