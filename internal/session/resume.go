package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/flow"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/transcript"
)

// Resume continues an interrupted session from its persisted transcript,
// summaries and guidance log. Completed sessions cannot be resumed.
func (r *Runner) Resume(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := r.deps.Store.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionCompleted {
		return nil, fmt.Errorf("session %s is already completed", sessionID)
	}

	turns, err := r.deps.Store.Turns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	summaries, err := r.deps.Store.Summaries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading summaries: %w", err)
	}
	events, err := r.deps.Store.GuidanceEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading guidance log: %w", err)
	}
	var last *models.GuidanceEvent
	if n := len(events); n > 0 {
		last = &events[n-1]
	}

	x, err := r.newRun(ctx, *sess, events)
	if err != nil {
		return nil, err
	}
	resumed := flow.Reconstruct(sess.Template.Questions, sess.AdditionalQuestions, turns, summaries, last, flow.ResumeParams{
		DefaultFollowUps: r.cfg.Flow.DefaultFollowUps,
		MaxFollowUps:     r.cfg.Flow.MaxFollowUps,
		WordsPerMinute:   r.cfg.Advisor.WordsPerMinute,
		Window:           r.cfg.Transcript.WorkingWindow,
		Options:          x.opts,
	})
	x.store = transcript.Restore(turns, r.cfg.Transcript.WorkingWindow)
	x.flushed = len(turns)
	x.summaries = summaries

	st := resumed.State
	if st.InAdditionalPhase && len(x.additional) == 0 {
		x.additional = x.generateAdditional(ctx)
		st.TotalAdditional = len(x.additional)
	}

	if sess.Status != models.SessionActive {
		if err := r.deps.Store.SetSessionStatus(ctx, sessionID, models.SessionActive, nil, ""); err != nil {
			x.events.Close()
			return nil, fmt.Errorf("reactivating session: %w", err)
		}
	}
	x.logger.Info("resuming session",
		zap.Int("question_index", st.QuestionIndex()),
		zap.Int("turns", len(turns)),
		zap.Bool("question_open", resumed.QuestionOpen))

	return x.drive(ctx, st, resumePoint{
		open:               resumed.QuestionOpen,
		awaitingRespondent: resumed.AwaitingRespondent,
		metrics:            resumed.Metrics,
	})
}
