// Package pipeline runs the post-session steps: score adherence, persist the
// enriched guidance log and archive the session event log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/adherence"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/eventlog"
	"github.com/TobiSchelling/parley/internal/models"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	SessionID string
	Steps     []StepResult
	Adherence *adherence.Summary
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Store is the persistence the pipeline reads and enriches.
type Store interface {
	GetSession(ctx context.Context, id string) (*database.Session, error)
	Turns(ctx context.Context, sessionID string) ([]models.TurnEntry, error)
	GuidanceEvents(ctx context.Context, sessionID string) ([]models.GuidanceEvent, error)
	SaveGuidanceEvents(ctx context.Context, sessionID string, events []models.GuidanceEvent) error
	SaveAdherenceSummary(ctx context.Context, sessionID string, s adherence.Summary, at time.Time) error
}

// Pipeline orchestrates the post-session steps.
type Pipeline struct {
	db         Store
	scorer     *adherence.Scorer
	logDir     string
	archiveDir string
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a pipeline. An empty logDir skips archiving.
func New(db Store, logDir, archiveDir string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		db:         db,
		scorer:     adherence.NewScorer(logger),
		logDir:     logDir,
		archiveDir: archiveDir,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes every step for one session. A failing step does not stop
// the later ones, except that nothing is persisted without a score.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (*Result, error) {
	if _, err := p.db.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	r := &Result{SessionID: sessionID}

	// Step 1: Score
	scored, step := p.runScore(ctx, sessionID)
	r.Steps = append(r.Steps, step)

	// Step 2: Persist
	if step.Err == nil {
		sum := adherence.Summarize(scored)
		r.Adherence = &sum
		r.Steps = append(r.Steps, p.runPersist(ctx, sessionID, scored, sum))
	}

	// Step 3: Archive
	r.Steps = append(r.Steps, p.runArchive(sessionID))
	return r, nil
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(ctx context.Context, sessionID string) (*Result, error) {
	if _, err := p.db.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	r := &Result{SessionID: sessionID}

	events, _ := p.db.GuidanceEvents(ctx, sessionID)
	turns, _ := p.db.Turns(ctx, sessionID)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Score",
		Summary: fmt.Sprintf("[dry-run] %d guidance events against %d turns", len(events), len(turns)),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Persist",
		Summary: fmt.Sprintf("[dry-run] Would write %d labels and an adherence summary", len(events)),
	})

	switch {
	case p.logDir == "":
		r.Steps = append(r.Steps, StepResult{Name: "Archive", Summary: "[dry-run] No event log directory configured"})
	case eventlog.IsArchived(sessionID, p.archiveDir):
		r.Steps = append(r.Steps, StepResult{Name: "Archive", Summary: "[dry-run] Event log already archived"})
	default:
		r.Steps = append(r.Steps, StepResult{
			Name:    "Archive",
			Summary: fmt.Sprintf("[dry-run] Would archive %s", eventlog.LogPath(sessionID, p.logDir)),
		})
	}
	return r, nil
}

func (p *Pipeline) runScore(ctx context.Context, sessionID string) ([]models.GuidanceEvent, StepResult) {
	p.logger.Info("step 1/3: scoring adherence", zap.String("session_id", sessionID))
	events, err := p.db.GuidanceEvents(ctx, sessionID)
	if err != nil {
		return nil, StepResult{Name: "Score", Err: err}
	}
	turns, err := p.db.Turns(ctx, sessionID)
	if err != nil {
		// Without a transcript every event is unscored.
		p.logger.Warn("transcript unreadable; scoring without it", zap.String("session_id", sessionID), zap.Error(err))
		turns = nil
	}
	scored, sum := p.scorer.ScoreSession(sessionID, events, turns)
	return scored, StepResult{
		Name: "Score",
		Summary: fmt.Sprintf("Scored %d of %d guidance events (rate %.2f, %d unscored)",
			sum.Scored(), sum.Total, sum.Rate(), sum.Unscored),
	}
}

func (p *Pipeline) runPersist(ctx context.Context, sessionID string, scored []models.GuidanceEvent, sum adherence.Summary) StepResult {
	p.logger.Info("step 2/3: persisting adherence", zap.String("session_id", sessionID))
	if err := p.db.SaveGuidanceEvents(ctx, sessionID, scored); err != nil {
		return StepResult{Name: "Persist", Err: err}
	}
	if err := p.db.SaveAdherenceSummary(ctx, sessionID, sum, p.now()); err != nil {
		return StepResult{Name: "Persist", Err: err}
	}
	return StepResult{
		Name:    "Persist",
		Summary: fmt.Sprintf("Saved %d labelled events and the session summary", len(scored)),
	}
}

func (p *Pipeline) runArchive(sessionID string) StepResult {
	p.logger.Info("step 3/3: archiving event log", zap.String("session_id", sessionID))
	if p.logDir == "" {
		return StepResult{Name: "Archive", Summary: "No event log directory configured"}
	}
	if eventlog.IsArchived(sessionID, p.archiveDir) {
		return StepResult{Name: "Archive", Summary: "Event log already archived"}
	}
	src := eventlog.LogPath(sessionID, p.logDir)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return StepResult{Name: "Archive", Summary: "No event log to archive"}
	}
	dst, err := eventlog.Archive(src, p.archiveDir)
	if err != nil {
		return StepResult{Name: "Archive", Err: err}
	}
	return StepResult{Name: "Archive", Summary: "Archived event log to " + dst}
}
