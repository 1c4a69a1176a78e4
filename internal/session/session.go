// Package session drives interviews end to end: question selection, the
// per-turn advisor race, the flow state machine, summaries and write-behind
// persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/parley/internal/advisor"
	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/eventlog"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/overlap"
	"github.com/TobiSchelling/parley/internal/summarize"
	"github.com/TobiSchelling/parley/internal/templates"
	"github.com/TobiSchelling/parley/internal/themes"
)

// ErrSessionNotFound is returned when resuming an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Store is the persistence the runner writes behind to and resumes from.
type Store interface {
	CreateSession(ctx context.Context, s database.Session) error
	GetSession(ctx context.Context, id string) (*database.Session, error)
	SetSessionStatus(ctx context.Context, id, status string, completedAt *time.Time, errMsg string) error
	SetAdditionalQuestions(ctx context.Context, id string, questions []string) error
	AppendTurns(ctx context.Context, sessionID string, from int, turns []models.TurnEntry) error
	Turns(ctx context.Context, sessionID string) ([]models.TurnEntry, error)
	SaveMetrics(ctx context.Context, sessionID string, m models.QuestionMetrics) error
	SaveSummary(ctx context.Context, sessionID string, s models.QuestionSummary) error
	Summaries(ctx context.Context, sessionID string) ([]models.QuestionSummary, error)
	SaveGuidanceEvents(ctx context.Context, sessionID string, events []models.GuidanceEvent) error
	GuidanceEvents(ctx context.Context, sessionID string) ([]models.GuidanceEvent, error)

	GetProject(ctx context.Context, id string) (*database.Project, error)
	AnalyzedSessions(ctx context.Context, collectionID, excludeID string) ([]themes.AnalyzedSession, error)
	ProjectAnalytics(ctx context.Context, projectID string) (*assemble.Analytics, error)
	PriorSessions(ctx context.Context, collectionID, excludeID string, limit int) ([]assemble.PriorSession, error)
}

// OverlapDetector checks a new question against earlier answers.
type OverlapDetector interface {
	Detect(ctx context.Context, in overlap.Input) *overlap.Result
}

// Summarizer produces the summary of a finished question.
type Summarizer interface {
	Summarize(ctx context.Context, in summarize.Input) models.QuestionSummary
}

// Deps are the collaborators of a Runner. Overlap, Questions, Themes and
// EventLogs are optional.
type Deps struct {
	Store       Store
	Interviewer Interviewer
	Advisor     advisor.Evaluator
	Overlap     OverlapDetector
	Summarizer  Summarizer
	Questions   QuestionGenerator
	Themes      *themes.Builder
	// Respondents builds the respondent for a persona.
	Respondents func(p *templates.Persona) Respondent
	// EventLogs opens the event log of a session.
	EventLogs func(sessionID string) (eventlog.Logger, error)
}

// Spec describes a new session.
type Spec struct {
	ID           string
	WorkspaceID  string
	ProjectID    string
	CollectionID string
	Template     models.Template
	Persona      *templates.Persona
}

// Result reports how a session ended.
type Result struct {
	SessionID string
	Status    string
	// Asked lists the question indexes that were asked, in order.
	Asked    []int
	Skipped  []int
	Turns    int
	Events   []models.GuidanceEvent
	Breakers []string
}

// Runner runs sessions. It holds no per-session state and is safe for
// concurrent use.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner creates a runner. cfg is an immutable snapshot for every
// session the runner starts.
func NewRunner(cfg *config.Config, deps Deps, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.EventLogs == nil {
		deps.EventLogs = func(string) (eventlog.Logger, error) { return eventlog.Nop{}, nil }
	}
	if deps.Respondents == nil {
		deps.Respondents = func(p *templates.Persona) Respondent { return NewScriptedRespondent(personaAnswers(p)) }
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

// NewLLMRunner wires a runner whose model-backed parts share one client.
func NewLLMRunner(cfg *config.Config, client *llm.Client, embedder llm.Embedder, store Store, logDir string, logger *zap.Logger) *Runner {
	deps := Deps{
		Store:       store,
		Interviewer: NewLLMInterviewer(client, cfg, logger),
		Advisor:     advisor.New(client, cfg, logger),
		Overlap:     overlap.NewDetector(client, cfg, logger),
		Summarizer:  summarize.New(client, cfg, logger),
		Questions:   NewLLMQuestionGenerator(client, cfg, logger),
		Themes:      themes.NewBuilder(embedder, themes.DefaultDistanceThreshold, logger),
		Respondents: func(p *templates.Persona) Respondent {
			if p != nil && len(p.Answers) > 0 {
				return NewScriptedRespondent(p.Answers)
			}
			return NewLLMRespondent(client, cfg, p)
		},
	}
	if logDir != "" {
		deps.EventLogs = func(id string) (eventlog.Logger, error) { return eventlog.Open(logDir, id) }
	}
	return NewRunner(cfg, deps, logger)
}

// Run starts a new session and drives it to completion, cancellation or a
// circuit breaker.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Template.Questions) == 0 {
		return nil, fmt.Errorf("template %q has no questions", spec.Template.ID)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	sess := database.Session{
		ID:           spec.ID,
		WorkspaceID:  spec.WorkspaceID,
		ProjectID:    spec.ProjectID,
		TemplateID:   spec.Template.ID,
		CollectionID: spec.CollectionID,
		Status:       models.SessionActive,
		Template:     spec.Template,
		Persona:      spec.Persona,
		StartedAt:    r.now(),
	}
	if spec.Persona != nil {
		sess.PersonaName = spec.Persona.Name
	}
	if err := r.deps.Store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	x, err := r.newRun(ctx, sess, nil)
	if err != nil {
		return nil, err
	}
	return x.drive(ctx, x.freshState(), resumePoint{})
}

// RunBatch runs sessions concurrently, at most concurrency at a time. Each
// session owns its transcript and metrics; a failing session does not stop
// the others. Results are in spec order; a nil entry means that session
// failed to start.
func (r *Runner) RunBatch(ctx context.Context, specs []Spec, concurrency int) ([]*Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*Result, len(specs))
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			res, err := r.Run(ctx, spec)
			results[i] = res
			if err != nil {
				r.logger.Error("session failed", zap.Int("batch_index", i), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %d: %w", i, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

func personaAnswers(p *templates.Persona) []string {
	if p == nil {
		return nil
	}
	return p.Answers
}
