package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TobiSchelling/parley/internal/advisor"
	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/eventlog"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/summarize"
	"github.com/TobiSchelling/parley/internal/templates"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeInterviewer struct{}

func (fakeInterviewer) Ask(_ context.Context, u Utterance) string {
	if u.Kind == KindOpening {
		return u.QuestionText
	}
	return "follow-up on " + u.QuestionText
}

// fakeAdvisor returns the same guidance every turn after delay.
type fakeAdvisor struct {
	action     models.Action
	confidence float64
	delay      time.Duration
}

func (a fakeAdvisor) Evaluate(ctx context.Context, _ *assemble.Packet, _ models.Attribution) (*advisor.Guidance, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &advisor.Guidance{Action: a.action, Message: "go", Confidence: a.confidence}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, in summarize.Input) models.QuestionSummary {
	s := summarize.Minimal(in.QuestionIndex, in.QuestionText, in.Metrics, time.Now())
	s.RespondentSummary = "summary"
	return s
}

type fakeGenerator struct {
	questions []string
	err       error
}

func (g fakeGenerator) Generate(_ context.Context, req AdditionalRequest) ([]string, error) {
	return g.questions, g.err
}

// respondentFunc adapts a function to Respondent.
type respondentFunc func(ctx context.Context, in RespondInput) (string, error)

func (f respondentFunc) Respond(ctx context.Context, in RespondInput) (string, error) { return f(ctx, in) }

func openStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "parley.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Advisor.MinTurnDuration = config.Duration(200 * time.Millisecond)
	cfg.Advisor.HardCeiling = config.Duration(200 * time.Millisecond)
	cfg.Advisor.CallTimeout = config.Duration(2 * time.Second)
	return cfg
}

func advancing() fakeAdvisor {
	return fakeAdvisor{action: models.ActionSuggestNextQuestion, confidence: 0.9}
}

func newTestRunner(t *testing.T, cfg *config.Config, store Store, eval advisor.Evaluator) *Runner {
	t.Helper()
	return NewRunner(cfg, Deps{
		Store:       store,
		Interviewer: fakeInterviewer{},
		Advisor:     eval,
		Summarizer:  fakeSummarizer{},
	}, nil)
}

func threeQuestions() models.Template {
	return models.Template{
		ID:        "onboarding",
		Objective: "Understand onboarding",
		Questions: []models.Question{
			{Text: "How did you start?"},
			{Text: "What was hard?"},
			{Text: "What would you change?"},
		},
	}
}

func persona(answers ...string) *templates.Persona {
	return &templates.Persona{Name: "Sam", Answers: answers}
}

func TestRunAdvancesOnInjectedSuggestion(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, advancing())

	res, err := r.Run(context.Background(), Spec{Template: threeQuestions(), Persona: persona("a", "b", "c")})
	require.NoError(t, err)

	assert.Equal(t, models.SessionCompleted, res.Status)
	assert.Equal(t, []int{0, 1, 2}, res.Asked)
	assert.Equal(t, 6, res.Turns)
	require.Len(t, res.Events, 3)
	for i, ev := range res.Events {
		assert.Equal(t, i, ev.Index)
		assert.True(t, ev.Injected)
		assert.Equal(t, i, ev.QuestionIndex)
	}

	sess, err := db.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.NotNil(t, sess.CompletedAt)

	turns, err := db.Turns(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 6)
	assert.Equal(t, models.SpeakerRespondent, turns[1].Speaker)
	assert.Equal(t, "b", turns[3].Text)

	summaries, err := db.Summaries(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Len(t, summaries, 3)

	events, err := db.GuidanceEvents(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRunExhaustsFollowUpBudget(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, fakeAdvisor{action: models.ActionProbeFollowUp, confidence: 0.9})

	tmpl := models.Template{ID: "t", Questions: []models.Question{{Text: "Tell me", RecommendedFollowUps: 2}}}
	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("one", "two", "three")})
	require.NoError(t, err)

	// Opening plus two follow-ups, each answered.
	assert.Equal(t, 6, res.Turns)
	assert.Len(t, res.Events, 3)

	metrics, err := db.Metrics(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 2, metrics[0].FollowUpCount)
	assert.Equal(t, 3, metrics[0].TurnCount)
}

func TestRunLowConfidenceIsNotInjected(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, fakeAdvisor{action: models.ActionSuggestNextQuestion, confidence: 0.4})

	tmpl := models.Template{ID: "t", Questions: []models.Question{{Text: "Tell me", RecommendedFollowUps: 1}}}
	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("one", "two")})
	require.NoError(t, err)

	// The suggestion never lands, so the question runs its budget.
	assert.Equal(t, 4, res.Turns)
	for _, ev := range res.Events {
		assert.False(t, ev.Injected)
	}
}

func TestRunSkipsConditionalQuestion(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, advancing())

	dep := 0
	tmpl := threeQuestions()
	tmpl.Questions[1].Logic = &models.ConditionalLogic{DependsOn: &dep, ShowWhen: "yes|sure"}

	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("no, never", "fine")})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, res.Asked)
	assert.Equal(t, []int{1}, res.Skipped)
	assert.Equal(t, models.SessionCompleted, res.Status)
}

func TestRunAdditionalPhase(t *testing.T) {
	db := openStore(t)
	cfg := testConfig()
	cfg.Flow.AdditionalQuestions = config.AdditionalQuestions{Enabled: true, Count: 2}
	r := NewRunner(cfg, Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		Questions:   fakeGenerator{questions: []string{"Extra one?", "Extra two?"}},
	}, nil)

	tmpl := models.Template{ID: "t", Questions: []models.Question{{Text: "Only question"}}}
	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("a", "b", "c")})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, res.Asked)

	sess, err := db.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Extra one?", "Extra two?"}, sess.AdditionalQuestions)

	turns, err := db.Turns(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Extra two?", turns[4].Text)
	assert.Equal(t, 2, turns[4].QuestionIndex)
}

func TestRunAdditionalGenerationFailureCompletes(t *testing.T) {
	db := openStore(t)
	cfg := testConfig()
	cfg.Flow.AdditionalQuestions = config.AdditionalQuestions{Enabled: true, Count: 2}
	r := NewRunner(cfg, Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		Questions:   fakeGenerator{err: errors.New("model down")},
	}, nil)

	tmpl := models.Template{ID: "t", Questions: []models.Question{{Text: "Only question"}}}
	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("a")})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, res.Status)
	assert.Equal(t, []int{0}, res.Asked)
}

func TestRunLateGuidanceIsLoggedBeforeFlush(t *testing.T) {
	db := openStore(t)
	cfg := testConfig()
	cfg.Advisor.MinTurnDuration = config.Duration(10 * time.Millisecond)
	cfg.Advisor.HardCeiling = config.Duration(10 * time.Millisecond)
	slow := fakeAdvisor{action: models.ActionSuggestNextQuestion, confidence: 0.9, delay: 150 * time.Millisecond}
	r := newTestRunner(t, cfg, db, slow)

	tmpl := models.Template{ID: "t", Questions: []models.Question{{Text: "Tell me", RecommendedFollowUps: 1}}}
	res, err := r.Run(context.Background(), Spec{Template: tmpl, Persona: persona("one", "two")})
	require.NoError(t, err)

	// Both evaluations missed their turn and were never injected.
	assert.Equal(t, 4, res.Turns)
	require.Len(t, res.Events, 2)
	for _, ev := range res.Events {
		assert.True(t, ev.Late)
		assert.False(t, ev.Injected)
	}

	events, err := db.GuidanceEvents(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRunRespondentFailureFailsSession(t *testing.T) {
	db := openStore(t)
	r := NewRunner(testConfig(), Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		Respondents: func(*templates.Persona) Respondent {
			return respondentFunc(func(context.Context, RespondInput) (string, error) {
				return "", errors.New("respondent offline")
			})
		},
	}, nil)

	res, err := r.Run(context.Background(), Spec{Template: threeQuestions()})
	require.Error(t, err)
	assert.Equal(t, models.SessionFailed, res.Status)

	sess, err := db.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, sess.Status)
	assert.Contains(t, sess.Error, "respondent offline")
}

func TestQuestionBreakerForcesAdvance(t *testing.T) {
	db := openStore(t)
	cfg := testConfig()
	cfg.Limits.QuestionWallClock = config.Duration(100 * time.Millisecond)
	r := NewRunner(cfg, Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		Respondents: func(*templates.Persona) Respondent {
			return respondentFunc(func(ctx context.Context, in RespondInput) (string, error) {
				if in.QuestionIndex == 0 {
					<-ctx.Done()
					return "", ctx.Err()
				}
				return "answer", nil
			})
		},
	}, nil)

	tmpl := threeQuestions()
	tmpl.Questions = tmpl.Questions[:2]
	res, err := r.Run(context.Background(), Spec{Template: tmpl})
	require.NoError(t, err)

	assert.Equal(t, models.SessionCompleted, res.Status)
	assert.Equal(t, []string{BreakerQuestion}, res.Breakers)
	assert.Equal(t, []int{0, 1}, res.Asked)

	summaries, err := db.Summaries(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestCancelThenResume(t *testing.T) {
	db := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	blocking := func(*templates.Persona) Respondent {
		return respondentFunc(func(c context.Context, in RespondInput) (string, error) {
			if in.QuestionIndex == 1 {
				once.Do(cancel)
				<-c.Done()
				return "", c.Err()
			}
			return "answer", nil
		})
	}
	deps := Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		Respondents: blocking,
	}
	r := NewRunner(testConfig(), deps, nil)

	res, err := r.Run(ctx, Spec{ID: "s-resume", Template: threeQuestions()})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, res.Status)

	sess, err := db.GetSession(context.Background(), "s-resume")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, sess.Status)

	// Question 1 was opened but never answered or summarized.
	summaries, err := db.Summaries(context.Background(), "s-resume")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	deps.Respondents = func(*templates.Persona) Respondent {
		return respondentFunc(func(context.Context, RespondInput) (string, error) { return "answer", nil })
	}
	resumed, err := NewRunner(testConfig(), deps, nil).Resume(context.Background(), "s-resume")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, resumed.Status)
	assert.Equal(t, []int{1, 2}, resumed.Asked)

	turns, err := db.Turns(context.Background(), "s-resume")
	require.NoError(t, err)
	// The open question's opening is not asked twice.
	assert.Len(t, turns, 6)

	events, err := db.GuidanceEvents(context.Background(), "s-resume")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[2].Index)
}

func TestResumeUnknownSession(t *testing.T) {
	r := newTestRunner(t, testConfig(), openStore(t), advancing())
	_, err := r.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResumeCompletedSessionFails(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, advancing())
	res, err := r.Run(context.Background(), Spec{Template: threeQuestions(), Persona: persona("a", "b", "c")})
	require.NoError(t, err)

	_, err = r.Resume(context.Background(), res.SessionID)
	assert.Error(t, err)
}

func TestRunBatchIsolatesSessions(t *testing.T) {
	db := openStore(t)
	r := newTestRunner(t, testConfig(), db, advancing())

	specs := []Spec{
		{Template: threeQuestions(), Persona: persona("a1", "a2", "a3")},
		{Template: threeQuestions(), Persona: persona("b1", "b2", "b3")},
		{Template: models.Template{ID: "empty"}},
	}
	results, err := r.RunBatch(context.Background(), specs, 2)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Nil(t, results[2])

	for i, res := range results[:2] {
		require.NotNil(t, res, "session %d", i)
		assert.Equal(t, models.SessionCompleted, res.Status)
		turns, err := db.Turns(context.Background(), res.SessionID)
		require.NoError(t, err)
		assert.Equal(t, specs[i].Persona.Answers[2], turns[5].Text)
	}
}

func TestRunWritesEventLog(t *testing.T) {
	db := openStore(t)
	dir := t.TempDir()
	r := NewRunner(testConfig(), Deps{
		Store:       db,
		Interviewer: fakeInterviewer{},
		Advisor:     advancing(),
		Summarizer:  fakeSummarizer{},
		EventLogs:   func(id string) (eventlog.Logger, error) { return eventlog.Open(dir, id) },
	}, nil)

	res, err := r.Run(context.Background(), Spec{Template: threeQuestions(), Persona: persona("a", "b", "c")})
	require.NoError(t, err)

	events, err := eventlog.ReadLog(eventlog.LogPath(res.SessionID, dir))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, eventlog.KindSessionStart, events[0].Kind)
	assert.Equal(t, eventlog.KindSessionEnd, events[len(events)-1].Kind)

	kinds := map[eventlog.Kind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 6, kinds[eventlog.KindTurn])
	assert.Equal(t, 3, kinds[eventlog.KindGuidance])
	assert.Equal(t, 3, kinds[eventlog.KindSummary])
}

func TestScriptedRespondentIsStateless(t *testing.T) {
	s := NewScriptedRespondent([]string{"first", "second"})
	ctx := context.Background()

	got, err := s.Respond(ctx, RespondInput{Answered: 1})
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	got, err = s.Respond(ctx, RespondInput{Answered: 5})
	require.NoError(t, err)
	assert.Equal(t, exhaustedAnswer, got)
}

func TestLLMInterviewerDegrades(t *testing.T) {
	i := NewLLMInterviewer(llm.NewClient(nil, nil, nil), testConfig(), nil)
	ctx := context.Background()

	assert.Equal(t, "Why?", i.Ask(ctx, Utterance{Kind: KindOpening, QuestionText: "Why?"}))
	assert.Equal(t, genericProbe, i.Ask(ctx, Utterance{Kind: KindFollowUp, QuestionText: "Why?"}))
}
