package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/advisor"
	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/eventlog"
	"github.com/TobiSchelling/parley/internal/flow"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/overlap"
	"github.com/TobiSchelling/parley/internal/summarize"
	"github.com/TobiSchelling/parley/internal/transcript"
)

// Breaker names.
const (
	BreakerQuestion = "question_wall_clock"
	BreakerSession  = "session_wall_clock"
)

// recentForOverlap is how many recent entries the overlap check sees.
const recentForOverlap = 6

// run is the state of one session. It is owned by a single goroutine; only
// the guidance log is shared with late advisor evaluations.
type run struct {
	r      *Runner
	cfg    *config.Config
	sess   database.Session
	attr   models.Attribution
	logger *zap.Logger

	store      *transcript.Store
	tracker    *transcript.Tracker
	log        *advisor.Log
	racer      *advisor.Racer
	gate       advisor.Gate
	respondent Respondent
	events     eventlog.Logger

	summaries  []models.QuestionSummary
	additional []string
	opts       flow.Options

	crossSession *assemble.CrossSessionContext
	analytics    *assemble.Analytics
	hypotheses   bool

	flushed int
	result  *Result
}

// resumePoint says where an interrupted question left off.
type resumePoint struct {
	open               bool
	awaitingRespondent bool
	metrics            models.QuestionMetrics
}

// questionEnd is how a question loop ended.
type questionEnd struct {
	decision  flow.Decision
	breaker   string
	cancelled bool
	err       error
}

func (r *Runner) newRun(ctx context.Context, sess database.Session, seed []models.GuidanceEvent) (*run, error) {
	events, err := r.deps.EventLogs(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	logger := r.logger.With(zap.String("session_id", sess.ID))
	x := &run{
		r:          r,
		cfg:        r.cfg,
		sess:       sess,
		attr:       sess.Attribution(),
		logger:     logger,
		store:      transcript.NewStore(r.cfg.Transcript.WorkingWindow),
		tracker:    transcript.NewTracker(),
		gate:       advisor.NewGate(r.cfg.Advisor),
		respondent: r.deps.Respondents(sess.Persona),
		events:     events,
		additional: sess.AdditionalQuestions,
		opts: flow.Options{
			AdditionalEnabled: r.cfg.Flow.AdditionalQuestions.Enabled,
			AdditionalCount:   r.cfg.Flow.AdditionalQuestions.Count,
		},
		result: &Result{SessionID: sess.ID, Status: models.SessionActive},
	}
	x.log = advisor.NewLog(seed, func(ev models.GuidanceEvent) {
		x.emit(eventlog.KindGuidance, &ev.QuestionIndex, ev)
	})
	x.racer = advisor.NewRacer(r.deps.Advisor, x.gate, r.cfg.Advisor.CallTimeout.Std(), logger)
	x.loadEnrichment(ctx)
	return x, nil
}

// loadEnrichment computes the read-only cross-session and analytics inputs
// once per session. Failures leave the feed off.
func (x *run) loadEnrichment(ctx context.Context) {
	if x.sess.ProjectID == "" {
		return
	}
	project, err := x.r.deps.Store.GetProject(ctx, x.sess.ProjectID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			x.logger.Warn("loading project failed; enrichment disabled", zap.Error(err))
		}
		return
	}

	if project.CrossSessionEnabled && x.r.deps.Themes != nil && x.sess.CollectionID != "" {
		analyzed, err := x.r.deps.Store.AnalyzedSessions(ctx, x.sess.CollectionID, x.sess.ID)
		if err != nil {
			x.logger.Warn("loading analyzed sessions failed", zap.Error(err))
		} else if len(analyzed) >= x.cfg.Enrichment.CrossSession.MinAnalyzedSessions {
			snap, err := x.r.deps.Themes.Build(ctx, x.sess.CollectionID, analyzed)
			if err != nil {
				x.logger.Warn("building cross-session snapshot failed", zap.Error(err))
			} else {
				x.crossSession = assemble.CrossSession(snap, true, x.cfg.Enrichment.CrossSession)
			}
		}
	}

	if project.HypothesesEnabled {
		a, err := x.r.deps.Store.ProjectAnalytics(ctx, x.sess.ProjectID)
		if err != nil {
			x.logger.Warn("loading project analytics failed", zap.Error(err))
			return
		}
		x.analytics = a
		x.hypotheses = true
	}
}

func (x *run) freshState() flow.State {
	first := flow.NextIndex(x.sess.Template.Questions, 0, nil)
	x.noteSkips(0, first)
	return flow.State{CurrentQuestionIndex: first, TotalQuestions: len(x.sess.Template.Questions)}
}

// drive runs questions until the flow completes, the session is cancelled
// or the session breaker trips. st is the question to run next.
func (x *run) drive(ctx context.Context, st flow.State, rp resumePoint) (*Result, error) {
	sctx, cancel := context.WithTimeout(ctx, x.cfg.Limits.SessionWallClock.Std())
	defer cancel()

	x.emit(eventlog.KindSessionStart, nil, map[string]any{"resumed": rp.open || x.store.Len() > 0})

	var runErr error
	status := models.SessionCompleted
	for {
		if !st.InAdditionalPhase && st.CurrentQuestionIndex >= st.TotalQuestions {
			st = x.endOfPrimary(sctx, st)
			if !st.InAdditionalPhase {
				break
			}
		}
		if st.InAdditionalPhase && st.CurrentAdditionalIndex >= len(x.additional) {
			break
		}

		end := x.question(ctx, sctx, &st, rp)
		rp = resumePoint{}
		if end.cancelled {
			status = models.SessionCancelled
			break
		}
		if end.err != nil {
			status = models.SessionFailed
			runErr = end.err
			break
		}
		if end.breaker == BreakerSession {
			break
		}

		next, done := x.transition(sctx, st, end.decision)
		if done {
			break
		}
		st = next
	}

	// Late evaluations still land in the guidance log before the final flush.
	x.racer.Wait()
	return x.finish(context.WithoutCancel(ctx), status, runErr)
}

// transition applies a flow decision to the state.
func (x *run) transition(ctx context.Context, st flow.State, d flow.Decision) (flow.State, bool) {
	from := st.QuestionIndex()
	switch d {
	case flow.Complete:
		x.emit(eventlog.KindTransition, &from, map[string]any{"decision": d})
		return st, true
	case flow.StartAdditionalPhase:
		st.CurrentQuestionIndex = st.TotalQuestions
	case flow.NextQuestion:
		if st.InAdditionalPhase {
			st.CurrentAdditionalIndex++
		} else {
			next := flow.NextIndex(x.sess.Template.Questions, st.CurrentQuestionIndex+1, x.answers())
			x.noteSkips(st.CurrentQuestionIndex+1, next)
			st.CurrentQuestionIndex = next
		}
	}
	st.FollowUpCount = 0
	st.AdvisorSuggestedAdvance = false
	x.emit(eventlog.KindTransition, &from, map[string]any{"decision": d, "to": st.QuestionIndex()})
	return st, false
}

// endOfPrimary enters the additional phase when it is allowed and questions
// can be generated; otherwise the state is returned unchanged.
func (x *run) endOfPrimary(ctx context.Context, st flow.State) flow.State {
	if flow.EndOfPrimary(x.opts) != flow.StartAdditionalPhase {
		return st
	}
	if len(x.additional) == 0 {
		x.additional = x.generateAdditional(ctx)
	}
	if len(x.additional) == 0 {
		return st
	}
	st.InAdditionalPhase = true
	st.CurrentQuestionIndex = st.TotalQuestions - 1
	st.TotalAdditional = len(x.additional)
	return st
}

func (x *run) generateAdditional(ctx context.Context) []string {
	if x.r.deps.Questions == nil {
		return nil
	}
	prior, err := x.r.deps.Store.PriorSessions(ctx, x.sess.CollectionID, x.sess.ID, 0)
	if err != nil {
		x.logger.Warn("loading prior sessions failed", zap.Error(err))
	}
	selected := assemble.AdditionalContext(x.sess.ID, prior, x.cfg.Enrichment.Additional)

	questions, err := x.r.deps.Questions.Generate(ctx, AdditionalRequest{
		Template:    x.sess.Template,
		Context:     assemble.RenderAdditional(x.summaries, selected),
		Count:       x.opts.AdditionalCount,
		Attribution: x.attr,
	})
	if err != nil {
		x.logger.Warn("additional question generation failed; completing session", zap.Error(err))
		return nil
	}
	if err := x.r.deps.Store.SetAdditionalQuestions(context.WithoutCancel(ctx), x.sess.ID, questions); err != nil {
		x.logger.Warn("persisting additional questions failed", zap.Error(err))
	}
	return questions
}

// question runs one question: opening, then respondent turn, advisor race
// and flow decision until the question is done.
func (x *run) question(ctx, sctx context.Context, st *flow.State, rp resumePoint) questionEnd {
	qIndex := st.QuestionIndex()
	text, guidance, recommended := x.questionText(*st)
	st.MaxTurnsPerQuestion = flow.MaxTurns(recommended, x.cfg.Flow.DefaultFollowUps, x.cfg.Flow.MaxFollowUps)

	qctx, cancel := context.WithTimeout(sctx, x.cfg.Limits.QuestionWallClock.Std())
	defer cancel()

	awaiting := true
	if rp.open {
		x.tracker.Resume(rp.metrics)
		awaiting = rp.awaitingRespondent
	} else {
		if recommended <= 0 {
			recommended = x.cfg.Flow.DefaultFollowUps
		}
		x.tracker.Start(qIndex, recommended, x.r.now())
		opening := x.opening(qctx, text, qIndex)
		if end, stop := x.interrupted(ctx, sctx, qctx); stop {
			return x.endQuestion(ctx, sctx, st, end)
		}
		x.append(models.SpeakerInterviewer, opening, qIndex)
	}
	x.result.Asked = append(x.result.Asked, qIndex)

	for {
		var out advisor.Outcome
		if awaiting {
			utterance, _ := x.store.Last()
			answer, err := x.respondent.Respond(qctx, RespondInput{
				Utterance:     utterance.Text,
				QuestionIndex: qIndex,
				History:       x.store.Working(),
				Answered:      x.answered(),
				Attribution:   x.attr,
			})
			if end, stop := x.interrupted(ctx, sctx, qctx); stop {
				return x.endQuestion(ctx, sctx, st, end)
			}
			if err != nil {
				return questionEnd{err: fmt.Errorf("respondent: %w", err)}
			}

			x.tracker.RecordRespondentTurn(answer, transcript.EstimateSpeakingTime(transcript.CountWords(answer), x.cfg.Advisor.WordsPerMinute))
			trigger := x.append(models.SpeakerRespondent, answer, qIndex)
			metrics, _ := x.tracker.Current()

			packet := assemble.Build(assemble.Input{
				Template:          x.sess.Template,
				QuestionIndex:     qIndex,
				QuestionText:      text,
				QuestionGuidance:  guidance,
				InAdditionalPhase: st.InAdditionalPhase,
				Working:           x.store.Working(),
				Summaries:         x.summaries,
				Metrics:           metrics,
				MaxFollowUps:      st.MaxTurnsPerQuestion,
				Elapsed:           x.r.now().Sub(x.sess.StartedAt).Round(time.Second).String(),
				CrossSession:      x.crossSession,
				Hypotheses:        assemble.Hypotheses(x.analytics, x.hypotheses, x.cfg.Enrichment.Hypotheses, qIndex),
			})
			out = x.racer.Race(qctx, advisor.Turn{
				Packet:           packet,
				RespondentText:   answer,
				QuestionIndex:    qIndex,
				TriggerTurnIndex: trigger,
				Attribution:      x.attr,
			}, x.log)
			if end, stop := x.interrupted(ctx, sctx, qctx); stop {
				return x.endQuestion(ctx, sctx, st, end)
			}
			st.AdvisorSuggestedAdvance = out.SuggestsAdvance()
		}
		awaiting = true

		metrics, _ := x.tracker.Current()
		st.FollowUpCount = metrics.FollowUpCount
		d := flow.Decide(*st, x.opts)
		if d != flow.Continue {
			return x.endQuestion(ctx, sctx, st, questionEnd{decision: d})
		}

		followUp := x.r.deps.Interviewer.Ask(qctx, Utterance{
			Kind:          KindFollowUp,
			Template:      x.sess.Template,
			QuestionIndex: qIndex,
			QuestionText:  text,
			Guidance:      out.Guidance,
			Working:       x.store.Working(),
			Upcoming:      x.upcoming(*st),
			Attribution:   x.attr,
		})
		if end, stop := x.interrupted(ctx, sctx, qctx); stop {
			return x.endQuestion(ctx, sctx, st, end)
		}
		x.append(models.SpeakerInterviewer, followUp, qIndex)
		x.tracker.RecordFollowUp()
	}
}

// interrupted classifies a done context: user cancellation first, then the
// session breaker, then the question breaker.
func (x *run) interrupted(ctx, sctx, qctx context.Context) (questionEnd, bool) {
	switch {
	case ctx.Err() != nil:
		return questionEnd{cancelled: true}, true
	case sctx.Err() != nil:
		return questionEnd{breaker: BreakerSession}, true
	case qctx.Err() != nil:
		return questionEnd{breaker: BreakerQuestion}, true
	}
	return questionEnd{}, false
}

// endQuestion freezes metrics, writes the summary and flushes. A cancelled
// question is left open so it can be resumed.
func (x *run) endQuestion(ctx, sctx context.Context, st *flow.State, end questionEnd) questionEnd {
	qIndex := st.QuestionIndex()
	if end.cancelled || end.err != nil {
		x.flush(context.WithoutCancel(ctx), nil)
		return end
	}

	if end.breaker != "" {
		x.result.Breakers = append(x.result.Breakers, end.breaker)
		x.logger.Warn("circuit breaker tripped", zap.String("breaker", end.breaker), zap.Int("question_index", qIndex))
		x.emit(eventlog.KindBreaker, &qIndex, map[string]any{"breaker": end.breaker})
		if end.breaker == BreakerQuestion {
			st.AdvisorSuggestedAdvance = true
			end.decision = flow.Decide(*st, x.opts)
		} else {
			end.decision = flow.Complete
		}
	}

	metrics, ok := x.tracker.End()
	if !ok {
		return end
	}
	text, _, _ := x.questionText(*st)
	sum := x.r.deps.Summarizer.Summarize(context.WithoutCancel(ctx), summarize.Input{
		QuestionIndex: qIndex,
		QuestionText:  text,
		Turns:         x.store.ForQuestion(qIndex),
		Upcoming:      x.upcoming(*st),
		Metrics:       metrics,
		Attribution:   x.attr,
	})
	x.summaries = append(x.summaries, sum)
	x.emit(eventlog.KindSummary, &qIndex, sum)
	x.flush(context.WithoutCancel(ctx), &metrics)
	return end
}

// opening produces the interviewer's first utterance for a question,
// acknowledging earlier coverage when the overlap check finds some.
func (x *run) opening(ctx context.Context, text string, qIndex int) string {
	var res *overlap.Result
	if x.r.deps.Overlap != nil {
		res = x.r.deps.Overlap.Detect(ctx, overlap.Input{
			QuestionText: text,
			Summaries:    x.summaries,
			Recent:       x.store.Recent(recentForOverlap),
			Attribution:  x.attr,
		})
		if res != nil {
			x.emit(eventlog.KindOverlap, &qIndex, res)
		}
	}
	return x.r.deps.Interviewer.Ask(ctx, Utterance{
		Kind:          KindOpening,
		Template:      x.sess.Template,
		QuestionIndex: qIndex,
		QuestionText:  text,
		Overlap:       res,
		Working:       x.store.Working(),
		Attribution:   x.attr,
	})
}

func (x *run) questionText(st flow.State) (text, guidance string, recommended int) {
	if st.InAdditionalPhase {
		if st.CurrentAdditionalIndex < len(x.additional) {
			return x.additional[st.CurrentAdditionalIndex], "", 0
		}
		return "", "", 0
	}
	q := x.sess.Template.Questions[st.CurrentQuestionIndex]
	return q.Text, q.Guidance, q.RecommendedFollowUps
}

func (x *run) upcoming(st flow.State) []string {
	if st.InAdditionalPhase {
		if st.CurrentAdditionalIndex+1 < len(x.additional) {
			return x.additional[st.CurrentAdditionalIndex+1:]
		}
		return nil
	}
	texts := x.sess.Template.QuestionTexts()
	if st.CurrentQuestionIndex+1 < len(texts) {
		return texts[st.CurrentQuestionIndex+1:]
	}
	return nil
}

func (x *run) answers() flow.Answers {
	return flow.AnswersFrom(x.store.Persisted())
}

func (x *run) answered() int {
	n := 0
	for _, e := range x.store.Persisted() {
		if e.Speaker == models.SpeakerRespondent {
			n++
		}
	}
	return n
}

// noteSkips records the questions in [from, to) that were skipped.
func (x *run) noteSkips(from, to int) {
	answers := x.answers()
	for i := from; i < to && i < len(x.sess.Template.Questions); i++ {
		_, reason := flow.ShouldSkip(x.sess.Template.Questions[i], i, answers)
		x.result.Skipped = append(x.result.Skipped, i)
		x.logger.Info("question skipped", zap.Int("question_index", i), zap.String("reason", reason))
		x.emit(eventlog.KindSkip, &i, map[string]any{"reason": reason})
	}
}

func (x *run) append(speaker models.Speaker, text string, qIndex int) int {
	e := models.TurnEntry{Speaker: speaker, Text: text, Timestamp: x.r.now(), QuestionIndex: qIndex}
	idx := x.store.Append(e)
	x.emit(eventlog.KindTurn, &qIndex, e)
	return idx
}

// flush writes new turns, the given metrics, the latest summary and the
// guidance log behind the in-memory state. Failures are logged; in-memory
// state stays authoritative.
func (x *run) flush(ctx context.Context, metrics *models.QuestionMetrics) {
	st := x.r.deps.Store
	turns := x.store.Persisted()
	if x.flushed < len(turns) {
		if err := st.AppendTurns(ctx, x.sess.ID, x.flushed, turns[x.flushed:]); err != nil {
			x.logger.Warn("persisting turns failed", zap.Error(err))
		} else {
			x.flushed = len(turns)
		}
	}
	if metrics != nil {
		if err := st.SaveMetrics(ctx, x.sess.ID, *metrics); err != nil {
			x.logger.Warn("persisting metrics failed", zap.Error(err))
		}
		if n := len(x.summaries); n > 0 {
			if err := st.SaveSummary(ctx, x.sess.ID, x.summaries[n-1]); err != nil {
				x.logger.Warn("persisting summary failed", zap.Error(err))
			}
		}
	} else if m, ok := x.tracker.Current(); ok {
		if err := st.SaveMetrics(ctx, x.sess.ID, m); err != nil {
			x.logger.Warn("persisting metrics failed", zap.Error(err))
		}
	}
	if err := st.SaveGuidanceEvents(ctx, x.sess.ID, x.log.Events()); err != nil {
		x.logger.Warn("persisting guidance log failed", zap.Error(err))
	}
}

func (x *run) finish(ctx context.Context, status string, runErr error) (*Result, error) {
	x.flush(ctx, nil)

	var completed *time.Time
	if status == models.SessionCompleted {
		t := x.r.now()
		completed = &t
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := x.r.deps.Store.SetSessionStatus(ctx, x.sess.ID, status, completed, errMsg); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("updating session status: %w", err))
	}

	x.emit(eventlog.KindSessionEnd, nil, map[string]any{"status": status, "breakers": x.result.Breakers})
	if err := x.events.Close(); err != nil {
		x.logger.Warn("closing event log failed", zap.Error(err))
	}

	x.result.Status = status
	x.result.Turns = x.store.Len()
	x.result.Events = x.log.Events()
	x.logger.Info("session finished",
		zap.String("status", status),
		zap.Int("turns", x.result.Turns),
		zap.Int("guidance_events", len(x.result.Events)))
	return x.result, runErr
}

func (x *run) emit(kind eventlog.Kind, qIndex *int, data any) {
	ev := eventlog.Event{Time: x.r.now(), SessionID: x.sess.ID, Kind: kind, Data: data}
	if qIndex != nil {
		ev.QuestionIndex = eventlog.At(*qIndex)
	}
	x.events.Log(ev)
}
