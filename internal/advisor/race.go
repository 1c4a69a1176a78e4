package advisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/models"
)

// ErrTimedOut marks an evaluation that missed its turn deadline.
var ErrTimedOut = errors.New("advisor missed turn deadline")

// Turn is the input for one raced evaluation.
type Turn struct {
	Packet           *assemble.Packet
	RespondentText   string
	QuestionIndex    int
	TriggerTurnIndex int
	Attribution      models.Attribution
}

// Outcome is what the session loop sees for one turn.
type Outcome struct {
	// Guidance is set only when the result was on time and passed the gate.
	Guidance *Guidance
	// Event is the logged evaluation; nil when nothing arrived on time.
	Event    *models.GuidanceEvent
	Deadline time.Duration
	Err      error
}

// SuggestsAdvance reports whether injected guidance asks to move on.
func (o Outcome) SuggestsAdvance() bool {
	return o.Guidance != nil && o.Guidance.Action == models.ActionSuggestNextQuestion
}

type result struct {
	guidance *Guidance
	err      error
}

// Racer races advisor evaluations against the natural pacing of the turn.
// A result that misses the deadline is never injected or carried into a
// later turn; the evaluating goroutine only logs it as a late, non-injected
// event. Wait blocks until every evaluation has finished.
type Racer struct {
	eval        Evaluator
	gate        Gate
	callTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewRacer creates a racer. callTimeout bounds each evaluation even after
// its turn has moved on.
func NewRacer(eval Evaluator, gate Gate, callTimeout time.Duration, logger *zap.Logger) *Racer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Racer{eval: eval, gate: gate, callTimeout: callTimeout, logger: logger, now: time.Now}
}

// Race starts an evaluation and waits for it until the turn deadline or
// until ctx is done. Cancelling ctx stops the wait but not the call, whose
// result is then handled like any late result.
func (r *Racer) Race(ctx context.Context, turn Turn, log *Log) Outcome {
	deadline := r.gate.Deadline(turn.RespondentText)

	// The call outlives the session context; only callTimeout bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
	p := &pending{results: make(chan result, 1)}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		g, err := r.eval.Evaluate(callCtx, turn.Packet, turn.Attribution)
		if !p.deliver(result{guidance: g, err: err}) {
			r.late(turn, result{guidance: g, err: err}, log)
		}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-p.results:
		return r.onTime(turn, res, deadline, log)
	case <-timer.C:
	case <-ctx.Done():
	}
	if res, ok := p.abandon(); ok {
		return r.onTime(turn, res, deadline, log)
	}

	r.logger.Info("advisor missed turn deadline",
		zap.String("session_id", turn.Attribution.SessionID),
		zap.Int("question_index", turn.QuestionIndex),
		zap.Duration("deadline", deadline))
	return Outcome{Deadline: deadline, Err: ErrTimedOut}
}

// pending hands one result from the evaluating goroutine to the waiting
// turn, unless the turn has already given up on it.
type pending struct {
	mu        sync.Mutex
	abandoned bool
	results   chan result
}

// deliver passes res to the waiter. It returns false when the waiter has
// abandoned the result.
func (p *pending) deliver(res result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.results <- res
	return true
}

// abandon gives up on the result, returning it if it was delivered in the
// meantime.
func (p *pending) abandon() (result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case res := <-p.results:
		return res, true
	default:
	}
	p.abandoned = true
	return result{}, false
}

func (r *Racer) onTime(turn Turn, res result, deadline time.Duration, log *Log) Outcome {
	if res.err != nil || res.guidance == nil {
		r.logger.Warn("advisor evaluation failed; no guidance this turn",
			zap.String("session_id", turn.Attribution.SessionID),
			zap.Int("question_index", turn.QuestionIndex),
			zap.Error(res.err))
		return Outcome{Deadline: deadline, Err: res.err}
	}

	inject := r.gate.ShouldInject(res.guidance)
	ev := log.Append(r.event(turn, res.guidance, inject, false))
	out := Outcome{Event: &ev, Deadline: deadline}
	if inject {
		out.Guidance = res.guidance
	}
	return out
}

func (r *Racer) late(turn Turn, res result, log *Log) {
	if res.err != nil || res.guidance == nil {
		r.logger.Debug("late advisor evaluation failed",
			zap.String("session_id", turn.Attribution.SessionID),
			zap.Error(res.err))
		return
	}
	ev := log.Append(r.event(turn, res.guidance, false, true))
	r.logger.Info("late advisor result logged, not injected",
		zap.String("session_id", turn.Attribution.SessionID),
		zap.Int("question_index", turn.QuestionIndex),
		zap.Int("index", ev.Index),
		zap.String("action", string(ev.Action)))
}

func (r *Racer) event(turn Turn, g *Guidance, injected, late bool) models.GuidanceEvent {
	return models.GuidanceEvent{
		Action:           g.Action,
		MessageSummary:   g.Message,
		Confidence:       g.Confidence,
		Injected:         injected,
		Late:             late,
		Timestamp:        r.now(),
		QuestionIndex:    turn.QuestionIndex,
		TriggerTurnIndex: turn.TriggerTurnIndex,
	}
}

// Wait blocks until all in-flight and late evaluations have finished.
func (r *Racer) Wait() {
	r.wg.Wait()
}
