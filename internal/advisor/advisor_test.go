package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testGate() Gate {
	return Gate{Threshold: DefaultThreshold, WordsPerMinute: 150, MinTurn: 3 * time.Second, Ceiling: 8 * time.Second}
}

func TestShouldInject(t *testing.T) {
	g := testGate()
	tests := []struct {
		name     string
		guidance *Guidance
		want     bool
	}{
		{"exactly at threshold", &Guidance{Action: models.ActionProbeFollowUp, Confidence: 0.6}, false},
		{"just above threshold", &Guidance{Action: models.ActionProbeFollowUp, Confidence: 0.61}, true},
		{"none is never injected", &Guidance{Action: models.ActionNone, Confidence: 0.99}, false},
		{"unknown is never injected", &Guidance{Action: models.ActionUnknown, Confidence: 0.99}, false},
		{"nil guidance", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ShouldInject(tt.guidance))
		})
	}
}

func TestDeadline(t *testing.T) {
	g := testGate()
	assert.Equal(t, 3*time.Second, g.Deadline("short answer"), "floor applies")
	assert.Equal(t, 4*time.Second, g.Deadline(strings.Repeat("word ", 10)), "10 words at 150 wpm")
	assert.Equal(t, 8*time.Second, g.Deadline(strings.Repeat("word ", 100)), "ceiling applies")
	assert.Equal(t, 40*time.Second, g.NaturalTurnDuration(strings.Repeat("word ", 100)))
}

func TestNewGateFromConfig(t *testing.T) {
	g := NewGate(config.Default().Advisor)
	assert.Equal(t, testGate(), g)
}

// fakeEvaluator returns a fixed result, optionally after release is closed.
type fakeEvaluator struct {
	guidance *Guidance
	err      error
	release  chan struct{}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, _ *assemble.Packet, _ models.Attribution) (*Guidance, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.guidance, f.err
}

func fastGate() Gate {
	return Gate{Threshold: DefaultThreshold, WordsPerMinute: 150, MinTurn: 50 * time.Millisecond, Ceiling: 50 * time.Millisecond}
}

func TestRaceOnTimeInjects(t *testing.T) {
	eval := &fakeEvaluator{guidance: &Guidance{Action: models.ActionProbeFollowUp, Message: "Ask why", Confidence: 0.9}}
	r := NewRacer(eval, fastGate(), time.Second, nil)
	log := NewLog(nil, nil)

	out := r.Race(context.Background(), Turn{QuestionIndex: 2, TriggerTurnIndex: 7}, log)
	r.Wait()

	require.NoError(t, out.Err)
	require.NotNil(t, out.Guidance)
	require.NotNil(t, out.Event)
	assert.True(t, out.Event.Injected)
	assert.Equal(t, 2, out.Event.QuestionIndex)
	assert.Equal(t, 7, out.Event.TriggerTurnIndex)
	assert.Equal(t, 1, log.Len())
}

func TestRaceOnTimeBelowThresholdIsLoggedNotInjected(t *testing.T) {
	eval := &fakeEvaluator{guidance: &Guidance{Action: models.ActionSuggestNextQuestion, Confidence: 0.6}}
	r := NewRacer(eval, fastGate(), time.Second, nil)
	log := NewLog(nil, nil)

	out := r.Race(context.Background(), Turn{}, log)
	r.Wait()

	assert.Nil(t, out.Guidance)
	assert.False(t, out.SuggestsAdvance())
	require.NotNil(t, out.Event)
	assert.False(t, out.Event.Injected)
	assert.Equal(t, 1, log.Len())
}

func TestRaceFailureYieldsNoGuidance(t *testing.T) {
	r := NewRacer(&fakeEvaluator{err: llm.ErrSchema}, fastGate(), time.Second, nil)
	log := NewLog(nil, nil)

	out := r.Race(context.Background(), Turn{}, log)
	r.Wait()

	assert.Nil(t, out.Guidance)
	assert.Nil(t, out.Event)
	assert.ErrorIs(t, out.Err, llm.ErrSchema)
	assert.Zero(t, log.Len())
}

func TestRaceLateResultIsLoggedNeverInjected(t *testing.T) {
	release := make(chan struct{})
	eval := &fakeEvaluator{
		guidance: &Guidance{Action: models.ActionSuggestNextQuestion, Confidence: 0.95},
		release:  release,
	}
	var mu sync.Mutex
	var sunk []models.GuidanceEvent
	log := NewLog(nil, func(ev models.GuidanceEvent) {
		mu.Lock()
		sunk = append(sunk, ev)
		mu.Unlock()
	})
	r := NewRacer(eval, fastGate(), 5*time.Second, nil)

	out := r.Race(context.Background(), Turn{QuestionIndex: 1}, log)
	assert.ErrorIs(t, out.Err, ErrTimedOut)
	assert.Nil(t, out.Guidance)
	assert.Nil(t, out.Event)
	assert.False(t, out.SuggestsAdvance())

	close(release)
	r.Wait()

	events := log.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Late)
	assert.False(t, events[0].Injected)
	assert.Equal(t, models.ActionSuggestNextQuestion, events[0].Action)
	mu.Lock()
	assert.Len(t, sunk, 1)
	mu.Unlock()
}

func TestRaceCancelledSessionStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	eval := &fakeEvaluator{guidance: &Guidance{Action: models.ActionProbeFollowUp, Confidence: 0.9}, release: release}
	gate := Gate{Threshold: DefaultThreshold, WordsPerMinute: 150, MinTurn: time.Minute, Ceiling: time.Minute}
	r := NewRacer(eval, gate, 5*time.Second, nil)
	log := NewLog(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	out := r.Race(ctx, Turn{}, log)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, out.Err, ErrTimedOut)

	// The call itself was not cancelled; it completes and is logged as late.
	close(release)
	r.Wait()
	events := log.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Late)
}

func TestRaceCallTimeoutBoundsDetachedCall(t *testing.T) {
	eval := &fakeEvaluator{release: make(chan struct{})}
	r := NewRacer(eval, fastGate(), 100*time.Millisecond, nil)
	log := NewLog(nil, nil)

	out := r.Race(context.Background(), Turn{}, log)
	assert.ErrorIs(t, out.Err, ErrTimedOut)
	r.Wait()
	assert.Zero(t, log.Len(), "a failed late call logs nothing")
}

func TestLogAssignsIndexes(t *testing.T) {
	log := NewLog([]models.GuidanceEvent{{Index: 0}}, nil)
	ev := log.Append(models.GuidanceEvent{Index: 99})
	assert.Equal(t, 1, ev.Index)
	last, ok := log.Last()
	require.True(t, ok)
	assert.Equal(t, 1, last.Index)
}

// scriptedProvider returns a fixed response.
type scriptedProvider struct{ response string }

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Generate(context.Context, string, llm.Options) (string, error) {
	return p.response, nil
}
func (p *scriptedProvider) IsConfigured() bool { return true }

func testPacket() *assemble.Packet {
	return assemble.Build(assemble.Input{
		Template:      models.Template{Questions: []models.Question{{Text: "How do you plan releases?"}}},
		QuestionIndex: 0,
	})
}

func TestEvaluateParsesGuidance(t *testing.T) {
	client := llm.NewClient(&scriptedProvider{response: "```json\n" +
		`{"action": "Probe_FollowUp", "message": " Ask about owners ", "confidence": 0.72, "reasoning": "vague"}` +
		"\n```"}, nil, nil)
	a := New(client, config.Default(), nil)

	g, err := a.Evaluate(context.Background(), testPacket(), models.Attribution{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, &Guidance{Action: models.ActionProbeFollowUp, Message: "Ask about owners", Confidence: 0.72, Reasoning: "vague"}, g)
}

func TestEvaluateUnknownAction(t *testing.T) {
	client := llm.NewClient(&scriptedProvider{response: `{"action": "dance", "confidence": 0.99}`}, nil, nil)
	g, err := New(client, config.Default(), nil).Evaluate(context.Background(), testPacket(), models.Attribution{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnknown, g.Action)
	assert.False(t, testGate().ShouldInject(g))
}

func TestEvaluateMalformed(t *testing.T) {
	for _, resp := range []string{"", "no json here", `{"action": "none"}`, `{"action": "none", "confidence": 7}`} {
		client := llm.NewClient(&scriptedProvider{response: resp}, nil, nil)
		g, err := New(client, config.Default(), nil).Evaluate(context.Background(), testPacket(), models.Attribution{})
		assert.Nil(t, g, resp)
		assert.Error(t, err, resp)
		assert.True(t, errors.Is(err, llm.ErrSchema) || errors.Is(err, llm.ErrEmptyResponse), resp)
	}
}

func TestEvaluateWithoutProvider(t *testing.T) {
	g, err := New(llm.NewClient(nil, nil, nil), config.Default(), nil).Evaluate(context.Background(), testPacket(), models.Attribution{})
	assert.Nil(t, g)
	assert.ErrorIs(t, err, llm.ErrNoProvider)
}
