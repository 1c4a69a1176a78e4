package overlap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

type stubProvider struct {
	response string
	delay    time.Duration
	calls    atomic.Int32
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, _ string, _ llm.Options) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.response, nil
}

func (p *stubProvider) IsConfigured() bool { return true }

func detector(p llm.Provider, timeout time.Duration) *Detector {
	cfg := config.Default()
	cfg.Overlap.Timeout = config.Duration(timeout)
	return NewDetector(llm.NewClient(p, nil, nil), cfg, nil)
}

var withHistory = Input{
	QuestionText: "How do you share reports?",
	Summaries:    []models.QuestionSummary{{QuestionIndex: 0, QuestionText: "Tools?", RespondentSummary: "Emails PDFs weekly"}},
}

func TestDetectSkipsWithoutHistory(t *testing.T) {
	p := &stubProvider{response: `{"has_overlap": true, "overlapping_topics": ["x"]}`}
	assert.Nil(t, detector(p, time.Second).Detect(context.Background(), Input{QuestionText: "Q"}))
	assert.Zero(t, p.calls.Load(), "no call is made when there is nothing to compare")
}

func TestDetectOverlap(t *testing.T) {
	p := &stubProvider{response: `{"has_overlap": true, "overlapping_topics": ["pdf exports", " ", "email", "weekly cadence", "extra"],
		"coverage_level": "Partially_Covered", "source_question_index": 0}`}
	res := detector(p, time.Second).Detect(context.Background(), withHistory)

	require.NotNil(t, res)
	assert.Equal(t, []string{"pdf exports", "email", "weekly cadence"}, res.OverlappingTopics)
	assert.Equal(t, CoveragePartiallyCovered, res.CoverageLevel)
	require.NotNil(t, res.SourceQuestionIndex)
	assert.Equal(t, 0, *res.SourceQuestionIndex)
	assert.Contains(t, res.Opening("How do you share reports?"), "You touched on pdf exports and email and weekly cadence earlier.")
}

func TestDetectNullSourceAndUnknownCoverage(t *testing.T) {
	p := &stubProvider{response: `{"has_overlap": true, "overlapping_topics": ["email"], "coverage_level": "lots", "source_question_index": null}`}
	res := detector(p, time.Second).Detect(context.Background(), withHistory)
	require.NotNil(t, res)
	assert.Nil(t, res.SourceQuestionIndex)
	assert.Equal(t, CoverageMentioned, res.CoverageLevel)
}

func TestDetectNoResult(t *testing.T) {
	tests := map[string]string{
		"no overlap":     `{"has_overlap": false}`,
		"no topics":      `{"has_overlap": true, "overlapping_topics": []}`,
		"malformed":      `not json`,
		"schema failure": `{"overlapping_topics": ["x"]}`,
	}
	for name, resp := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, detector(&stubProvider{response: resp}, time.Second).Detect(context.Background(), withHistory))
		})
	}
}

func TestDetectTimeout(t *testing.T) {
	p := &stubProvider{response: `{"has_overlap": true, "overlapping_topics": ["x"]}`, delay: time.Second}
	start := time.Now()
	assert.Nil(t, detector(p, 30*time.Millisecond).Detect(context.Background(), withHistory))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOpeningWithoutOverlap(t *testing.T) {
	var r *Result
	assert.Equal(t, "Q?", r.Opening("Q?"))
}
