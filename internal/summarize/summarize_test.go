package summarize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

type mockProvider struct {
	response string
	err      error
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) Generate(context.Context, string, llm.Options) (string, error) {
	return m.response, m.err
}
func (m *mockProvider) IsConfigured() bool { return true }

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func summarizer(p llm.Provider) *Summarizer {
	s := New(llm.NewClient(p, nil, nil), config.Default(), nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func input() Input {
	return Input{
		QuestionIndex: 2,
		QuestionText:  "How do you triage bugs?",
		Turns: []models.TurnEntry{
			{Speaker: models.SpeakerInterviewer, Text: "How do you triage bugs?"},
			{Speaker: models.SpeakerRespondent, Text: "Weekly meeting with the PM."},
		},
		Metrics: models.QuestionMetrics{QuestionIndex: 2, WordCount: 5, TurnCount: 1, ActiveTimeMs: 2000},
	}
}

func TestSummarize(t *testing.T) {
	p := &mockProvider{response: `{"respondent_summary": " Weekly triage with PM. ",
		"key_insights": ["weekly cadence", "", "PM owns priority"],
		"completeness_assessment": "Partial",
		"relevant_to_future_questions": ["release planning"]}`}

	got := summarizer(p).Summarize(context.Background(), input())
	assert.Equal(t, models.QuestionSummary{
		QuestionIndex:             2,
		QuestionText:              "How do you triage bugs?",
		RespondentSummary:         "Weekly triage with PM.",
		KeyInsights:               []string{"weekly cadence", "PM owns priority"},
		CompletenessAssessment:    models.CompletenessPartial,
		RelevantToFutureQuestions: []string{"release planning"},
		WordCount:                 5,
		TurnCount:                 1,
		ActiveTimeMs:              2000,
		Timestamp:                 fixedNow,
	}, got)
}

func TestSummarizeDegradesToMinimal(t *testing.T) {
	tests := map[string]llm.Provider{
		"provider error":  &mockProvider{err: errors.New("boom")},
		"malformed":       &mockProvider{response: "I think it went well"},
		"missing summary": &mockProvider{response: `{"key_insights": ["x"]}`},
		"no provider":     nil,
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			got := summarizer(p).Summarize(context.Background(), input())
			assert.Equal(t, Minimal(2, "How do you triage bugs?", input().Metrics, fixedNow), got)
			assert.Empty(t, got.RespondentSummary)
			assert.Equal(t, models.CompletenessUnknown, got.CompletenessAssessment)
		})
	}
}

func TestSummarizeUnknownCompleteness(t *testing.T) {
	p := &mockProvider{response: `{"respondent_summary": "ok", "completeness_assessment": "mostly"}`}
	got := summarizer(p).Summarize(context.Background(), input())
	require.Equal(t, "ok", got.RespondentSummary)
	assert.Equal(t, models.CompletenessUnknown, got.CompletenessAssessment)
}
