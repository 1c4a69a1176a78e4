package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/parley/internal/models"
)

func intPtr(i int) *int { return &i }

func TestMaxTurns(t *testing.T) {
	assert.Equal(t, 2, MaxTurns(2, 3, 5))
	assert.Equal(t, 3, MaxTurns(0, 3, 5))
	assert.Equal(t, 5, MaxTurns(9, 3, 5))
	assert.Equal(t, 9, MaxTurns(9, 3, 0))
}

func TestDecide(t *testing.T) {
	withAdditional := Options{AdditionalEnabled: true, AdditionalCount: 2}

	tests := []struct {
		name  string
		state State
		opts  Options
		want  Decision
	}{
		{
			name:  "below budget continues",
			state: State{CurrentQuestionIndex: 0, TotalQuestions: 3, FollowUpCount: 1, MaxTurnsPerQuestion: 3},
			want:  Continue,
		},
		{
			name:  "budget reached advances",
			state: State{CurrentQuestionIndex: 0, TotalQuestions: 3, FollowUpCount: 3, MaxTurnsPerQuestion: 3},
			want:  NextQuestion,
		},
		{
			name:  "advisor suggestion advances early",
			state: State{CurrentQuestionIndex: 1, TotalQuestions: 3, MaxTurnsPerQuestion: 3, AdvisorSuggestedAdvance: true},
			want:  NextQuestion,
		},
		{
			name:  "last question starts additional phase",
			state: State{CurrentQuestionIndex: 2, TotalQuestions: 3, FollowUpCount: 3, MaxTurnsPerQuestion: 3},
			opts:  withAdditional,
			want:  StartAdditionalPhase,
		},
		{
			name:  "last question completes without additional phase",
			state: State{CurrentQuestionIndex: 2, TotalQuestions: 3, FollowUpCount: 3, MaxTurnsPerQuestion: 3},
			opts:  Options{AdditionalEnabled: true, AdditionalCount: 0},
			want:  Complete,
		},
		{
			name:  "additional phase advances",
			state: State{TotalQuestions: 3, InAdditionalPhase: true, CurrentAdditionalIndex: 0, TotalAdditional: 2, AdvisorSuggestedAdvance: true},
			opts:  withAdditional,
			want:  NextQuestion,
		},
		{
			name:  "last additional question completes",
			state: State{TotalQuestions: 3, InAdditionalPhase: true, CurrentAdditionalIndex: 1, TotalAdditional: 2, FollowUpCount: 2, MaxTurnsPerQuestion: 2},
			opts:  withAdditional,
			want:  Complete,
		},
		{
			name:  "additional phase continues",
			state: State{TotalQuestions: 3, InAdditionalPhase: true, CurrentAdditionalIndex: 1, TotalAdditional: 2, FollowUpCount: 0, MaxTurnsPerQuestion: 2},
			opts:  withAdditional,
			want:  Continue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.state, tt.opts))
		})
	}
}

func TestShouldSkipShowWhen(t *testing.T) {
	q := models.Question{
		Text:  "What do you like about it?",
		Logic: &models.ConditionalLogic{DependsOn: intPtr(0), ShowWhen: "yes|yeah"},
	}

	skip, _ := ShouldSkip(q, 1, Answers{0: "Yeah, absolutely"})
	assert.False(t, skip)

	skip, _ = ShouldSkip(q, 1, Answers{0: "No."})
	assert.True(t, skip)

	skip, _ = ShouldSkip(q, 1, Answers{})
	assert.True(t, skip, "absent dependency answer skips")
}

func TestShouldSkipConditions(t *testing.T) {
	tests := []struct {
		condition string
		answer    string
		wantSkip  bool
	}{
		{"answered", "sure", false},
		{"answered", "   ", true},
		{"not_answered", "", false},
		{"unanswered", "something", true},
		{"contains:budget", "The Budget was tight", false},
		{"contains:budget", "no money talk", true},
		{"equals:Weekly", " weekly ", false},
		{"equals:Weekly", "weekly, mostly", true},
	}
	for _, tt := range tests {
		t.Run(tt.condition+"/"+tt.answer, func(t *testing.T) {
			q := models.Question{Logic: &models.ConditionalLogic{DependsOn: intPtr(0), Condition: tt.condition}}
			skip, _ := ShouldSkip(q, 2, Answers{0: tt.answer})
			assert.Equal(t, tt.wantSkip, skip)
		})
	}
}

func TestShouldSkipFailsOpen(t *testing.T) {
	tests := []struct {
		name  string
		logic *models.ConditionalLogic
		index int
	}{
		{"no descriptor", nil, 1},
		{"missing depends_on", &models.ConditionalLogic{ShowWhen: "yes"}, 1},
		{"forward reference", &models.ConditionalLogic{DependsOn: intPtr(3), ShowWhen: "yes"}, 1},
		{"self reference", &models.ConditionalLogic{DependsOn: intPtr(1), ShowWhen: "yes"}, 1},
		{"negative index", &models.ConditionalLogic{DependsOn: intPtr(-1), ShowWhen: "yes"}, 1},
		{"no predicate", &models.ConditionalLogic{DependsOn: intPtr(0)}, 1},
		{"empty show_when values", &models.ConditionalLogic{DependsOn: intPtr(0), ShowWhen: " | "}, 1},
		{"unknown keyword", &models.ConditionalLogic{DependsOn: intPtr(0), Condition: "maybe"}, 1},
		{"contains without word", &models.ConditionalLogic{DependsOn: intPtr(0), Condition: "contains:"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, reason := ShouldSkip(models.Question{Logic: tt.logic}, tt.index, Answers{0: "no"})
			assert.False(t, skip, reason)
		})
	}
}

func TestNextIndexSkipsConditionalQuestions(t *testing.T) {
	questions := []models.Question{
		{Text: "Do you use the app?"},
		{Text: "What do you like?", Logic: &models.ConditionalLogic{DependsOn: intPtr(0), ShowWhen: "yes"}},
		{Text: "Anything else?"},
	}
	assert.Equal(t, 2, NextIndex(questions, 1, Answers{0: "no"}))
	assert.Equal(t, 1, NextIndex(questions, 1, Answers{0: "yes daily"}))
	assert.Equal(t, 3, NextIndex(questions, 3, Answers{}))
}

func TestReconstructOpenQuestion(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	questions := []models.Question{{Text: "Q0"}, {Text: "Q1", RecommendedFollowUps: 2}, {Text: "Q2"}}
	turns := []models.TurnEntry{
		{Speaker: models.SpeakerInterviewer, Text: "Q0", Timestamp: base, QuestionIndex: 0},
		{Speaker: models.SpeakerRespondent, Text: "answer zero", Timestamp: base.Add(time.Second), QuestionIndex: 0},
		{Speaker: models.SpeakerInterviewer, Text: "Q1", Timestamp: base.Add(2 * time.Second), QuestionIndex: 1},
		{Speaker: models.SpeakerRespondent, Text: "first answer here", Timestamp: base.Add(3 * time.Second), QuestionIndex: 1},
		{Speaker: models.SpeakerInterviewer, Text: "Tell me more?", Timestamp: base.Add(4 * time.Second), QuestionIndex: 1},
		{Speaker: models.SpeakerRespondent, Text: "more detail", Timestamp: base.Add(5 * time.Second), QuestionIndex: 1},
	}
	summaries := []models.QuestionSummary{{QuestionIndex: 0}}
	last := &models.GuidanceEvent{
		Action: models.ActionSuggestNextQuestion, Injected: true, QuestionIndex: 1, TriggerTurnIndex: 5,
	}

	r := Reconstruct(questions, nil, turns, summaries, last, ResumeParams{
		DefaultFollowUps: 3, MaxFollowUps: 5, WordsPerMinute: 150, Window: 4,
	})

	require.True(t, r.QuestionOpen)
	assert.False(t, r.AwaitingRespondent)
	assert.Equal(t, State{
		CurrentQuestionIndex:    1,
		TotalQuestions:          3,
		FollowUpCount:           1,
		MaxTurnsPerQuestion:     2,
		AdvisorSuggestedAdvance: true,
	}, r.State)
	assert.Equal(t, 2, r.Metrics.TurnCount)
	assert.Equal(t, 5, r.Metrics.WordCount)
	assert.Len(t, r.Working, 4)
	assert.Equal(t, NextQuestion, Decide(r.State, Options{}))
}

func TestReconstructBetweenQuestions(t *testing.T) {
	questions := []models.Question{{Text: "Q0"}, {Text: "Q1"}}
	turns := []models.TurnEntry{
		{Speaker: models.SpeakerInterviewer, Text: "Q0", QuestionIndex: 0},
		{Speaker: models.SpeakerRespondent, Text: "done", QuestionIndex: 0},
	}
	r := Reconstruct(questions, nil, turns, []models.QuestionSummary{{QuestionIndex: 0}}, nil, ResumeParams{
		DefaultFollowUps: 3, MaxFollowUps: 5, Window: 40,
	})
	assert.False(t, r.QuestionOpen)
	assert.Equal(t, 1, r.State.CurrentQuestionIndex)
	assert.Equal(t, 0, r.State.FollowUpCount)
}

func TestReconstructAdditionalPhase(t *testing.T) {
	questions := []models.Question{{Text: "Q0"}}
	turns := []models.TurnEntry{
		{Speaker: models.SpeakerInterviewer, Text: "Q0", QuestionIndex: 0},
		{Speaker: models.SpeakerRespondent, Text: "done", QuestionIndex: 0},
		{Speaker: models.SpeakerInterviewer, Text: "Extra?", QuestionIndex: 1},
	}
	r := Reconstruct(questions, []string{"Extra?", "Another?"}, turns,
		[]models.QuestionSummary{{QuestionIndex: 0}}, nil,
		ResumeParams{DefaultFollowUps: 1, MaxFollowUps: 5, Window: 40})

	assert.True(t, r.QuestionOpen)
	assert.True(t, r.AwaitingRespondent)
	assert.True(t, r.State.InAdditionalPhase)
	assert.Equal(t, 0, r.State.CurrentAdditionalIndex)
	assert.Equal(t, 2, r.State.TotalAdditional)
	assert.Equal(t, 1, r.State.QuestionIndex())
}
