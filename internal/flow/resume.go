package flow

import (
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/transcript"
)

// ResumeParams are the settings needed to rebuild state after a restart.
type ResumeParams struct {
	DefaultFollowUps int
	MaxFollowUps     int
	WordsPerMinute   int
	Window           int
	Options          Options
}

// Resumed is the state reconstructed from persisted history.
type Resumed struct {
	State State
	// Metrics is only meaningful when QuestionOpen is true.
	Metrics models.QuestionMetrics
	Working []models.TurnEntry
	// QuestionOpen is true when the current question has turns but no
	// summary yet. Otherwise CurrentQuestionIndex (or
	// CurrentAdditionalIndex) is the next question to start.
	QuestionOpen bool
	// AwaitingRespondent is true when the last persisted turn was the
	// interviewer's.
	AwaitingRespondent bool
}

// Reconstruct rebuilds flow state, the open question's metrics and the
// working window from persisted turns, summaries and the last guidance
// event. Question indexes at or beyond len(questions) belong to the
// additional phase; additional lists those generated questions.
func Reconstruct(questions []models.Question, additional []string, turns []models.TurnEntry,
	summaries []models.QuestionSummary, last *models.GuidanceEvent, p ResumeParams) Resumed {

	total := len(questions)
	summarized := make(map[int]bool, len(summaries))
	maxSummarized := -1
	for _, s := range summaries {
		summarized[s.QuestionIndex] = true
		if s.QuestionIndex > maxSummarized {
			maxSummarized = s.QuestionIndex
		}
	}

	open := -1
	for _, e := range turns {
		if !summarized[e.QuestionIndex] && e.QuestionIndex > open {
			open = e.QuestionIndex
		}
	}

	r := Resumed{Working: transcript.Retain(turns, p.Window)}
	if n := len(turns); n > 0 {
		r.AwaitingRespondent = turns[n-1].Speaker == models.SpeakerInterviewer
	}

	current := open
	if current < 0 {
		current = maxSummarized + 1
		if current < total {
			current = NextIndex(questions, current, AnswersFrom(turns))
		}
	} else {
		r.QuestionOpen = true
	}

	s := State{TotalQuestions: total, TotalAdditional: len(additional)}
	if current >= total && (len(additional) > 0 || p.Options.AdditionalAllowed()) {
		s.InAdditionalPhase = true
		s.CurrentAdditionalIndex = current - total
		s.CurrentQuestionIndex = total - 1
		if s.TotalAdditional == 0 {
			s.TotalAdditional = p.Options.AdditionalCount
		}
	} else {
		s.CurrentQuestionIndex = current
	}

	recommended := 0
	if current < total {
		recommended = questions[current].RecommendedFollowUps
	}
	s.MaxTurnsPerQuestion = MaxTurns(recommended, p.DefaultFollowUps, p.MaxFollowUps)

	if r.QuestionOpen {
		if recommended <= 0 {
			recommended = p.DefaultFollowUps
		}
		r.Metrics = transcript.Rebuild(turns, current, recommended, p.WordsPerMinute)
		s.FollowUpCount = r.Metrics.FollowUpCount
		if last != nil && last.QuestionIndex == current && last.Injected &&
			last.Action == models.ActionSuggestNextQuestion && last.TriggerTurnIndex == len(turns)-1 {
			s.AdvisorSuggestedAdvance = true
		}
	}

	r.State = s
	return r
}

// QuestionIndex maps the state back to the transcript question index.
func (s State) QuestionIndex() int {
	if s.InAdditionalPhase {
		return s.TotalQuestions + s.CurrentAdditionalIndex
	}
	return s.CurrentQuestionIndex
}
