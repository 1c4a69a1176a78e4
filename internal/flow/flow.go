// Package flow decides when a question is done and what comes next.
package flow

// Decision is the outcome of evaluating the flow after a respondent turn.
type Decision string

const (
	Continue             Decision = "continue"
	NextQuestion         Decision = "next_question"
	StartAdditionalPhase Decision = "start_additional_phase"
	Complete             Decision = "complete"
)

// State is recomputed every turn; it is never stored.
type State struct {
	CurrentQuestionIndex    int  `json:"current_question_index"`
	TotalQuestions          int  `json:"total_questions"`
	FollowUpCount           int  `json:"follow_up_count"`
	MaxTurnsPerQuestion     int  `json:"max_turns_per_question"`
	AdvisorSuggestedAdvance bool `json:"advisor_suggested_advance"`
	InAdditionalPhase       bool `json:"in_additional_phase"`
	CurrentAdditionalIndex  int  `json:"current_additional_index"`
	TotalAdditional         int  `json:"total_additional"`
}

// Options carries the configured additional-question phase.
type Options struct {
	AdditionalEnabled bool
	AdditionalCount   int
}

// AdditionalAllowed reports whether a bounded follow-on round may start.
func (o Options) AdditionalAllowed() bool {
	return o.AdditionalEnabled && o.AdditionalCount > 0
}

// MaxTurns is min(effective recommended follow-ups, hard cap). A question
// without its own recommendation uses defaultFollowUps; a non-positive cap
// means uncapped.
func MaxTurns(recommended, defaultFollowUps, hardCap int) int {
	n := recommended
	if n <= 0 {
		n = defaultFollowUps
	}
	if n < 0 {
		n = 0
	}
	if hardCap > 0 && n > hardCap {
		n = hardCap
	}
	return n
}

// Done reports whether the open question should end: the advisor suggested
// advancing, or the follow-up budget is used up.
func (s State) Done() bool {
	return s.AdvisorSuggestedAdvance || s.FollowUpCount >= s.MaxTurnsPerQuestion
}

// Decide applies the transition rule to s. The primary track and the
// additional-question track share the same rule shape against their own
// index and total.
func Decide(s State, opts Options) Decision {
	if !s.Done() {
		return Continue
	}
	if s.InAdditionalPhase {
		if s.CurrentAdditionalIndex >= s.TotalAdditional-1 {
			return Complete
		}
		return NextQuestion
	}
	if s.CurrentQuestionIndex >= s.TotalQuestions-1 {
		return EndOfPrimary(opts)
	}
	return NextQuestion
}

// EndOfPrimary is the transition taken once the primary question list is
// exhausted, including when every remaining question was skipped.
func EndOfPrimary(opts Options) Decision {
	if opts.AdditionalAllowed() {
		return StartAdditionalPhase
	}
	return Complete
}
