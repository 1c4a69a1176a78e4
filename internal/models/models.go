// Package models holds the domain types shared by the orchestration core.
package models

import (
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerRespondent  Speaker = "respondent"
)

// TurnEntry is one utterance in a transcript. Entries are immutable once appended.
type TurnEntry struct {
	Speaker       Speaker   `json:"speaker"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	QuestionIndex int       `json:"question_index"`
}

// QuestionMetrics tracks per-question counters. One instance per question; it is
// mutated after every respondent turn and frozen when the question ends.
type QuestionMetrics struct {
	QuestionIndex        int       `json:"question_index"`
	WordCount            int       `json:"word_count"`
	ActiveTimeMs         int64     `json:"active_time_ms"`
	TurnCount            int       `json:"turn_count"`
	FollowUpCount        int       `json:"follow_up_count"`
	StartedAt            time.Time `json:"started_at"`
	RecommendedFollowUps int       `json:"recommended_follow_ups"`
}

// QuestionSummary is produced once per question when it ends.
type QuestionSummary struct {
	QuestionIndex             int       `json:"question_index"`
	QuestionText              string    `json:"question_text"`
	RespondentSummary         string    `json:"respondent_summary"`
	KeyInsights               []string  `json:"key_insights"`
	CompletenessAssessment    string    `json:"completeness_assessment"`
	RelevantToFutureQuestions []string  `json:"relevant_to_future_questions"`
	WordCount                 int       `json:"word_count"`
	TurnCount                 int       `json:"turn_count"`
	ActiveTimeMs              int64     `json:"active_time_ms"`
	Timestamp                 time.Time `json:"timestamp"`
}

// Completeness values used by summaries.
const (
	CompletenessComplete   = "complete"
	CompletenessPartial    = "partial"
	CompletenessIncomplete = "incomplete"
	CompletenessUnknown    = "unknown"
)

// Action is the closed vocabulary of advisor actions.
type Action string

const (
	ActionAcknowledgePrior        Action = "acknowledge_prior"
	ActionProbeFollowUp           Action = "probe_followup"
	ActionSuggestNextQuestion     Action = "suggest_next_question"
	ActionConfirmUnderstanding    Action = "confirm_understanding"
	ActionSuggestEnvironmentCheck Action = "suggest_environment_check"
	ActionTimeReminder            Action = "time_reminder"
	ActionNone                    Action = "none"
	ActionUnknown                 Action = "unknown"
)

// KnownActions lists the actions the advisor may return, in a stable order.
var KnownActions = []Action{
	ActionAcknowledgePrior,
	ActionProbeFollowUp,
	ActionSuggestNextQuestion,
	ActionConfirmUnderstanding,
	ActionSuggestEnvironmentCheck,
	ActionTimeReminder,
	ActionNone,
}

// ParseAction maps free text to an Action. Anything outside the vocabulary
// becomes ActionUnknown.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownActions {
		if a == known {
			return a
		}
	}
	return ActionUnknown
}

// AdherenceLabel is the post-hoc classification of a guidance event.
// The empty label means the event has not been scored.
type AdherenceLabel string

const (
	AdherenceFollowed          AdherenceLabel = "followed"
	AdherencePartiallyFollowed AdherenceLabel = "partially_followed"
	AdherenceNotFollowed       AdherenceLabel = "not_followed"
	AdherenceNotApplicable     AdherenceLabel = "not_applicable"
)

// Valid reports whether l is one of the four scored labels.
func (l AdherenceLabel) Valid() bool {
	switch l {
	case AdherenceFollowed, AdherencePartiallyFollowed, AdherenceNotFollowed, AdherenceNotApplicable:
		return true
	}
	return false
}

// GuidanceEvent records one advisor evaluation. Adherence fields are filled
// in later by the scorer.
type GuidanceEvent struct {
	Index            int            `json:"index"`
	Action           Action         `json:"action"`
	MessageSummary   string         `json:"message_summary"`
	Confidence       float64        `json:"confidence"`
	Injected         bool           `json:"injected"`
	Late             bool           `json:"late,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	QuestionIndex    int            `json:"question_index"`
	TriggerTurnIndex int            `json:"trigger_turn_index"`
	Adherence        AdherenceLabel `json:"adherence,omitempty"`
	AdherenceReason  string         `json:"adherence_reason,omitempty"`
	ResponseSnippet  string         `json:"response_snippet,omitempty"`
}

// Scored reports whether the scorer assigned a label.
func (e GuidanceEvent) Scored() bool {
	return e.Adherence.Valid()
}

// Attribution identifies who a generation call is billed to.
type Attribution struct {
	WorkspaceID  string `json:"workspace_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	TemplateID   string `json:"template_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// Session status values.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
	SessionFailed    = "failed"
)
