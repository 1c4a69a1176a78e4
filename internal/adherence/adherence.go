// Package adherence labels, after a session ends, whether the interviewer
// acted on the guidance it was given.
package adherence

import (
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/models"
)

const (
	// SnippetLength caps the stored excerpt of the interviewer's response.
	SnippetLength = 200
	// LookAhead is how many following interviewer turns are inspected.
	LookAhead = 4
	// MinOverlap is the keyword overlap needed for an on-topic probe.
	MinOverlap = 0.3
	// minKeywords is the fewest guidance keywords that can judge topicality.
	minKeywords = 2
)

// ReasonNotInjected is the fixed reason for events that never reached the
// interviewer.
const ReasonNotInjected = "guidance was not injected or had no action"

// Result is the label assigned to one guidance event.
type Result struct {
	Label   models.AdherenceLabel
	Reason  string
	Snippet string
}

// ScoreEvent applies the action-specific heuristic to one event. The second
// return value is false when the event cannot be scored (unknown action or
// missing timestamp).
func ScoreEvent(ev models.GuidanceEvent, turns []models.TurnEntry) (Result, bool) {
	if !ev.Injected || ev.Action == models.ActionNone {
		return Result{Label: models.AdherenceNotApplicable, Reason: ReasonNotInjected}, true
	}
	if ev.Timestamp.IsZero() {
		return Result{}, false
	}

	w := newWindow(ev, turns)
	switch ev.Action {
	case models.ActionProbeFollowUp:
		return scoreProbe(ev, w), true
	case models.ActionSuggestNextQuestion:
		return scoreNextQuestion(ev, w), true
	case models.ActionAcknowledgePrior:
		return scoreAcknowledge(w), true
	case models.ActionConfirmUnderstanding:
		return scoreConfirm(w), true
	case models.ActionSuggestEnvironmentCheck:
		return scoreKeywords(w, environmentKeywords, 2, "environment check"), true
	case models.ActionTimeReminder:
		return scoreKeywords(w, timeKeywords, 3, "time reminder"), true
	}
	return Result{}, false
}

// window splits a transcript around one guidance event.
type window struct {
	priorRespondent bool
	following       []models.TurnEntry // every entry after the event
	interviewer     []models.TurnEntry // up to LookAhead interviewer turns after the event
}

func newWindow(ev models.GuidanceEvent, turns []models.TurnEntry) window {
	var w window
	for _, e := range turns {
		if !e.Timestamp.After(ev.Timestamp) {
			if e.Speaker == models.SpeakerRespondent && strings.TrimSpace(e.Text) != "" {
				w.priorRespondent = true
			}
			continue
		}
		w.following = append(w.following, e)
		if e.Speaker == models.SpeakerInterviewer && len(w.interviewer) < LookAhead {
			w.interviewer = append(w.interviewer, e)
		}
	}
	return w
}

func (w window) first() (models.TurnEntry, bool) {
	if len(w.interviewer) == 0 {
		return models.TurnEntry{}, false
	}
	return w.interviewer[0], true
}

func noFollowingTurn() Result {
	return Result{Label: models.AdherenceNotApplicable, Reason: "no interviewer turn followed the guidance"}
}

func scoreProbe(ev models.GuidanceEvent, w window) Result {
	turn, ok := w.first()
	if !ok {
		return noFollowingTurn()
	}
	snip := snippet(turn.Text)
	hasQuestion := strings.Contains(turn.Text, "?")
	hasProbe := containsAny(turn.Text, probingPhrases)

	switch {
	case !hasQuestion && !hasProbe:
		return Result{models.AdherenceNotFollowed, "response neither asks a question nor probes", snip}
	case hasQuestion != hasProbe:
		return Result{models.AdherencePartiallyFollowed, "response only partly probes (question or probing phrase, not both)", snip}
	}

	guidance := keywords(ev.MessageSummary)
	if len(guidance) < minKeywords {
		return Result{models.AdherenceFollowed, "probing question asked; guidance too short to judge topic", snip}
	}
	if overlapCoefficient(guidance, keywords(turn.Text)) >= MinOverlap {
		return Result{models.AdherenceFollowed, "probing question on the suggested topic", snip}
	}
	return Result{models.AdherencePartiallyFollowed, "probing question on a different topic", snip}
}

func scoreNextQuestion(ev models.GuidanceEvent, w window) Result {
	if len(w.following) == 0 {
		return Result{Label: models.AdherenceNotApplicable, Reason: "no transcript entries followed the guidance"}
	}
	var snip string
	if turn, ok := w.first(); ok {
		snip = snippet(turn.Text)
	}
	for i, e := range w.following {
		if e.QuestionIndex > ev.QuestionIndex {
			if i < 2 {
				return Result{models.AdherenceFollowed, "moved to the next question immediately", snippet(e.Text)}
			}
			return Result{models.AdherencePartiallyFollowed, "moved to the next question after a delay", snippet(e.Text)}
		}
	}
	for i, e := range w.interviewer {
		if i >= 3 {
			break
		}
		if containsAny(e.Text, transitionPhrases) {
			return Result{models.AdherencePartiallyFollowed, "signalled a transition without advancing", snippet(e.Text)}
		}
	}
	return Result{models.AdherenceNotFollowed, "stayed on the current question", snip}
}

func scoreAcknowledge(w window) Result {
	if !w.priorRespondent {
		return Result{Label: models.AdherenceNotApplicable, Reason: "no respondent speech preceded the guidance"}
	}
	turn, ok := w.first()
	if !ok {
		return noFollowingTurn()
	}
	if containsAny(turn.Text, acknowledgmentPhrases) {
		return Result{models.AdherenceFollowed, "acknowledged an earlier remark", snippet(turn.Text)}
	}
	return Result{models.AdherenceNotFollowed, "no acknowledgment of earlier remarks", snippet(turn.Text)}
}

func scoreConfirm(w window) Result {
	turn, ok := w.first()
	if !ok {
		return noFollowingTurn()
	}
	snip := snippet(turn.Text)
	switch {
	case containsAny(turn.Text, confirmationPhrases):
		return Result{models.AdherenceFollowed, "confirmed understanding", snip}
	case strings.Contains(turn.Text, "?"):
		return Result{models.AdherencePartiallyFollowed, "asked a question without restating", snip}
	}
	return Result{models.AdherenceNotFollowed, "did not confirm understanding", snip}
}

func scoreKeywords(w window, words []string, turns int, what string) Result {
	if len(w.interviewer) == 0 {
		return noFollowingTurn()
	}
	for i, e := range w.interviewer {
		if i >= turns {
			break
		}
		if containsAny(e.Text, words) {
			return Result{models.AdherenceFollowed, what + " mentioned", snippet(e.Text)}
		}
	}
	return Result{models.AdherenceNotFollowed, what + " not mentioned", snippet(w.interviewer[0].Text)}
}

// Scorer scores whole sessions and logs events it could not label.
type Scorer struct {
	logger *zap.Logger
}

// NewScorer creates a scorer. A nil logger discards output.
func NewScorer(logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{logger: logger}
}

// ScoreSession returns the events enriched with adherence labels and the
// session summary. Input events are not modified. Unscorable events keep an
// empty label and count as unscored.
func (s *Scorer) ScoreSession(sessionID string, events []models.GuidanceEvent, turns []models.TurnEntry) ([]models.GuidanceEvent, Summary) {
	out := make([]models.GuidanceEvent, len(events))
	for i, ev := range events {
		res, ok := ScoreEvent(ev, turns)
		if !ok {
			ev.Adherence, ev.AdherenceReason, ev.ResponseSnippet = "", "", ""
			s.logger.Info("guidance event left unscored",
				zap.String("session_id", sessionID),
				zap.Int("index", ev.Index),
				zap.String("action", string(ev.Action)),
				zap.Bool("zero_timestamp", ev.Timestamp.IsZero()))
		} else {
			ev.Adherence, ev.AdherenceReason, ev.ResponseSnippet = res.Label, res.Reason, res.Snippet
		}
		out[i] = ev
	}
	sum := Summarize(out)
	s.logger.Debug("scored session adherence",
		zap.String("session_id", sessionID),
		zap.Int("events", sum.Total),
		zap.Int("unscored", sum.Unscored),
		zap.Float64("rate", sum.Rate()))
	return out, sum
}
