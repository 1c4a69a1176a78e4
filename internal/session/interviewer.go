package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/advisor"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/overlap"
)

// UtteranceKind says what the interviewer is about to say.
type UtteranceKind string

const (
	KindOpening  UtteranceKind = "opening"
	KindFollowUp UtteranceKind = "follow_up"
)

// genericProbe is used when a follow-up cannot be generated.
const genericProbe = "Could you tell me a bit more about that?"

// Utterance is the input for one interviewer turn.
type Utterance struct {
	Kind          UtteranceKind
	Template      models.Template
	QuestionIndex int
	QuestionText  string
	// Guidance is the advisor's injected guidance, if any arrived on time.
	Guidance *advisor.Guidance
	// Overlap is set on openings whose topic was covered earlier.
	Overlap     *overlap.Result
	Working     []models.TurnEntry
	Upcoming    []string
	Attribution models.Attribution
}

// Interviewer produces the next interviewer utterance. It never fails; a
// broken generation degrades to a generic probe.
type Interviewer interface {
	Ask(ctx context.Context, u Utterance) string
}

const followUpPrompt = `You are a research interviewer. Objective: %s
Tone: %s

Current question: %s

Recent conversation:
%s
%s
Write the interviewer's next utterance: one short follow-up question that stays on the current question. Do not move on to a new topic. Output only the utterance.`

// LLMInterviewer phrases follow-ups with the interviewer model.
type LLMInterviewer struct {
	client *llm.Client
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMInterviewer creates a model-backed interviewer.
func NewLLMInterviewer(client *llm.Client, cfg *config.Config, logger *zap.Logger) *LLMInterviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMInterviewer{client: client, cfg: cfg, logger: logger}
}

// Ask returns the opening verbatim from the template (acknowledging any
// overlap) and generates follow-ups.
func (i *LLMInterviewer) Ask(ctx context.Context, u Utterance) string {
	if u.Kind == KindOpening {
		return u.Overlap.Opening(u.QuestionText)
	}

	var hint string
	if u.Guidance != nil {
		hint = fmt.Sprintf("\nAdvisor suggestion (%s): %s\n", u.Guidance.Action, u.Guidance.Message)
	}
	prompt := fmt.Sprintf(followUpPrompt, u.Template.Objective, u.Template.Tone, u.QuestionText, formatTurns(u.Working), hint)
	text, err := i.client.Generate(ctx, llm.RequestFor(i.cfg, config.UseInterviewer, prompt, u.Attribution))
	if err != nil {
		i.logger.Warn("follow-up generation failed; using generic probe",
			zap.String("session_id", u.Attribution.SessionID),
			zap.Int("question_index", u.QuestionIndex),
			zap.Error(err))
		return genericProbe
	}
	return strings.Trim(text, "\" \n")
}

func formatTurns(turns []models.TurnEntry) string {
	if len(turns) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range turns {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return b.String()
}
