// Package advisor evaluates the transcript each turn and proposes tactical
// guidance for the interviewer's next utterance.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/assemble"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

const advisorPrompt = `You are advising an interviewer during a live research interview. You never speak to the respondent; you suggest what the interviewer should do in their next utterance.

%s

Pick exactly one action:
- acknowledge_prior: refer back to something the respondent said earlier
- probe_followup: ask a deeper follow-up on what was just said
- suggest_next_question: the current question is sufficiently answered; move on
- confirm_understanding: restate and check an ambiguous answer
- suggest_environment_check: the respondent seems distracted or has audio trouble
- time_reminder: the interview is running long; keep things brief
- none: the interviewer needs no guidance

Respond with ONLY this JSON:
{
    "action": "<one action from the list>",
    "message": "One short instruction for the interviewer",
    "confidence": 0.0-1.0,
    "reasoning": "One sentence explaining why"
}`

var guidanceSchema = llm.MustCompileSchema("advisor_guidance.json", `{
	"type": "object",
	"required": ["action", "confidence"],
	"properties": {
		"action": {"type": "string"},
		"message": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"}
	}
}`)

// Guidance is one advisor result.
type Guidance struct {
	Action     models.Action `json:"action"`
	Message    string        `json:"message"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
}

// Evaluator produces guidance for an assembled packet.
type Evaluator interface {
	Evaluate(ctx context.Context, packet *assemble.Packet, attr models.Attribution) (*Guidance, error)
}

// Advisor asks the scoring model for guidance.
type Advisor struct {
	client *llm.Client
	cfg    *config.Config
	logger *zap.Logger
}

// New creates an advisor.
func New(client *llm.Client, cfg *config.Config, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{client: client, cfg: cfg, logger: logger}
}

type guidanceResponse struct {
	Action     string  `json:"action"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Evaluate runs one scoring call. Any failure, including a malformed
// response, is returned as an error with nil guidance. Unknown actions are
// kept as ActionUnknown.
func (a *Advisor) Evaluate(ctx context.Context, packet *assemble.Packet, attr models.Attribution) (*Guidance, error) {
	prompt := fmt.Sprintf(advisorPrompt, packet.Render())
	req := llm.RequestFor(a.cfg, config.UseAdvisor, prompt, attr)

	payload, err := a.client.Score(ctx, req, guidanceSchema)
	if err != nil {
		return nil, err
	}
	var resp guidanceResponse
	if err := llm.Decode(payload, &resp); err != nil {
		return nil, err
	}

	g := &Guidance{
		Action:     models.ParseAction(resp.Action),
		Message:    strings.TrimSpace(resp.Message),
		Confidence: resp.Confidence,
		Reasoning:  strings.TrimSpace(resp.Reasoning),
	}
	if g.Action == models.ActionUnknown {
		a.logger.Info("advisor returned unknown action",
			zap.String("session_id", attr.SessionID),
			zap.String("action", resp.Action))
	}
	return g, nil
}
