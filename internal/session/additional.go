package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

// AdditionalRequest asks for a bounded round of follow-on questions.
type AdditionalRequest struct {
	Template models.Template
	// Context is the rendered summaries of this and earlier sessions.
	Context     string
	Count       int
	Attribution models.Attribution
}

// QuestionGenerator produces additional questions after the primary list.
type QuestionGenerator interface {
	Generate(ctx context.Context, req AdditionalRequest) ([]string, error)
}

const additionalPrompt = `You are planning the last part of a research interview. Objective: %s

Questions already asked:
%s
What we know so far:
%s

Propose %d additional questions that dig into gaps or surprises. Do not repeat a question already asked.

Respond with ONLY this JSON:
{
    "questions": ["question text"]
}`

var additionalSchema = llm.MustCompileSchema("additional_questions.json", `{
	"type": "object",
	"required": ["questions"],
	"properties": {
		"questions": {"type": "array", "items": {"type": "string"}}
	}
}`)

// LLMQuestionGenerator generates additional questions with the model.
type LLMQuestionGenerator struct {
	client *llm.Client
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMQuestionGenerator creates a model-backed generator.
func NewLLMQuestionGenerator(client *llm.Client, cfg *config.Config, logger *zap.Logger) *LLMQuestionGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMQuestionGenerator{client: client, cfg: cfg, logger: logger}
}

// Generate returns at most req.Count non-empty questions.
func (g *LLMQuestionGenerator) Generate(ctx context.Context, req AdditionalRequest) ([]string, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	var asked strings.Builder
	for i, q := range req.Template.Questions {
		fmt.Fprintf(&asked, "%d. %s\n", i+1, q.Text)
	}
	prompt := fmt.Sprintf(additionalPrompt, req.Template.Objective, asked.String(), req.Context, req.Count)

	payload, err := g.client.Score(ctx, llm.RequestFor(g.cfg, config.UseAdditionalQuestions, prompt, req.Attribution), additionalSchema)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := llm.Decode(payload, &resp); err != nil {
		return nil, err
	}

	var out []string
	for _, q := range resp.Questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == req.Count {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no additional questions", llm.ErrSchema)
	}
	g.logger.Info("generated additional questions",
		zap.String("session_id", req.Attribution.SessionID),
		zap.Int("count", len(out)))
	return out, nil
}
