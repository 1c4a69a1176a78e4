// Package summarize condenses a finished question into a QuestionSummary.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

const summaryPrompt = `You are summarizing one question of a research interview for the interviewer's notes.

Question: %s

Transcript for this question:
%s

Later questions in the interview:
%s

Respond with ONLY this JSON:
{
    "respondent_summary": "2-3 sentences on what the respondent said",
    "key_insights": ["short, specific insights"],
    "completeness_assessment": "complete" | "partial" | "incomplete",
    "relevant_to_future_questions": ["points a later question could build on"]
}`

var summarySchema = llm.MustCompileSchema("question_summary.json", `{
	"type": "object",
	"required": ["respondent_summary"],
	"properties": {
		"respondent_summary": {"type": "string"},
		"key_insights": {"type": "array", "items": {"type": "string"}},
		"completeness_assessment": {"type": "string"},
		"relevant_to_future_questions": {"type": "array", "items": {"type": "string"}}
	}
}`)

// maxInsights caps each list in a summary.
const maxInsights = 5

// Input is one finished question.
type Input struct {
	QuestionIndex int
	QuestionText  string
	Turns         []models.TurnEntry
	Upcoming      []string
	Metrics       models.QuestionMetrics
	Attribution   models.Attribution
}

// Summarizer produces question summaries.
type Summarizer struct {
	client *llm.Client
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a summarizer.
func New(client *llm.Client, cfg *config.Config, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{client: client, cfg: cfg, logger: logger, now: time.Now}
}

type summaryResponse struct {
	RespondentSummary         string   `json:"respondent_summary"`
	KeyInsights               []string `json:"key_insights"`
	CompletenessAssessment    string   `json:"completeness_assessment"`
	RelevantToFutureQuestions []string `json:"relevant_to_future_questions"`
}

// Summarize always returns a summary. When generation fails the result is
// minimal: empty text, no insights and unknown completeness.
func (s *Summarizer) Summarize(ctx context.Context, in Input) models.QuestionSummary {
	sum := Minimal(in.QuestionIndex, in.QuestionText, in.Metrics, s.now())

	prompt := fmt.Sprintf(summaryPrompt, in.QuestionText, formatTurns(in.Turns), formatUpcoming(in.Upcoming))
	req := llm.RequestFor(s.cfg, config.UseSummary, prompt, in.Attribution)

	payload, err := s.client.Score(ctx, req, summarySchema)
	if err == nil {
		var resp summaryResponse
		if err = llm.Decode(payload, &resp); err == nil {
			sum.RespondentSummary = strings.TrimSpace(resp.RespondentSummary)
			sum.KeyInsights = clean(resp.KeyInsights)
			sum.RelevantToFutureQuestions = clean(resp.RelevantToFutureQuestions)
			sum.CompletenessAssessment = completeness(resp.CompletenessAssessment)
			return sum
		}
	}
	s.logger.Warn("question summary failed; storing minimal summary",
		zap.String("session_id", in.Attribution.SessionID),
		zap.Int("question_index", in.QuestionIndex),
		zap.Error(err))
	return sum
}

// Minimal builds the fallback summary with metrics copied in.
func Minimal(index int, question string, m models.QuestionMetrics, at time.Time) models.QuestionSummary {
	return models.QuestionSummary{
		QuestionIndex:          index,
		QuestionText:           question,
		CompletenessAssessment: models.CompletenessUnknown,
		WordCount:              m.WordCount,
		TurnCount:              m.TurnCount,
		ActiveTimeMs:           m.ActiveTimeMs,
		Timestamp:              at,
	}
}

func completeness(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case models.CompletenessComplete, models.CompletenessPartial, models.CompletenessIncomplete:
		return s
	}
	return models.CompletenessUnknown
}

func clean(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
		if len(out) == maxInsights {
			break
		}
	}
	return out
}

func formatTurns(turns []models.TurnEntry) string {
	if len(turns) == 0 {
		return "(no answer)"
	}
	var b strings.Builder
	for _, e := range turns {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return b.String()
}

func formatUpcoming(questions []string) string {
	if len(questions) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, q)
	}
	return b.String()
}
