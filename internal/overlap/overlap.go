// Package overlap detects when a new question revisits ground the
// respondent already covered, so the interviewer can acknowledge it.
package overlap

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

// DefaultTimeout bounds one detection call.
const DefaultTimeout = 10 * time.Second

// Coverage levels.
const (
	CoverageMentioned        = "mentioned"
	CoveragePartiallyCovered = "partially_covered"
	CoverageFullyCovered     = "fully_covered"
)

const overlapPrompt = `An interviewer is about to ask a new question. Decide whether the respondent has already talked about its topic earlier in the interview.

New question: %s

Earlier answers:
%s

Recent transcript:
%s

Respond with ONLY this JSON:
{
    "has_overlap": true or false,
    "overlapping_topics": ["1 to 3 short topic names"],
    "coverage_level": "mentioned" | "partially_covered" | "fully_covered",
    "source_question_index": <0-based index of the earlier question, or null>
}`

var resultSchema = llm.MustCompileSchema("topic_overlap.json", `{
	"type": "object",
	"required": ["has_overlap"],
	"properties": {
		"has_overlap": {"type": "boolean"},
		"overlapping_topics": {"type": "array", "items": {"type": "string"}},
		"coverage_level": {"type": "string"},
		"source_question_index": {"type": ["integer", "null"]}
	}
}`)

// Result is a detected overlap.
type Result struct {
	HasOverlap          bool     `json:"has_overlap"`
	OverlappingTopics   []string `json:"overlapping_topics"`
	CoverageLevel       string   `json:"coverage_level"`
	SourceQuestionIndex *int     `json:"source_question_index"`
}

// Input is what the detector compares the new question against.
type Input struct {
	QuestionText string
	Summaries    []models.QuestionSummary
	Recent       []models.TurnEntry
	Attribution  models.Attribution
}

// Detector runs overlap checks under their own short timeout.
type Detector struct {
	client  *llm.Client
	cfg     *config.Config
	timeout time.Duration
	logger  *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(client *llm.Client, cfg *config.Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Overlap.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Detector{client: client, cfg: cfg, timeout: timeout, logger: logger}
}

// Detect checks the new question for overlap. It returns nil when there is
// nothing to compare against, when no overlap is found, and on any failure
// or timeout; callers proceed as if there were no overlap.
func (d *Detector) Detect(ctx context.Context, in Input) *Result {
	if len(in.Summaries) == 0 && len(in.Recent) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(overlapPrompt, in.QuestionText, formatSummaries(in.Summaries), formatTurns(in.Recent))
	req := llm.RequestFor(d.cfg, config.UseOverlap, prompt, in.Attribution)
	req.Timeout = d.timeout

	payload, err := d.client.Score(ctx, req, resultSchema)
	if err != nil {
		d.logger.Warn("overlap detection failed; assuming no overlap",
			zap.String("session_id", in.Attribution.SessionID),
			zap.Error(err))
		return nil
	}
	var res Result
	if err := llm.Decode(payload, &res); err != nil {
		d.logger.Warn("overlap response malformed; assuming no overlap",
			zap.String("session_id", in.Attribution.SessionID),
			zap.Error(err))
		return nil
	}
	return normalize(res)
}

func normalize(res Result) *Result {
	if !res.HasOverlap {
		return nil
	}
	var topics []string
	for _, t := range res.OverlappingTopics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
		if len(topics) == 3 {
			break
		}
	}
	if len(topics) == 0 {
		return nil
	}
	res.OverlappingTopics = topics

	switch res.CoverageLevel = strings.ToLower(strings.TrimSpace(res.CoverageLevel)); res.CoverageLevel {
	case CoverageMentioned, CoveragePartiallyCovered, CoverageFullyCovered:
	default:
		res.CoverageLevel = CoverageMentioned
	}
	if res.SourceQuestionIndex != nil && *res.SourceQuestionIndex < 0 {
		res.SourceQuestionIndex = nil
	}
	return &res
}

// Opening phrases a question so the interviewer acknowledges earlier
// coverage instead of asking as if the topic were new.
func (r *Result) Opening(question string) string {
	if r == nil {
		return question
	}
	topics := strings.Join(r.OverlappingTopics, " and ")
	switch r.CoverageLevel {
	case CoverageFullyCovered:
		return fmt.Sprintf("You've already told me quite a bit about %s. Building on that: %s", topics, question)
	case CoveragePartiallyCovered:
		return fmt.Sprintf("You touched on %s earlier. %s", topics, question)
	}
	return fmt.Sprintf("You mentioned %s before. %s", topics, question)
}

func formatSummaries(summaries []models.QuestionSummary) string {
	if len(summaries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "- [question %d] %s: %s\n", s.QuestionIndex, s.QuestionText, s.RespondentSummary)
	}
	return b.String()
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
