// Package assemble builds the advisor's input packet for one turn.
package assemble

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/parley/internal/models"
)

// Input is everything the assembler reads for one evaluation.
type Input struct {
	Template          models.Template
	QuestionIndex     int
	QuestionText      string
	QuestionGuidance  string
	InAdditionalPhase bool
	Working           []models.TurnEntry
	Summaries         []models.QuestionSummary
	Metrics           models.QuestionMetrics
	MaxFollowUps      int
	Elapsed           string
	CrossSession      *CrossSessionContext
	Hypotheses        []Hypothesis
}

// Packet is the structured advisor input.
type Packet struct {
	Objective         string                   `json:"objective"`
	Tone              string                   `json:"tone"`
	QuestionIndex     int                      `json:"question_index"`
	TotalQuestions    int                      `json:"total_questions"`
	QuestionText      string                   `json:"question_text"`
	QuestionGuidance  string                   `json:"question_guidance,omitempty"`
	PreviousQuestion  string                   `json:"previous_question,omitempty"`
	UpcomingQuestions []string                 `json:"upcoming_questions,omitempty"`
	InAdditionalPhase bool                     `json:"in_additional_phase"`
	Metrics           models.QuestionMetrics   `json:"metrics"`
	MaxFollowUps      int                      `json:"max_follow_ups"`
	Elapsed           string                   `json:"elapsed,omitempty"`
	Transcript        []models.TurnEntry       `json:"transcript"`
	PriorSummaries    []models.QuestionSummary `json:"prior_summaries,omitempty"`
	CrossSession      *CrossSessionContext     `json:"cross_session,omitempty"`
	Hypotheses        []Hypothesis             `json:"hypotheses,omitempty"`
}

// Build assembles a packet. Only summaries of earlier questions are kept.
func Build(in Input) *Packet {
	questions := in.Template.QuestionTexts()
	p := &Packet{
		Objective:         in.Template.Objective,
		Tone:              in.Template.Tone,
		QuestionIndex:     in.QuestionIndex,
		TotalQuestions:    len(questions),
		QuestionText:      in.QuestionText,
		QuestionGuidance:  in.QuestionGuidance,
		InAdditionalPhase: in.InAdditionalPhase,
		Metrics:           in.Metrics,
		MaxFollowUps:      in.MaxFollowUps,
		Elapsed:           in.Elapsed,
		Transcript:        append([]models.TurnEntry(nil), in.Working...),
		CrossSession:      in.CrossSession,
		Hypotheses:        in.Hypotheses,
	}
	if p.QuestionText == "" && in.QuestionIndex >= 0 && in.QuestionIndex < len(questions) {
		p.QuestionText = questions[in.QuestionIndex]
		p.QuestionGuidance = in.Template.Questions[in.QuestionIndex].Guidance
	}
	prev := in.QuestionIndex - 1
	if in.InAdditionalPhase {
		prev = len(questions) - 1
	}
	if prev >= 0 && prev < len(questions) {
		p.PreviousQuestion = questions[prev]
	}
	if !in.InAdditionalPhase && in.QuestionIndex+1 < len(questions) {
		p.UpcomingQuestions = append([]string(nil), questions[in.QuestionIndex+1:]...)
	}
	for _, s := range in.Summaries {
		if s.QuestionIndex < in.QuestionIndex {
			p.PriorSummaries = append(p.PriorSummaries, s)
		}
	}
	return p
}

// Render formats the packet as prompt text.
func (p *Packet) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Interview objective: %s\n", orNone(p.Objective))
	fmt.Fprintf(&b, "Tone: %s\n\n", orNone(p.Tone))

	if p.InAdditionalPhase {
		fmt.Fprintf(&b, "Current question (additional round): %s\n", p.QuestionText)
	} else {
		fmt.Fprintf(&b, "Current question (%d of %d): %s\n", p.QuestionIndex+1, p.TotalQuestions, p.QuestionText)
	}
	if p.QuestionGuidance != "" {
		fmt.Fprintf(&b, "Question guidance: %s\n", p.QuestionGuidance)
	}
	if p.PreviousQuestion != "" {
		fmt.Fprintf(&b, "Previous question: %s\n", p.PreviousQuestion)
	}
	if len(p.UpcomingQuestions) > 0 {
		b.WriteString("Upcoming questions (do not duplicate these topics):\n")
		for _, q := range p.UpcomingQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	m := p.Metrics
	fmt.Fprintf(&b, "\nQuestion metrics: %d respondent turns, %d words, %.0fs active, %d of %d follow-ups used",
		m.TurnCount, m.WordCount, float64(m.ActiveTimeMs)/1000, m.FollowUpCount, p.MaxFollowUps)
	if p.Elapsed != "" {
		fmt.Fprintf(&b, ", %s elapsed in session", p.Elapsed)
	}
	b.WriteString("\n")

	if len(p.PriorSummaries) > 0 {
		b.WriteString("\nEarlier answers:\n")
		for _, s := range p.PriorSummaries {
			fmt.Fprintf(&b, "- Q%d (%s): %s\n", s.QuestionIndex+1, s.CompletenessAssessment, orNone(s.RespondentSummary))
			for _, in := range s.KeyInsights {
				fmt.Fprintf(&b, "  * %s\n", in)
			}
		}
	}

	if p.CrossSession != nil {
		b.WriteString("\n")
		b.WriteString(p.CrossSession.Render(p.QuestionIndex))
	}
	if len(p.Hypotheses) > 0 {
		b.WriteString("\n")
		b.WriteString(renderHypotheses(p.Hypotheses))
	}

	b.WriteString("\nRecent transcript:\n")
	for _, e := range p.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", speakerLabel(e.Speaker), e.Text)
	}
	return b.String()
}

func speakerLabel(s models.Speaker) string {
	if s == models.SpeakerInterviewer {
		return "Interviewer"
	}
	return "Respondent"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if max <= 0 || len(r) <= max {
		return string(r)
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
