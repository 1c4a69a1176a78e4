package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/templates"
)

// exhaustedAnswer is replayed once a script runs out.
const exhaustedAnswer = "I don't think I have anything more to add."

// RespondInput is what a respondent sees before answering.
type RespondInput struct {
	Utterance     string
	QuestionIndex int
	History       []models.TurnEntry
	// Answered counts the respondent's earlier turns in the whole session.
	Answered    int
	Attribution models.Attribution
}

// Respondent answers the interviewer. An error fails the session.
type Respondent interface {
	Respond(ctx context.Context, in RespondInput) (string, error)
}

// ScriptedRespondent replays fixed answers in order. It keeps no state, so
// a resumed session picks up at the right answer.
type ScriptedRespondent struct {
	answers []string
}

// NewScriptedRespondent creates a respondent that replays answers.
func NewScriptedRespondent(answers []string) *ScriptedRespondent {
	return &ScriptedRespondent{answers: answers}
}

// Respond returns the next scripted answer.
func (s *ScriptedRespondent) Respond(ctx context.Context, in RespondInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if in.Answered < len(s.answers) {
		return s.answers[in.Answered], nil
	}
	return exhaustedAnswer, nil
}

const respondentPrompt = `You are role-playing a participant in a research interview. Stay in character and answer naturally in a few sentences.

Who you are: %s
%s
Background: %s

Conversation so far:
%s
Interviewer: %s

Output only your answer.`

// LLMRespondent role-plays a persona with the respondent model.
type LLMRespondent struct {
	client  *llm.Client
	cfg     *config.Config
	persona templates.Persona
}

// NewLLMRespondent creates a simulated respondent. A nil persona plays a
// generic participant.
func NewLLMRespondent(client *llm.Client, cfg *config.Config, p *templates.Persona) *LLMRespondent {
	r := &LLMRespondent{client: client, cfg: cfg, persona: templates.Persona{Name: "a typical participant"}}
	if p != nil {
		r.persona = *p
	}
	return r
}

// Respond generates an in-character answer.
func (r *LLMRespondent) Respond(ctx context.Context, in RespondInput) (string, error) {
	var traits string
	if len(r.persona.Traits) > 0 {
		traits = "Traits: " + strings.Join(r.persona.Traits, ", ")
	}
	prompt := fmt.Sprintf(respondentPrompt, r.persona.Name, traits, r.persona.Background, formatTurns(in.History), in.Utterance)
	return r.client.Generate(ctx, llm.RequestFor(r.cfg, config.UseRespondent, prompt, in.Attribution))
}
