package models

// ConditionalLogic makes a question depend on an earlier question's answer.
// Exactly one of ShowWhen or Condition is expected.
type ConditionalLogic struct {
	DependsOn *int   `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ShowWhen  string `json:"show_when,omitempty" yaml:"show_when,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Question is one entry of an interview template.
type Question struct {
	Text                 string            `json:"text" yaml:"text"`
	Guidance             string            `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	RecommendedFollowUps int               `json:"recommended_follow_ups,omitempty" yaml:"recommended_follow_ups,omitempty"`
	Logic                *ConditionalLogic `json:"conditional_logic,omitempty" yaml:"conditional_logic,omitempty"`
}

// Template is the interview script plus its tone and objective.
type Template struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Objective string     `json:"objective" yaml:"objective"`
	Tone      string     `json:"tone" yaml:"tone"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// QuestionTexts returns the text of every question in order.
func (t Template) QuestionTexts() []string {
	out := make([]string, len(t.Questions))
	for i, q := range t.Questions {
		out[i] = q.Text
	}
	return out
}
