package flow

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/parley/internal/models"
)

// Answers maps a question index to the respondent's combined answer.
// A missing key means the question was never answered in this session.
type Answers map[int]string

// AnswersFrom joins respondent turns per question.
func AnswersFrom(turns []models.TurnEntry) Answers {
	out := Answers{}
	for _, e := range turns {
		if e.Speaker != models.SpeakerRespondent {
			continue
		}
		if prev, ok := out[e.QuestionIndex]; ok && prev != "" {
			out[e.QuestionIndex] = prev + " " + e.Text
		} else {
			out[e.QuestionIndex] = e.Text
		}
	}
	return out
}

// ShouldSkip evaluates a question's conditional logic against earlier
// answers. It returns whether to skip and a short reason. Questions without
// a descriptor are never skipped, and malformed descriptors fail open.
func ShouldSkip(q models.Question, index int, answers Answers) (bool, string) {
	logic := q.Logic
	if logic == nil {
		return false, "no condition"
	}
	if logic.DependsOn == nil {
		return false, "malformed condition: missing depends_on"
	}
	dep := *logic.DependsOn
	if dep < 0 || dep >= index {
		return false, fmt.Sprintf("malformed condition: depends_on %d is not an earlier question", dep)
	}

	showWhen := strings.TrimSpace(logic.ShowWhen)
	condition := strings.TrimSpace(logic.Condition)
	if showWhen == "" && condition == "" {
		return false, "malformed condition: no predicate"
	}

	answer, ok := answers[dep]
	if !ok {
		return true, fmt.Sprintf("question %d has no answer", dep)
	}

	if showWhen != "" {
		return evalShowWhen(showWhen, answer, dep)
	}
	return evalCondition(condition, answer, dep)
}

func evalShowWhen(showWhen, answer string, dep int) (bool, string) {
	lower := strings.ToLower(answer)
	var values []string
	for _, v := range strings.Split(showWhen, "|") {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return false, "malformed condition: empty show_when"
	}
	for _, v := range values {
		if strings.Contains(lower, v) {
			return false, fmt.Sprintf("answer to question %d matches %q", dep, v)
		}
	}
	return true, fmt.Sprintf("answer to question %d matches none of %q", dep, showWhen)
}

func evalCondition(condition, answer string, dep int) (bool, string) {
	answered := strings.TrimSpace(answer) != ""
	keyword, arg, hasArg := strings.Cut(condition, ":")
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	arg = strings.TrimSpace(arg)

	var show bool
	switch {
	case keyword == "answered" && !hasArg:
		show = answered
	case (keyword == "not_answered" || keyword == "unanswered") && !hasArg:
		show = !answered
	case keyword == "contains" && arg != "":
		show = strings.Contains(strings.ToLower(answer), strings.ToLower(arg))
	case keyword == "equals" && arg != "":
		show = strings.EqualFold(strings.TrimSpace(answer), arg)
	default:
		return false, fmt.Sprintf("malformed condition %q", condition)
	}
	if show {
		return false, fmt.Sprintf("question %d satisfies %q", dep, condition)
	}
	return true, fmt.Sprintf("question %d fails %q", dep, condition)
}

// NextIndex returns the first question at or after from that is not
// skipped, or len(questions) when none remain.
func NextIndex(questions []models.Question, from int, answers Answers) int {
	for i := from; i < len(questions); i++ {
		if skip, _ := ShouldSkip(questions[i], i, answers); !skip {
			return i
		}
	}
	return len(questions)
}
