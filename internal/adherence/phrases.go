package adherence

import (
	"strings"
	"unicode"
)

var probingPhrases = []string{
	"tell me more", "say more", "can you elaborate", "could you elaborate", "elaborate on",
	"what do you mean", "can you explain", "could you explain", "for example",
	"an example", "how so", "why", "what made", "how did", "what was it",
	"can you describe", "could you describe", "walk me through", "expand on",
	"more about", "specifically", "dig into", "what happened",
}

var acknowledgmentPhrases = []string{
	"you mentioned", "you said", "earlier you", "as you said", "like you said",
	"going back to", "you noted", "you talked about", "you brought up",
	"building on", "you described", "thanks for sharing", "that's helpful",
	"that is helpful", "i appreciate",
}

var confirmationPhrases = []string{
	"so you're saying", "so you are saying", "if i understand", "if i understood",
	"to clarify", "just to confirm", "to confirm", "let me make sure",
	"do i have that right", "is that right", "is that correct", "did i get that",
	"am i right", "in other words", "what i'm hearing", "sounds like",
}

var environmentKeywords = []string{
	"quiet", "environment", "background", "noise", "audio", "hear you",
	"connection", "microphone", "comfortable", "distraction", "setting",
}

var timeKeywords = []string{
	"time", "minute", "wrap up", "wrapping up", "running short", "quickly",
	"briefly", "last question", "remaining", "few more",
}

var transitionPhrases = []string{
	"moving on", "move on", "next question", "let's move", "let's turn",
	"shifting", "switch gears", "turning to", "now i'd like", "on to ",
	"let's talk about", "another topic", "change topics", "different topic",
}

// metaVocabulary is interview-process wording that says nothing about the
// topic being probed.
var metaVocabulary = map[string]bool{
	"ask": true, "asking": true, "question": true, "questions": true, "probe": true,
	"probing": true, "follow": true, "followup": true, "follow-up": true,
	"respondent": true, "interviewer": true, "participant": true, "user": true,
	"answer": true, "answers": true, "response": true, "more": true, "deeper": true,
	"detail": true, "details": true, "elaborate": true, "clarify": true,
	"mention": true, "mentioned": true, "specific": true, "specifically": true,
	"explore": true, "tell": true, "understand": true, "topic": true, "further": true,
	"their": true, "they": true, "them": true, "about": true, "what": true,
	"why": true, "how": true, "when": true, "where": true, "which": true,
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"for": true, "from": true, "have": true, "has": true, "had": true, "was": true,
	"were": true, "are": true, "you": true, "your": true, "can": true,
	"could": true, "would": true, "should": true, "into": true, "any": true,
	"some": true, "did": true, "does": true, "been": true, "being": true,
	"also": true, "just": true, "like": true, "it's": true, "its": true,
	"not": true, "but": true, "out": true, "get": true, "there": true,
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func keywords(text string) map[string]bool {
	out := map[string]bool{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	for _, w := range words {
		w = strings.Trim(w, "-'")
		if len([]rune(w)) < 3 || metaVocabulary[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// overlapCoefficient is |A ∩ B| / min(|A|, |B|).
func overlapCoefficient(a, b map[string]bool) float64 {
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	if len(smaller) == 0 {
		return 0
	}
	shared := 0
	for w := range smaller {
		if larger[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(smaller))
}

func snippet(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= SnippetLength {
		return string(r)
	}
	return string(r[:SnippetLength-3]) + "..."
}
