package advisor

import (
	"time"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/transcript"
)

// DefaultThreshold is the confidence guidance must strictly exceed.
const DefaultThreshold = 0.6

// Gate holds the timing and confidence rules for injection.
type Gate struct {
	Threshold      float64
	WordsPerMinute int
	MinTurn        time.Duration
	Ceiling        time.Duration
}

// NewGate builds a gate from advisor settings.
func NewGate(c config.Advisor) Gate {
	return Gate{
		Threshold:      c.ConfidenceThreshold,
		WordsPerMinute: c.WordsPerMinute,
		MinTurn:        c.MinTurnDuration.Std(),
		Ceiling:        c.HardCeiling.Std(),
	}
}

// NaturalTurnDuration estimates how long the respondent took to say text,
// never less than MinTurn.
func (g Gate) NaturalTurnDuration(text string) time.Duration {
	d := transcript.EstimateSpeakingTime(transcript.CountWords(text), g.WordsPerMinute)
	if d < g.MinTurn {
		d = g.MinTurn
	}
	return d
}

// Deadline is min(natural turn duration, hard ceiling).
func (g Gate) Deadline(text string) time.Duration {
	d := g.NaturalTurnDuration(text)
	if g.Ceiling > 0 && d > g.Ceiling {
		d = g.Ceiling
	}
	return d
}

// ShouldInject reports whether guidance may reach the interviewer:
// confidence strictly above the threshold and an actionable action.
func (g Gate) ShouldInject(gd *Guidance) bool {
	if gd == nil {
		return false
	}
	switch gd.Action {
	case models.ActionNone, models.ActionUnknown:
		return false
	}
	return gd.Confidence > g.Threshold
}
