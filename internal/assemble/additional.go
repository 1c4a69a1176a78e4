package assemble

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/models"
)

// PriorSession is an earlier session in the same collection.
type PriorSession struct {
	ID          string
	Status      string
	CompletedAt time.Time
	Summaries   []models.QuestionSummary
}

// AdditionalContext selects the earlier sessions used when generating
// additional questions. Only completed sessions other than currentID with
// at least one summary count; nil is returned below the threshold. At most
// MaxSessions of the most recent are kept.
func AdditionalContext(currentID string, sessions []PriorSession, cfg config.Additional) []PriorSession {
	var eligible []PriorSession
	for _, s := range sessions {
		if s.ID == currentID || s.Status != models.SessionCompleted || len(s.Summaries) == 0 {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) < cfg.MinCompletedSessions || len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].CompletedAt.After(eligible[j].CompletedAt)
	})
	if cfg.MaxSessions > 0 && len(eligible) > cfg.MaxSessions {
		eligible = eligible[:cfg.MaxSessions]
	}
	return eligible
}

// RenderAdditional formats the current session's summaries and any earlier
// sessions for the additional-question prompt.
func RenderAdditional(current []models.QuestionSummary, prior []PriorSession) string {
	var b strings.Builder
	b.WriteString("This interview so far:\n")
	for _, s := range current {
		fmt.Fprintf(&b, "- Q%d %s\n  Answer: %s\n", s.QuestionIndex+1, s.QuestionText, orNone(s.RespondentSummary))
	}
	if len(prior) > 0 {
		fmt.Fprintf(&b, "\nEarlier interviews in this collection (%d):\n", len(prior))
		for _, p := range prior {
			var insights []string
			for _, s := range p.Summaries {
				insights = append(insights, s.KeyInsights...)
			}
			fmt.Fprintf(&b, "- %s\n", orNone(strings.Join(insights, "; ")))
		}
	}
	return b.String()
}
