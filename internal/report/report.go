// Package report renders adherence reports as markdown.
package report

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/parley/internal/aggregate"
	"github.com/TobiSchelling/parley/internal/models"
)

const dateLayout = "2006-01-02"

// Markdown renders an aggregate report. Sections without data are replaced
// by a one-line note rather than dropped.
func Markdown(r *aggregate.Report) string {
	var sections []string
	sections = append(sections, header(r))
	sections = append(sections, "## TL;DR\n\n"+tldr(r))
	sections = append(sections, "## Coverage\n\n"+coverage(r.Coverage))
	sections = append(sections, "## Advisor\n\n"+advisorStats(r.Advisor))
	sections = append(sections, "## Adherence by action\n\n"+byAction(r.Adherence))
	sections = append(sections, "## Sessions\n\n"+rankings(r.Lowest, r.Highest))
	return strings.Join(sections, "\n\n---\n\n") + "\n"
}

func header(r *aggregate.Report) string {
	title := fmt.Sprintf("# Adherence report: %s %s", r.Scope.Kind, r.Scope.ID)
	window := "all time"
	switch {
	case r.From != nil && r.To != nil:
		window = fmt.Sprintf("%s to %s", r.From.Format(dateLayout), r.To.Format(dateLayout))
	case r.From != nil:
		window = "since " + r.From.Format(dateLayout)
	case r.To != nil:
		window = "until " + r.To.Format(dateLayout)
	}
	return fmt.Sprintf("%s\n\nWindow: %s. Generated %s.", title, window, r.GeneratedAt.UTC().Format(time.RFC3339))
}

func tldr(r *aggregate.Report) string {
	if r.Coverage.GuidanceEventsInWindow == 0 {
		return "- No guidance was recorded in this window."
	}
	bullets := []string{
		fmt.Sprintf("- Overall adherence rate %s across %d scored events.", pct(r.Adherence.Rate), r.Adherence.Scored()),
		fmt.Sprintf("- The advisor injected %d of %d evaluations (%s).",
			r.Advisor.InjectedCount, r.Advisor.TotalEvents, pct(r.Advisor.InjectionRate)),
	}
	if r.Adherence.Unscored > 0 {
		bullets = append(bullets, fmt.Sprintf("- %d events could not be scored.", r.Adherence.Unscored))
	}
	return strings.Join(bullets, "\n")
}

func coverage(c aggregate.Coverage) string {
	rows := [][2]string{
		{"Sessions visited", fmt.Sprint(c.SessionsVisited)},
		{"Sessions with guidance", fmt.Sprint(c.SessionsWithGuidance)},
		{"Fully scored sessions", fmt.Sprint(c.SessionsFullyScored)},
		{"Sessions with unscored events", fmt.Sprint(c.SessionsWithUnscored)},
		{"Guidance events (total)", fmt.Sprint(c.GuidanceEventsTotal)},
		{"Guidance events (in window)", fmt.Sprint(c.GuidanceEventsInWindow)},
	}
	var b strings.Builder
	b.WriteString("| Metric | Value |\n|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}
	return strings.TrimRight(b.String(), "\n")
}

func advisorStats(s aggregate.AdvisorStats) string {
	if s.TotalEvents == 0 {
		return "No advisor evaluations."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Confidence: avg %.2f, min %.2f, max %.2f.\n\n", s.ConfidenceAvg, s.ConfidenceMin, s.ConfidenceMax)
	b.WriteString("| Action | Events |\n|---|---|\n")
	for _, a := range sortedActions(s.ByAction) {
		fmt.Fprintf(&b, "| %s | %d |\n", a, s.ByAction[a])
	}
	return strings.TrimRight(b.String(), "\n")
}

func byAction(s aggregate.AdherenceStats) string {
	if len(s.ByAction) == 0 {
		return "No guidance to score."
	}
	var b strings.Builder
	b.WriteString("| Action | Total | Followed | Partial | Not followed | N/A | Unscored | Rate |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, a := range s.ByAction {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %d | %s |\n",
			a.Action, a.Total, a.Followed, a.PartiallyFollowed, a.NotFollowed, a.NotApplicable, a.Unscored, pct(a.Rate))
	}
	fmt.Fprintf(&b, "| **all** | %d | %d | %d | %d | %d | %d | %s |",
		s.Total, s.Followed, s.PartiallyFollowed, s.NotFollowed, s.NotApplicable, s.Unscored, pct(s.Rate))
	return b.String()
}

func rankings(lowest, highest []aggregate.SessionRank) string {
	if len(lowest) == 0 && len(highest) == 0 {
		return "No scored sessions."
	}
	return "**Lowest adherence**\n\n" + rankList(lowest) + "\n\n**Highest adherence**\n\n" + rankList(highest)
}

func rankList(ranks []aggregate.SessionRank) string {
	var lines []string
	for _, r := range ranks {
		lines = append(lines, fmt.Sprintf("- `%s`: %s (%d of %d scored)", r.SessionID, pct(r.Rate), r.Scored, r.Total))
	}
	return strings.Join(lines, "\n")
}

func pct(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}

// sortedActions lists the known actions first, in vocabulary order.
func sortedActions(counts map[models.Action]int) []models.Action {
	var out []models.Action
	for _, a := range models.KnownActions {
		if _, ok := counts[a]; ok {
			out = append(out, a)
		}
	}
	var rest []models.Action
	for a := range counts {
		if !slices.Contains(models.KnownActions, a) {
			rest = append(rest, a)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}
