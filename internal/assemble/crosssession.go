package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/themes"
)

// FlagCount is one recurring answer-quality flag.
type FlagCount struct {
	Flag  string `json:"flag"`
	Count int    `json:"count"`
}

// QualityAlert warns that earlier respondents answered a question poorly.
type QualityAlert struct {
	QuestionIndex    int         `json:"question_index"`
	ResponseCount    int         `json:"response_count"`
	QualityScore     float64     `json:"quality_score"`
	Richness         string      `json:"richness"`
	PerspectiveRange string      `json:"perspective_range"`
	TopFlags         []FlagCount `json:"top_flags,omitempty"`
}

// CrossSessionContext is the cross-session enrichment feed.
type CrossSessionContext struct {
	AnalyzedSessions int                    `json:"analyzed_sessions"`
	ThemesByQuestion map[int][]themes.Theme `json:"themes_by_question,omitempty"`
	EmergentThemes   []themes.Theme         `json:"emergent_themes,omitempty"`
	Alerts           []QualityAlert         `json:"alerts,omitempty"`
}

// CrossSession derives the enrichment feed from a snapshot. It returns nil
// unless the project enables the feature and enough sessions have been
// analyzed.
func CrossSession(snap *themes.Snapshot, projectEnabled bool, cfg config.CrossSession) *CrossSessionContext {
	if !projectEnabled || snap == nil || snap.AnalyzedSessions < cfg.MinAnalyzedSessions {
		return nil
	}
	out := &CrossSessionContext{
		AnalyzedSessions: snap.AnalyzedSessions,
		ThemesByQuestion: map[int][]themes.Theme{},
	}

	ranked := append([]themes.Theme(nil), snap.Themes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Prevalence != ranked[j].Prevalence {
			return ranked[i].Prevalence > ranked[j].Prevalence
		}
		return ranked[i].Label < ranked[j].Label
	})
	for _, t := range ranked {
		if t.QuestionIndex == nil {
			if len(out.EmergentThemes) < cfg.EmergentThemes {
				out.EmergentThemes = append(out.EmergentThemes, t)
			}
			continue
		}
		q := *t.QuestionIndex
		if len(out.ThemesByQuestion[q]) < cfg.ThemesPerQuestion {
			out.ThemesByQuestion[q] = append(out.ThemesByQuestion[q], t)
		}
	}

	for _, q := range snap.Quality {
		if alert, ok := qualityAlert(q, cfg); ok {
			out.Alerts = append(out.Alerts, alert)
		}
	}
	return out
}

func qualityAlert(q themes.QuestionQuality, cfg config.CrossSession) (QualityAlert, bool) {
	if q.ResponseCount < cfg.MinResponses {
		return QualityAlert{}, false
	}
	flags := topFlags(q.FlagCounts, 0)
	recurring := len(flags) > 0 && flags[0].Count >= cfg.MinFlagCount
	if !(q.QualityScore < cfg.QualityThreshold ||
		q.Richness == themes.RichnessBrief ||
		q.PerspectiveRange == themes.PerspectiveNarrow ||
		recurring) {
		return QualityAlert{}, false
	}
	if cfg.TopFlags >= 0 && len(flags) > cfg.TopFlags {
		flags = flags[:cfg.TopFlags]
	}
	return QualityAlert{
		QuestionIndex:    q.QuestionIndex,
		ResponseCount:    q.ResponseCount,
		QualityScore:     q.QualityScore,
		Richness:         q.Richness,
		PerspectiveRange: q.PerspectiveRange,
		TopFlags:         flags,
	}, true
}

// topFlags orders flags by count descending, then name. n <= 0 keeps all.
func topFlags(counts map[string]int, n int) []FlagCount {
	out := make([]FlagCount, 0, len(counts))
	for f, c := range counts {
		if c > 0 {
			out = append(out, FlagCount{Flag: f, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Flag < out[j].Flag
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Render formats the feed, highlighting the current question.
func (c *CrossSessionContext) Render(current int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patterns from %d earlier interviews:\n", c.AnalyzedSessions)
	if ts := c.ThemesByQuestion[current]; len(ts) > 0 {
		b.WriteString("Themes for this question:\n")
		for _, t := range ts {
			fmt.Fprintf(&b, "- %s (%.0f%% of respondents)\n", t.Label, t.Prevalence*100)
		}
	}
	if len(c.EmergentThemes) > 0 {
		b.WriteString("Emergent themes:\n")
		for _, t := range c.EmergentThemes {
			fmt.Fprintf(&b, "- %s (%.0f%% of respondents)\n", t.Label, t.Prevalence*100)
		}
	}
	for _, a := range c.Alerts {
		if a.QuestionIndex != current {
			continue
		}
		fmt.Fprintf(&b, "Quality alert: earlier answers here scored %.0f/100 (%s, %s perspectives)",
			a.QualityScore, a.Richness, a.PerspectiveRange)
		if len(a.TopFlags) > 0 {
			names := make([]string, len(a.TopFlags))
			for i, f := range a.TopFlags {
				names[i] = fmt.Sprintf("%s x%d", f.Flag, f.Count)
			}
			fmt.Fprintf(&b, "; recurring: %s", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
