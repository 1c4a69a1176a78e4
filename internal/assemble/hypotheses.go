package assemble

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/TobiSchelling/parley/internal/config"
)

// Hypothesis sources, in priority order.
const (
	SourceRecommendation   = "recommendation"
	SourceActionItem       = "action_item"
	SourceStrategicInsight = "strategic_insight"
)

// AnalyticsItem is one upstream analytics finding.
type AnalyticsItem struct {
	Type             string `json:"type,omitempty"`
	Text             string `json:"text"`
	Priority         string `json:"priority"`
	RelatedQuestions []int  `json:"related_questions,omitempty"`
}

// Analytics is the project-level analytics feed.
type Analytics struct {
	ProjectSessions   int
	Recommendations   []AnalyticsItem
	ActionItems       []AnalyticsItem
	StrategicInsights []AnalyticsItem
}

// Hypothesis is an analytics-derived idea the interviewer may test.
type Hypothesis struct {
	Text              string `json:"text"`
	Priority          string `json:"priority"`
	Source            string `json:"source"`
	RelatedQuestions  []int  `json:"related_questions,omitempty"`
	RelevantToCurrent bool   `json:"relevant_to_current"`
}

// Hypotheses collects hypotheses for the current question. It returns nil
// when disabled or when the project has too few sessions.
func Hypotheses(src *Analytics, enabled bool, cfg config.Hypotheses, current int) []Hypothesis {
	if !enabled || src == nil || src.ProjectSessions < cfg.MinProjectSessions {
		return nil
	}

	var out []Hypothesis
	add := func(item AnalyticsItem, source string) {
		if cfg.MaxCount > 0 && len(out) >= cfg.MaxCount {
			return
		}
		text := truncate(item.Text, cfg.MaxTextLength)
		if text == "" {
			return
		}
		out = append(out, Hypothesis{
			Text:              text,
			Priority:          strings.ToLower(strings.TrimSpace(item.Priority)),
			Source:            source,
			RelatedQuestions:  item.RelatedQuestions,
			RelevantToCurrent: len(item.RelatedQuestions) == 0 || slices.Contains(item.RelatedQuestions, current),
		})
	}

	for _, r := range src.Recommendations {
		if slices.Contains(cfg.RecommendationTypes, r.Type) {
			add(r, SourceRecommendation)
		}
	}
	for _, a := range src.ActionItems {
		add(a, SourceActionItem)
	}
	for _, s := range src.StrategicInsights {
		add(s, SourceStrategicInsight)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank(out[i].Priority) < priorityRank(out[j].Priority)
	})
	return out
}

func priorityRank(p string) int {
	switch p {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	}
	return 3
}

func renderHypotheses(hs []Hypothesis) string {
	var b strings.Builder
	b.WriteString("Hypotheses from project analytics:\n")
	for _, h := range hs {
		marker := ""
		if h.RelevantToCurrent {
			marker = " [relevant now]"
		}
		fmt.Fprintf(&b, "- (%s) %s%s\n", orNone(h.Priority), h.Text, marker)
	}
	return b.String()
}
