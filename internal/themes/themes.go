// Package themes builds the read-only cross-session snapshot: recurring
// themes from earlier respondents' key insights and per-question answer
// quality.
package themes

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/llm"
	"github.com/TobiSchelling/parley/internal/models"
)

// DefaultDistanceThreshold is the Ward cut height for grouping insights.
const DefaultDistanceThreshold = 1.2

// Richness and perspective-range labels.
const (
	RichnessBrief    = "brief"
	RichnessModerate = "moderate"
	RichnessRich     = "rich"

	PerspectiveNarrow   = "narrow"
	PerspectiveModerate = "moderate"
	PerspectiveBroad    = "broad"
)

// Answer-quality flags.
const (
	FlagIncompleteAnswer = "incomplete_answer"
	FlagBriefAnswer      = "brief_answer"
	FlagNoInsights       = "no_insights"
)

const briefWords = 30

// Theme is a group of similar insights seen across sessions. QuestionIndex
// is set when every insight came from the same question; otherwise the
// theme is emergent.
type Theme struct {
	Label         string   `json:"label"`
	QuestionIndex *int     `json:"question_index,omitempty"`
	Prevalence    float64  `json:"prevalence"`
	SessionCount  int      `json:"session_count"`
	Examples      []string `json:"examples"`
}

// QuestionQuality describes how well one question has been answered so far.
type QuestionQuality struct {
	QuestionIndex    int            `json:"question_index"`
	ResponseCount    int            `json:"response_count"`
	QualityScore     float64        `json:"quality_score"`
	Richness         string         `json:"richness"`
	PerspectiveRange string         `json:"perspective_range"`
	FlagCounts       map[string]int `json:"flag_counts"`
}

// Snapshot is computed once per session and never mutated afterwards.
type Snapshot struct {
	CollectionID     string            `json:"collection_id"`
	AnalyzedSessions int               `json:"analyzed_sessions"`
	Themes           []Theme           `json:"themes"`
	Quality          []QuestionQuality `json:"quality"`
	BuiltAt          time.Time         `json:"built_at"`
}

// AnalyzedSession is an earlier session with its question summaries.
type AnalyzedSession struct {
	ID        string
	Summaries []models.QuestionSummary
}

// Builder builds snapshots.
type Builder struct {
	embedder  llm.Embedder
	threshold float64
	logger    *zap.Logger
}

// NewBuilder creates a snapshot builder. A nil embedder groups insights by
// normalized text instead of clustering.
func NewBuilder(embedder llm.Embedder, threshold float64, logger *zap.Logger) *Builder {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{embedder: embedder, threshold: threshold, logger: logger}
}

type insight struct {
	session  string
	question int
	text     string
}

// Build computes the snapshot for a collection. Embedding failures fall
// back to text grouping; Build itself only fails on context cancellation.
func (b *Builder) Build(ctx context.Context, collectionID string, sessions []AnalyzedSession) (*Snapshot, error) {
	snap := &Snapshot{
		CollectionID:     collectionID,
		AnalyzedSessions: len(sessions),
		BuiltAt:          time.Now(),
	}

	var insights []insight
	for _, s := range sessions {
		for _, sum := range s.Summaries {
			for _, text := range sum.KeyInsights {
				if text = strings.TrimSpace(text); text != "" {
					insights = append(insights, insight{session: s.ID, question: sum.QuestionIndex, text: text})
				}
			}
		}
	}

	labels, err := b.group(ctx, insights)
	if err != nil {
		return nil, err
	}
	snap.Themes = buildThemes(insights, labels, len(sessions))
	snap.Quality = Quality(sessions)

	b.logger.Debug("built cross-session snapshot",
		zap.String("collection_id", collectionID),
		zap.Int("sessions", len(sessions)),
		zap.Int("insights", len(insights)),
		zap.Int("themes", len(snap.Themes)))
	return snap, nil
}

func (b *Builder) group(ctx context.Context, insights []insight) ([]int, error) {
	if len(insights) == 0 {
		return nil, nil
	}
	if b.embedder != nil {
		texts := make([]string, len(insights))
		for i, in := range insights {
			texts[i] = in.text
		}
		embeddings, err := b.embedder.Embed(ctx, texts)
		if err == nil && len(embeddings) == len(insights) {
			return clusterEmbeddings(embeddings, b.threshold), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn("embedding insights failed; grouping by text", zap.Error(err))
	}
	return groupByText(insights), nil
}

func groupByText(insights []insight) []int {
	labels := make([]int, len(insights))
	ids := map[string]int{}
	for i, in := range insights {
		key := normalize(in.text)
		id, ok := ids[key]
		if !ok {
			id = len(ids)
			ids[key] = id
		}
		labels[i] = id
	}
	return labels
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.Trim(s, " .!?"))), " ")
}

func buildThemes(insights []insight, labels []int, analyzed int) []Theme {
	groups := map[int][]insight{}
	var order []int
	for i, l := range labels {
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], insights[i])
	}

	themes := make([]Theme, 0, len(groups))
	for _, l := range order {
		members := groups[l]
		sessions := map[string]bool{}
		questions := map[int]bool{}
		for _, m := range members {
			sessions[m.session] = true
			questions[m.question] = true
		}
		t := Theme{
			Label:        label(members),
			SessionCount: len(sessions),
			Examples:     examples(members, 3),
		}
		if analyzed > 0 {
			t.Prevalence = float64(len(sessions)) / float64(analyzed)
		}
		if len(questions) == 1 {
			q := members[0].question
			t.QuestionIndex = &q
		}
		themes = append(themes, t)
	}
	return themes
}

// label picks the most repeated phrasing, preferring shorter then
// alphabetical text on ties.
func label(members []insight) string {
	counts := map[string]int{}
	for _, m := range members {
		counts[m.text]++
	}
	best := ""
	for text, c := range counts {
		switch {
		case best == "":
			best = text
		case c > counts[best]:
			best = text
		case c == counts[best] && (len(text) < len(best) || (len(text) == len(best) && text < best)):
			best = text
		}
	}
	return best
}

func examples(members []insight, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range members {
		key := normalize(m.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.text)
		if len(out) == n {
			break
		}
	}
	return out
}

// CompletenessScore maps a completeness assessment to a 0-100 score.
func CompletenessScore(completeness string) float64 {
	switch strings.ToLower(completeness) {
	case models.CompletenessComplete:
		return 100
	case models.CompletenessPartial:
		return 60
	case models.CompletenessIncomplete:
		return 30
	}
	return 0
}

// Quality computes per-question answer quality across sessions, ordered by
// question index.
func Quality(sessions []AnalyzedSession) []QuestionQuality {
	type acc struct {
		responses int
		score     float64
		words     int
		insights  map[string]bool
		flags     map[string]int
	}
	byQuestion := map[int]*acc{}
	for _, s := range sessions {
		for _, sum := range s.Summaries {
			a, ok := byQuestion[sum.QuestionIndex]
			if !ok {
				a = &acc{insights: map[string]bool{}, flags: map[string]int{}}
				byQuestion[sum.QuestionIndex] = a
			}
			a.responses++
			a.score += CompletenessScore(sum.CompletenessAssessment)
			a.words += sum.WordCount
			for _, in := range sum.KeyInsights {
				if key := normalize(in); key != "" {
					a.insights[key] = true
				}
			}
			if strings.EqualFold(sum.CompletenessAssessment, models.CompletenessIncomplete) {
				a.flags[FlagIncompleteAnswer]++
			}
			if sum.WordCount < briefWords {
				a.flags[FlagBriefAnswer]++
			}
			if len(sum.KeyInsights) == 0 {
				a.flags[FlagNoInsights]++
			}
		}
	}

	out := make([]QuestionQuality, 0, len(byQuestion))
	for idx, a := range byQuestion {
		n := float64(a.responses)
		out = append(out, QuestionQuality{
			QuestionIndex:    idx,
			ResponseCount:    a.responses,
			QualityScore:     a.score / n,
			Richness:         richness(float64(a.words) / n),
			PerspectiveRange: perspective(float64(len(a.insights)) / n),
			FlagCounts:       a.flags,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}

func richness(avgWords float64) string {
	switch {
	case avgWords < 30:
		return RichnessBrief
	case avgWords < 100:
		return RichnessModerate
	}
	return RichnessRich
}

func perspective(ratio float64) string {
	switch {
	case ratio < 0.5:
		return PerspectiveNarrow
	case ratio < 1:
		return PerspectiveModerate
	}
	return PerspectiveBroad
}
