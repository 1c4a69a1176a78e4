package themes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/parley/internal/models"
)

func TestWardSeparatesDistantGroups(t *testing.T) {
	points := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{5, 5}, {5.1, 5}, {5, 5.1},
	}
	labels := clusterEmbeddings(points, DefaultDistanceThreshold)
	require.Len(t, labels, 6)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[3], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
	assert.Equal(t, 0, labels[0], "labels follow first appearance")
}

func TestWardKeepsEverythingApartBelowThreshold(t *testing.T) {
	labels := clusterEmbeddings([][]float64{{0}, {10}, {20}}, 0.5)
	assert.Equal(t, []int{0, 1, 2}, labels)
}

// fakeEmbedder maps each text to a fixed vector.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func sessions() []AnalyzedSession {
	return []AnalyzedSession{
		{ID: "s1", Summaries: []models.QuestionSummary{
			{QuestionIndex: 0, KeyInsights: []string{"Exports are slow"}, CompletenessAssessment: "complete", WordCount: 120},
			{QuestionIndex: 1, KeyInsights: []string{"Wants dark mode"}, CompletenessAssessment: "partial", WordCount: 40},
		}},
		{ID: "s2", Summaries: []models.QuestionSummary{
			{QuestionIndex: 0, KeyInsights: []string{"exports are slow."}, CompletenessAssessment: "incomplete", WordCount: 10},
			{QuestionIndex: 1, KeyInsights: nil, CompletenessAssessment: "unknown", WordCount: 5},
		}},
	}
}

func TestBuildWithEmbedder(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Exports are slow":  {0, 0},
		"exports are slow.": {0.05, 0},
		"Wants dark mode":   {9, 9},
	}}
	snap, err := NewBuilder(emb, 0, nil).Build(context.Background(), "c1", sessions())
	require.NoError(t, err)

	assert.Equal(t, 2, snap.AnalyzedSessions)
	require.Len(t, snap.Themes, 2)
	exports := snap.Themes[0]
	assert.Equal(t, 2, exports.SessionCount)
	assert.InDelta(t, 1.0, exports.Prevalence, 1e-9)
	require.NotNil(t, exports.QuestionIndex)
	assert.Equal(t, 0, *exports.QuestionIndex)
	assert.Len(t, exports.Examples, 1, "examples are deduplicated by normalized text")

	dark := snap.Themes[1]
	assert.InDelta(t, 0.5, dark.Prevalence, 1e-9)
	assert.Equal(t, "Wants dark mode", dark.Label)
}

func TestBuildFallsBackToTextGrouping(t *testing.T) {
	snap, err := NewBuilder(&fakeEmbedder{err: errors.New("offline")}, 0, nil).Build(context.Background(), "c1", sessions())
	require.NoError(t, err)
	require.Len(t, snap.Themes, 2)
	assert.Equal(t, 2, snap.Themes[0].SessionCount)
}

func TestBuildEmergentTheme(t *testing.T) {
	in := []AnalyzedSession{
		{ID: "s1", Summaries: []models.QuestionSummary{{QuestionIndex: 0, KeyInsights: []string{"Cost matters"}}}},
		{ID: "s2", Summaries: []models.QuestionSummary{{QuestionIndex: 2, KeyInsights: []string{"cost matters"}}}},
	}
	snap, err := NewBuilder(nil, 0, nil).Build(context.Background(), "c1", in)
	require.NoError(t, err)
	require.Len(t, snap.Themes, 1)
	assert.Nil(t, snap.Themes[0].QuestionIndex)
}

func TestQuality(t *testing.T) {
	q := Quality(sessions())
	require.Len(t, q, 2)

	q0 := q[0]
	assert.Equal(t, 0, q0.QuestionIndex)
	assert.Equal(t, 2, q0.ResponseCount)
	assert.InDelta(t, 65, q0.QualityScore, 1e-9)
	assert.Equal(t, RichnessModerate, q0.Richness)
	assert.Equal(t, PerspectiveModerate, q0.PerspectiveRange)
	assert.Equal(t, map[string]int{FlagIncompleteAnswer: 1, FlagBriefAnswer: 1}, q0.FlagCounts)

	q1 := q[1]
	assert.InDelta(t, 30, q1.QualityScore, 1e-9)
	assert.Equal(t, RichnessBrief, q1.Richness)
	assert.Equal(t, PerspectiveModerate, q1.PerspectiveRange)
	assert.Equal(t, 1, q1.FlagCounts[FlagNoInsights])
	assert.Equal(t, 1, q1.FlagCounts[FlagBriefAnswer])

	narrow := Quality([]AnalyzedSession{
		{ID: "a", Summaries: []models.QuestionSummary{{QuestionIndex: 0, KeyInsights: []string{"Same"}}}},
		{ID: "b", Summaries: []models.QuestionSummary{{QuestionIndex: 0, KeyInsights: []string{"same"}}}},
		{ID: "c", Summaries: []models.QuestionSummary{{QuestionIndex: 0}}},
	})
	assert.Equal(t, PerspectiveNarrow, narrow[0].PerspectiveRange)
}
