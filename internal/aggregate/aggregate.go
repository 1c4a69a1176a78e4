// Package aggregate summarizes guidance adherence across many sessions.
package aggregate

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/adherence"
	"github.com/TobiSchelling/parley/internal/models"
)

// DefaultTopN is used when no ranking size is given.
const DefaultTopN = 5

// Scope kinds.
const (
	ScopeCollection = "collection"
	ScopeTemplate   = "template"
	ScopeProject    = "project"
)

// Scope names the set of sessions being aggregated.
type Scope struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Session is one session's guidance log and transcript. HasTranscript is
// false when the transcript could not be loaded; its events then count as
// unscored.
type Session struct {
	ID            string
	StartedAt     time.Time
	Events        []models.GuidanceEvent
	Turns         []models.TurnEntry
	HasTranscript bool
}

// Options bound the aggregation. Zero From/To leave that side open.
type Options struct {
	From time.Time
	To   time.Time
	TopN int
}

func (o Options) inWindow(ts time.Time) bool {
	if o.From.IsZero() && o.To.IsZero() {
		return true
	}
	if ts.IsZero() {
		return false
	}
	if !o.From.IsZero() && ts.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && ts.After(o.To) {
		return false
	}
	return true
}

// Coverage counts what the aggregate was computed from.
type Coverage struct {
	SessionsVisited        int `json:"sessions_visited"`
	SessionsWithGuidance   int `json:"sessions_with_guidance"`
	SessionsFullyScored    int `json:"sessions_fully_scored"`
	SessionsWithUnscored   int `json:"sessions_with_unscored"`
	GuidanceEventsTotal    int `json:"guidance_events_total"`
	GuidanceEventsInWindow int `json:"guidance_events_in_window"`
}

// AdvisorStats describe what the advisor produced, regardless of adherence.
type AdvisorStats struct {
	TotalEvents    int                   `json:"total_events"`
	InjectedCount  int                   `json:"injected_count"`
	InjectionRate  float64               `json:"injection_rate"`
	ByAction       map[models.Action]int `json:"by_action"`
	ConfidenceAvg  float64               `json:"confidence_avg"`
	ConfidenceMin  float64               `json:"confidence_min"`
	ConfidenceMax  float64               `json:"confidence_max"`
	confidenceSum  float64
	confidenceSeen bool
}

// ActionAdherence is the adherence breakdown for one action.
type ActionAdherence struct {
	Action models.Action `json:"action"`
	adherence.Counts
	Rate float64 `json:"rate"`
}

// AdherenceStats are the overall and per-action label counts.
type AdherenceStats struct {
	adherence.Counts
	Rate     float64           `json:"rate"`
	ByAction []ActionAdherence `json:"by_action"`
}

// SessionRank is one entry of the lowest/highest adherence rankings.
type SessionRank struct {
	SessionID string  `json:"session_id"`
	Rate      float64 `json:"rate"`
	Scored    int     `json:"scored"`
	Total     int     `json:"total"`
}

// Report is the aggregate result. Every rate is 0 when its denominator is.
type Report struct {
	Scope       Scope          `json:"scope"`
	From        *time.Time     `json:"from,omitempty"`
	To          *time.Time     `json:"to,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Coverage    Coverage       `json:"coverage"`
	Advisor     AdvisorStats   `json:"advisor"`
	Adherence   AdherenceStats `json:"adherence"`
	Lowest      []SessionRank  `json:"lowest"`
	Highest     []SessionRank  `json:"highest"`
}

// Aggregator builds reports. It never fails: sessions that cannot be scored
// are counted as unscored.
type Aggregator struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates an aggregator. A nil logger discards output.
func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger, now: time.Now}
}

// Aggregate scores every session's in-window guidance and rolls it up.
func (a *Aggregator) Aggregate(scope Scope, sessions []Session, opts Options) *Report {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	r := &Report{
		Scope:       scope,
		GeneratedAt: a.now(),
		Advisor:     AdvisorStats{ByAction: map[models.Action]int{}},
		Lowest:      []SessionRank{},
		Highest:     []SessionRank{},
	}
	if !opts.From.IsZero() {
		from := opts.From
		r.From = &from
	}
	if !opts.To.IsZero() {
		to := opts.To
		r.To = &to
	}

	byAction := map[models.Action]*adherence.Counts{}
	var ranks []SessionRank

	for _, s := range sessions {
		r.Coverage.SessionsVisited++
		r.Coverage.GuidanceEventsTotal += len(s.Events)

		var counts adherence.Counts
		for _, ev := range s.Events {
			if !opts.inWindow(ev.Timestamp) {
				continue
			}
			r.Coverage.GuidanceEventsInWindow++
			r.Advisor.add(ev)

			label := models.AdherenceLabel("")
			if s.HasTranscript {
				if res, ok := adherence.ScoreEvent(ev, s.Turns); ok {
					label = res.Label
				}
			}
			counts.Add(label)
			c, ok := byAction[ev.Action]
			if !ok {
				c = &adherence.Counts{}
				byAction[ev.Action] = c
			}
			c.Add(label)
		}

		if !s.HasTranscript && len(s.Events) > 0 {
			a.logger.Warn("session transcript missing; guidance counted as unscored",
				zap.String("session_id", s.ID), zap.Int("events", len(s.Events)))
		}
		if counts.Total == 0 {
			continue
		}
		r.Coverage.SessionsWithGuidance++
		if counts.Unscored > 0 {
			r.Coverage.SessionsWithUnscored++
		} else {
			r.Coverage.SessionsFullyScored++
		}
		r.Adherence.Merge(counts)
		if counts.Scored() > 0 {
			ranks = append(ranks, SessionRank{SessionID: s.ID, Rate: counts.Rate(), Scored: counts.Scored(), Total: counts.Total})
		}
	}

	r.Advisor.finish()
	r.Adherence.Rate = r.Adherence.Counts.Rate()
	r.Adherence.ByAction = actionBreakdown(byAction)
	r.Lowest, r.Highest = rank(ranks, topN)
	return r
}

func (s *AdvisorStats) add(ev models.GuidanceEvent) {
	s.TotalEvents++
	if ev.Injected {
		s.InjectedCount++
	}
	s.ByAction[ev.Action]++
	c := ev.Confidence
	if math.IsNaN(c) {
		return
	}
	s.confidenceSum += c
	if !s.confidenceSeen || c < s.ConfidenceMin {
		s.ConfidenceMin = c
	}
	if !s.confidenceSeen || c > s.ConfidenceMax {
		s.ConfidenceMax = c
	}
	s.confidenceSeen = true
}

func (s *AdvisorStats) finish() {
	if s.TotalEvents == 0 {
		return
	}
	s.InjectionRate = float64(s.InjectedCount) / float64(s.TotalEvents)
	s.ConfidenceAvg = s.confidenceSum / float64(s.TotalEvents)
}

func actionBreakdown(byAction map[models.Action]*adherence.Counts) []ActionAdherence {
	out := make([]ActionAdherence, 0, len(byAction))
	seen := map[models.Action]bool{}
	order := append(append([]models.Action{}, models.KnownActions...), models.ActionUnknown)
	for _, a := range order {
		if c, ok := byAction[a]; ok {
			out = append(out, ActionAdherence{Action: a, Counts: *c, Rate: c.Rate()})
			seen[a] = true
		}
	}
	// Anything else that slipped in is appended alphabetically.
	var rest []models.Action
	for a := range byAction {
		if !seen[a] {
			rest = append(rest, a)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, a := range rest {
		c := byAction[a]
		out = append(out, ActionAdherence{Action: a, Counts: *c, Rate: c.Rate()})
	}
	return out
}

func rank(ranks []SessionRank, topN int) (lowest, highest []SessionRank) {
	asc := append([]SessionRank{}, ranks...)
	sort.SliceStable(asc, func(i, j int) bool {
		if asc[i].Rate != asc[j].Rate {
			return asc[i].Rate < asc[j].Rate
		}
		return asc[i].SessionID < asc[j].SessionID
	})
	desc := append([]SessionRank{}, ranks...)
	sort.SliceStable(desc, func(i, j int) bool {
		if desc[i].Rate != desc[j].Rate {
			return desc[i].Rate > desc[j].Rate
		}
		return desc[i].SessionID < desc[j].SessionID
	})
	if len(asc) > topN {
		asc = asc[:topN]
	}
	if len(desc) > topN {
		desc = desc[:topN]
	}
	return asc, desc
}
