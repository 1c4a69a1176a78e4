package adherence

import (
	"github.com/TobiSchelling/parley/internal/models"
)

// Counts tallies adherence labels. The five label counts always sum to Total.
type Counts struct {
	Total             int `json:"total"`
	Followed          int `json:"followed"`
	PartiallyFollowed int `json:"partially_followed"`
	NotFollowed       int `json:"not_followed"`
	NotApplicable     int `json:"not_applicable"`
	Unscored          int `json:"unscored"`
}

// Add counts one label; anything outside the four scored labels is unscored.
func (c *Counts) Add(label models.AdherenceLabel) {
	c.Total++
	switch label {
	case models.AdherenceFollowed:
		c.Followed++
	case models.AdherencePartiallyFollowed:
		c.PartiallyFollowed++
	case models.AdherenceNotFollowed:
		c.NotFollowed++
	case models.AdherenceNotApplicable:
		c.NotApplicable++
	default:
		c.Unscored++
	}
}

// Merge adds other into c.
func (c *Counts) Merge(other Counts) {
	c.Total += other.Total
	c.Followed += other.Followed
	c.PartiallyFollowed += other.PartiallyFollowed
	c.NotFollowed += other.NotFollowed
	c.NotApplicable += other.NotApplicable
	c.Unscored += other.Unscored
}

// Scored is the number of events whose guidance applied and was labelled.
func (c Counts) Scored() int {
	return c.Followed + c.PartiallyFollowed + c.NotFollowed
}

// Rate is (followed + 0.5 * partially_followed) / scored, or 0 when nothing
// was scored.
func (c Counts) Rate() float64 {
	scored := c.Scored()
	if scored == 0 {
		return 0
	}
	return (float64(c.Followed) + 0.5*float64(c.PartiallyFollowed)) / float64(scored)
}

// Consistent reports whether the label counts sum to Total.
func (c Counts) Consistent() bool {
	return c.Followed+c.PartiallyFollowed+c.NotFollowed+c.NotApplicable+c.Unscored == c.Total
}

// Summary is the per-session adherence roll-up. It is always recomputable
// from the guidance log and transcript.
type Summary struct {
	Counts
	ByAction map[models.Action]*Counts `json:"by_action"`
}

// Summarize tallies already-labelled events.
func Summarize(events []models.GuidanceEvent) Summary {
	s := Summary{ByAction: map[models.Action]*Counts{}}
	for _, ev := range events {
		s.Add(ev.Adherence)
		c, ok := s.ByAction[ev.Action]
		if !ok {
			c = &Counts{}
			s.ByAction[ev.Action] = c
		}
		c.Add(ev.Adherence)
	}
	return s
}

// Unscored marks every event unscored, for sessions whose transcript is
// missing.
func Unscored(events []models.GuidanceEvent) []models.GuidanceEvent {
	out := make([]models.GuidanceEvent, len(events))
	for i, ev := range events {
		ev.Adherence, ev.AdherenceReason, ev.ResponseSnippet = "", "", ""
		out[i] = ev
	}
	return out
}
