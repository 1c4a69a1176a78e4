package transcript

import (
	"time"

	"github.com/TobiSchelling/parley/internal/models"
)

// Tracker owns the QuestionMetrics of the question currently open. Once a
// question ends its metrics are frozen and further updates are ignored.
type Tracker struct {
	current *models.QuestionMetrics
	ended   bool
}

// NewTracker returns a tracker with no open question.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start opens a fresh metrics record for a question.
func (t *Tracker) Start(questionIndex, recommendedFollowUps int, now time.Time) {
	t.current = &models.QuestionMetrics{
		QuestionIndex:        questionIndex,
		StartedAt:            now,
		RecommendedFollowUps: recommendedFollowUps,
	}
	t.ended = false
}

// Resume reopens a question from reconstructed metrics.
func (t *Tracker) Resume(m models.QuestionMetrics) {
	cp := m
	t.current = &cp
	t.ended = false
}

// RecordRespondentTurn adds one respondent answer. activeTime is how long the
// respondent spent speaking or typing.
func (t *Tracker) RecordRespondentTurn(text string, activeTime time.Duration) {
	if t.current == nil || t.ended {
		return
	}
	t.current.TurnCount++
	t.current.WordCount += CountWords(text)
	t.current.ActiveTimeMs += activeTime.Milliseconds()
}

// RecordFollowUp counts a follow-up asked by the interviewer.
func (t *Tracker) RecordFollowUp() {
	if t.current == nil || t.ended {
		return
	}
	t.current.FollowUpCount++
}

// Current returns a snapshot of the open question's metrics.
func (t *Tracker) Current() (models.QuestionMetrics, bool) {
	if t.current == nil {
		return models.QuestionMetrics{}, false
	}
	return *t.current, true
}

// End freezes the open question and returns its final metrics.
func (t *Tracker) End() (models.QuestionMetrics, bool) {
	if t.current == nil {
		return models.QuestionMetrics{}, false
	}
	t.ended = true
	return *t.current, true
}

// Rebuild derives metrics for one question from persisted turns. The first
// interviewer turn is the question itself; later interviewer turns are
// follow-ups. Active time is estimated from word count at wordsPerMinute.
func Rebuild(turns []models.TurnEntry, questionIndex, recommendedFollowUps, wordsPerMinute int) models.QuestionMetrics {
	m := models.QuestionMetrics{QuestionIndex: questionIndex, RecommendedFollowUps: recommendedFollowUps}
	interviewerTurns := 0
	for _, e := range turns {
		if e.QuestionIndex != questionIndex {
			continue
		}
		if m.StartedAt.IsZero() {
			m.StartedAt = e.Timestamp
		}
		switch e.Speaker {
		case models.SpeakerInterviewer:
			interviewerTurns++
		case models.SpeakerRespondent:
			words := CountWords(e.Text)
			m.TurnCount++
			m.WordCount += words
			m.ActiveTimeMs += EstimateSpeakingTime(words, wordsPerMinute).Milliseconds()
		}
	}
	if interviewerTurns > 1 {
		m.FollowUpCount = interviewerTurns - 1
	}
	return m
}

// EstimateSpeakingTime converts a word count into speaking time.
func EstimateSpeakingTime(words, wordsPerMinute int) time.Duration {
	if wordsPerMinute <= 0 || words <= 0 {
		return 0
	}
	return time.Duration(words) * time.Minute / time.Duration(wordsPerMinute)
}
