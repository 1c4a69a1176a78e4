package advisor

import (
	"sync"

	"github.com/TobiSchelling/parley/internal/models"
)

// Log is a session's guidance log. Late results arrive on other
// goroutines, so it is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	events []models.GuidanceEvent
	sink   func(models.GuidanceEvent)
}

// NewLog creates a log seeded with earlier events (when resuming). sink, if
// set, is called with every appended event outside the lock.
func NewLog(seed []models.GuidanceEvent, sink func(models.GuidanceEvent)) *Log {
	return &Log{events: append([]models.GuidanceEvent(nil), seed...), sink: sink}
}

// Append assigns the next index to ev and stores it.
func (l *Log) Append(ev models.GuidanceEvent) models.GuidanceEvent {
	l.mu.Lock()
	ev.Index = len(l.events)
	l.events = append(l.events, ev)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink(ev)
	}
	return ev
}

// Events returns a copy of the log.
func (l *Log) Events() []models.GuidanceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.GuidanceEvent(nil), l.events...)
}

// Len is the number of events logged.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Last returns the most recent event.
func (l *Log) Last() (models.GuidanceEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return models.GuidanceEvent{}, false
	}
	return l.events[len(l.events)-1], true
}
