// Package transcript holds the per-session turn log and per-question metrics.
package transcript

import (
	"strings"

	"github.com/TobiSchelling/parley/internal/models"
)

// DefaultWindow is the working window size used when none is configured.
const DefaultWindow = 40

// Store is an append-only turn log with two views: the persisted sequence,
// which is never truncated, and a working window capped at the most recent
// entries. A Store belongs to exactly one session and is not safe for
// concurrent use.
type Store struct {
	persisted []models.TurnEntry
	working   []models.TurnEntry
	window    int
}

// NewStore creates a store whose working view keeps at most window entries.
func NewStore(window int) *Store {
	if window < 1 {
		window = DefaultWindow
	}
	return &Store{window: window}
}

// Restore rebuilds a store from persisted history, e.g. when resuming.
func Restore(entries []models.TurnEntry, window int) *Store {
	s := NewStore(window)
	s.persisted = append(s.persisted, entries...)
	s.working = Retain(s.persisted, s.window)
	return s
}

// Append adds an entry to both views and returns its position in the
// persisted sequence.
func (s *Store) Append(e models.TurnEntry) int {
	s.persisted = append(s.persisted, e)
	s.working = append(s.working, e)
	if len(s.working) > s.window {
		s.working = Retain(s.working, s.window)
	}
	return len(s.persisted) - 1
}

// Persisted returns a copy of the full history.
func (s *Store) Persisted() []models.TurnEntry {
	out := make([]models.TurnEntry, len(s.persisted))
	copy(out, s.persisted)
	return out
}

// Working returns a copy of the working window.
func (s *Store) Working() []models.TurnEntry {
	out := make([]models.TurnEntry, len(s.working))
	copy(out, s.working)
	return out
}

// Len is the number of persisted entries.
func (s *Store) Len() int { return len(s.persisted) }

// Last returns the most recent entry.
func (s *Store) Last() (models.TurnEntry, bool) {
	if len(s.persisted) == 0 {
		return models.TurnEntry{}, false
	}
	return s.persisted[len(s.persisted)-1], true
}

// ForQuestion returns the persisted entries belonging to one question.
func (s *Store) ForQuestion(index int) []models.TurnEntry {
	var out []models.TurnEntry
	for _, e := range s.persisted {
		if e.QuestionIndex == index {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns up to n entries from the end of the working window.
func (s *Store) Recent(n int) []models.TurnEntry {
	return Retain(s.Working(), n)
}

// Retain keeps the last n entries, dropping the oldest first. The result
// never aliases the input.
func Retain(entries []models.TurnEntry, n int) []models.TurnEntry {
	if n <= 0 {
		return nil
	}
	start := 0
	if len(entries) > n {
		start = len(entries) - n
	}
	out := make([]models.TurnEntry, len(entries)-start)
	copy(out, entries[start:])
	return out
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
