// Package eventlog writes a per-session NDJSON log of orchestration events
// and archives finished logs with zstd.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind names an event type.
type Kind string

const (
	KindSessionStart Kind = "session_start"
	KindSessionEnd   Kind = "session_end"
	KindTurn         Kind = "turn"
	KindGuidance     Kind = "guidance"
	KindTransition   Kind = "transition"
	KindSkip         Kind = "skip"
	KindOverlap      Kind = "overlap"
	KindSummary      Kind = "summary"
	KindBreaker      Kind = "breaker"
)

// Event is one line of the log.
type Event struct {
	Time          time.Time `json:"time"`
	SessionID     string    `json:"session_id"`
	Kind          Kind      `json:"kind"`
	QuestionIndex *int      `json:"question_index,omitempty"`
	Data          any       `json:"data,omitempty"`
}

// At returns a question index pointer for Event.QuestionIndex.
func At(i int) *int { return &i }

// Logger receives session events. Implementations are safe for concurrent use.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// JSONLogger appends events to <dir>/<session-id>.jsonl.
type JSONLogger struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
	err  error
}

// Open creates or appends to the log file of a session.
func Open(dir, sessionID string) (*JSONLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	path := LogPath(sessionID, dir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &JSONLogger{f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path is the file being written.
func (l *JSONLogger) Path() string { return l.path }

// Log writes one event. The first write error is kept and returned by Close;
// later events are dropped.
func (l *JSONLogger) Log(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil || l.f == nil {
		return
	}
	l.err = l.enc.Encode(ev)
}

// Close flushes and closes the file.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return l.err
	}
	cerr := l.f.Close()
	l.f = nil
	if l.err != nil {
		return fmt.Errorf("write event log: %w", l.err)
	}
	return cerr
}

// LogPath is the live log path of a session.
func LogPath(sessionID, dir string) string {
	return filepath.Join(dir, sessionID+".jsonl")
}
