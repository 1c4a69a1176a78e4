package eventlog

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAndArchive(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "live"), "sess-1")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l.Log(Event{Time: at, SessionID: "sess-1", Kind: KindSessionStart})
	l.Log(Event{Time: at, SessionID: "sess-1", Kind: KindTurn, QuestionIndex: At(0), Data: map[string]any{"speaker": "respondent"}})
	require.NoError(t, l.Close())

	live, err := ReadLog(l.Path())
	require.NoError(t, err)
	require.Len(t, live, 2)

	archiveDir := filepath.Join(dir, "archive")
	path, err := Archive(l.Path(), archiveDir)
	require.NoError(t, err)
	assert.Equal(t, ArchivePath("sess-1", archiveDir), path)
	assert.True(t, IsArchived("sess-1", archiveDir))
	assert.NoFileExists(t, l.Path())

	events, err := ReadArchive(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindTurn, events[1].Kind)
	require.NotNil(t, events[1].QuestionIndex)
	assert.Equal(t, 0, *events[1].QuestionIndex)
	assert.Equal(t, map[string]any{"speaker": "respondent"}, events[1].Data)
	assert.True(t, events[0].Time.Equal(at))
}

func TestConcurrentLog(t *testing.T) {
	l, err := Open(t.TempDir(), "sess-2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Log(Event{SessionID: "sess-2", Kind: KindGuidance, QuestionIndex: At(i)})
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	events, err := ReadLog(l.Path())
	require.NoError(t, err)
	assert.Len(t, events, 20)
	l.Log(Event{Kind: KindTurn}) // after Close: dropped, no panic
}

func TestArchiveRejectsOtherFiles(t *testing.T) {
	_, err := Archive(filepath.Join(t.TempDir(), "notes.txt"), t.TempDir())
	assert.Error(t, err)
}
