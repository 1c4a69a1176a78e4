package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses a live session log into archiveDir/<session-id>.jsonl.zst
// and removes the source. It returns the archive path.
func Archive(srcPath, archiveDir string) (string, error) {
	sessionID := strings.TrimSuffix(filepath.Base(srcPath), ".jsonl")
	if sessionID == "" || sessionID == filepath.Base(srcPath) {
		return "", fmt.Errorf("not a session log: %s", srcPath)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open session log: %w", err)
	}
	defer src.Close()

	destPath := ArchivePath(sessionID, archiveDir)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer dest.Close()

	enc, err := zstd.NewWriter(dest)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finalize compression: %w", err)
	}
	if err := dest.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}

	src.Close()
	if err := os.Remove(srcPath); err != nil {
		return destPath, fmt.Errorf("remove session log: %w", err)
	}
	return destPath, nil
}

// ReadArchive decodes every event of an archived log. Data fields come back
// as generic JSON values.
func ReadArchive(archivePath string) ([]Event, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	return readEvents(dec)
}

// ReadLog decodes a live, uncompressed session log.
func ReadLog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	return readEvents(f)
}

func readEvents(r io.Reader) ([]Event, error) {
	var events []Event
	jd := json.NewDecoder(bufio.NewReader(r))
	for {
		var ev Event
		err := jd.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
}

// IsArchived reports whether an archive exists for the session.
func IsArchived(sessionID, archiveDir string) bool {
	_, err := os.Stat(ArchivePath(sessionID, archiveDir))
	return err == nil
}

// ArchivePath is the archive location of a session log.
func ArchivePath(sessionID, archiveDir string) string {
	return filepath.Join(archiveDir, sessionID+".jsonl.zst")
}
