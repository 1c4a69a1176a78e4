package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Holder keeps the process-wide current config. Reads vastly outnumber
// writes; sessions copy the pointer once at start and never look again.
type Holder struct {
	mu       sync.RWMutex
	cfg      *Config
	revision int
}

// NewHolder returns a Holder seeded with cfg.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg, revision: 1}
}

// Current returns the active config and its revision number.
func (h *Holder) Current() (*Config, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg, h.revision
}

// Replace swaps in a new config and returns the new revision.
func (h *Holder) Replace(cfg *Config) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	h.revision++
	return h.revision
}

// Watch reloads path into h whenever the file is written, until ctx is done.
// A config that fails to parse is logged and ignored; the previous one stays.
func Watch(ctx context.Context, path string, h *Holder, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous", zap.String("path", path), zap.Error(err))
					continue
				}
				rev := h.Replace(cfg)
				logger.Info("config reloaded", zap.String("path", path), zap.Int("revision", rev))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
