package flow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source serves the most recent valid catalog loaded from a file. Readers
// take a snapshot with Current and use it for a whole turn.
type Source struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Catalog]
}

// NewSource loads path once. A startup load failure is returned as-is.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path, logger: logger}
	s.current.Store(c)
	return s, nil
}

func (s *Source) Current() *Catalog { return s.current.Load() }

// Reload rebuilds the catalog from disk. On failure the previous catalog
// stays in place.
func (s *Source) Reload() error {
	c, err := LoadCatalog(s.path)
	if err != nil {
		return err
	}
	s.current.Store(c)
	s.logger.Info("flow catalog reloaded", "path", s.path, "goals", len(c.Goals()))
	return nil
}

// Watch reloads the catalog whenever its file is written or replaced. It
// blocks until ctx is cancelled. The parent directory is watched so editors
// that swap files atomically are picked up.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := s.Reload(); err != nil {
					s.logger.Error("flow catalog reload failed, keeping previous", "path", s.path, "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
