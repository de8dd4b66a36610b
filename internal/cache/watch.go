package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the lookup index in step with grid files created or removed in
// the cache directory by other tools, until ctx is cancelled. The watch is
// registered before Watch returns; the returned channel is closed once it
// has stopped.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	if !s.cfg.EnableCache {
		return nil, errors.New("cache: watch requires caching to be enabled")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.cfg.CacheDirectory); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := s.index.ensure(); err != nil {
		s.logger.Debug("cache directory unreadable", "dir", s.cfg.CacheDirectory, "err", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.applyEvent(event)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("cache watcher error", "err", err)
			}
		}
	}()

	return done, nil
}

func (s *Store) applyEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !isGridFile(name) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if s.index.remove(name) {
			s.note("cache entry removed externally", "name", name)
			s.changed(name, false)
		}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		if s.index.add(name) {
			s.note("cache entry added externally", "name", name)
			s.changed(name, true)
		}
	}
}

func (s *Store) changed(name string, added bool) {
	if s.onChange != nil {
		s.onChange(name, added)
	}
}
