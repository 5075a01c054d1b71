package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn for every checkpoint numbered above after that appears in
// the store's directory, until ctx is cancelled. Records already on disk
// when Watch starts are delivered first. The directory is created if needed
// so a watch can be started before the run.
func (s *Store) Watch(ctx context.Context, after int, fn func(Record)) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	last := after
	deliver := func() error {
		nums, err := s.numbers()
		if err != nil {
			return err
		}
		for _, n := range nums {
			if n <= last {
				continue
			}
			rec, err := s.Read(n)
			if err != nil {
				return err
			}
			fn(rec)
			last = n
		}
		return nil
	}

	// Catch up on anything written before the watch was registered.
	if err := deliver(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if _, ok := parseNumber(filepath.Base(event.Name)); !ok {
				continue
			}
			if err := deliver(); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch checkpoints: %w", err)
		}
	}
}
