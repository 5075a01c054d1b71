package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tracker records files written, created or removed under a directory while
// it runs. It is a live view of an agent turn; Snapshot is the authority on
// what actually changed.
type Tracker struct {
	watcher *fsnotify.Watcher
	root    string
	exclude *Matcher

	mu      sync.Mutex
	touched map[string]time.Time

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTracker starts watching root and every non-excluded subdirectory.
func NewTracker(root string, exclude *Matcher) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		watcher: watcher,
		root:    root,
		exclude: exclude,
		touched: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := t.watchDirRecursive(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	go t.watchLoop()
	return t, nil
}

// watchDirRecursive adds dir and its subdirectories to the watcher
func (t *Tracker) watchDirRecursive(dir string) error {
	if err := t.watcher.Add(dir); err != nil {
		return err
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(t.root, path); t.exclude.Match(rel) {
			return filepath.SkipDir
		}
		_ = t.watcher.Add(path)
		return nil
	})
}

func (t *Tracker) watchLoop() {
	defer close(t.done)
	for {
		select {
		case <-t.stopCh:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handle(event)
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (t *Tracker) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil || t.exclude.Match(rel) {
		return
	}

	// New directories are watched so files created inside them are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = t.watchDirRecursive(event.Name)
			return
		}
	}

	t.mu.Lock()
	t.touched[filepath.ToSlash(rel)] = time.Now()
	t.mu.Unlock()
}

// Touched returns the relative paths seen so far, sorted.
func (t *Tracker) Touched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.touched))
	for p := range t.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Stop ends tracking and returns the touched paths. Safe to call twice.
func (t *Tracker) Stop() []string {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		_ = t.watcher.Close()
		<-t.done
	})
	return t.Touched()
}
