package workspace

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type fileState struct {
	mode fs.FileMode
	data []byte
}

// Snapshot is an in-memory copy of every regular file under a directory.
// Restore rewinds the directory to it; agents' file edits are undone this way.
type Snapshot struct {
	root    string
	exclude *Matcher
	files   map[string]fileState
	dirs    map[string]bool
}

// Changes lists files that differ from a snapshot, by relative path.
type Changes struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added)+len(c.Modified)+len(c.Removed) == 0
}

// All returns every changed path, sorted.
func (c Changes) All() []string {
	all := make([]string, 0, len(c.Added)+len(c.Modified)+len(c.Removed))
	all = append(all, c.Added...)
	all = append(all, c.Modified...)
	all = append(all, c.Removed...)
	sort.Strings(all)
	return all
}

// Take records the current state of root, skipping excluded paths.
func Take(root string, exclude *Matcher) (*Snapshot, error) {
	files, dirs, err := scan(root, exclude)
	if err != nil {
		return nil, err
	}
	return &Snapshot{root: root, exclude: exclude, files: files, dirs: dirs}, nil
}

// Len returns the number of files recorded.
func (s *Snapshot) Len() int { return len(s.files) }

// Changes compares the directory against the snapshot.
func (s *Snapshot) Changes() (Changes, error) {
	current, _, err := scan(s.root, s.exclude)
	if err != nil {
		return Changes{}, err
	}
	var c Changes
	for rel, cur := range current {
		old, ok := s.files[rel]
		switch {
		case !ok:
			c.Added = append(c.Added, rel)
		case old.mode != cur.mode || !bytes.Equal(old.data, cur.data):
			c.Modified = append(c.Modified, rel)
		}
	}
	for rel := range s.files {
		if _, ok := current[rel]; !ok {
			c.Removed = append(c.Removed, rel)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Modified)
	sort.Strings(c.Removed)
	return c, nil
}

// Restore rewinds the directory: added files are deleted, modified and
// removed files are written back. Directories created since the snapshot
// are removed once empty.
func (s *Snapshot) Restore() (Changes, error) {
	c, err := s.Changes()
	if err != nil {
		return Changes{}, err
	}
	for _, rel := range c.Added {
		path := filepath.Join(s.root, filepath.FromSlash(rel))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return c, fmt.Errorf("rewind %s: %w", rel, err)
		}
		s.pruneEmpty(filepath.Dir(path))
	}
	for _, rel := range append(append([]string{}, c.Modified...), c.Removed...) {
		st := s.files[rel]
		path := filepath.Join(s.root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return c, fmt.Errorf("rewind %s: %w", rel, err)
		}
		if err := os.WriteFile(path, st.data, st.mode); err != nil {
			return c, fmt.Errorf("rewind %s: %w", rel, err)
		}
		if err := os.Chmod(path, st.mode); err != nil {
			return c, fmt.Errorf("rewind %s: %w", rel, err)
		}
	}
	return c, nil
}

// pruneEmpty removes empty directories created since the snapshot, from
// dir upwards.
func (s *Snapshot) pruneEmpty(dir string) {
	for {
		rel, err := filepath.Rel(s.root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") || s.dirs[filepath.ToSlash(rel)] {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func scan(root string, exclude *Matcher) (map[string]fileState, map[string]bool, error) {
	files := make(map[string]fileState)
	dirs := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if exclude.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs[rel] = true
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = fileState{mode: info.Mode().Perm(), data: data}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", root, err)
	}
	return files, dirs, nil
}
