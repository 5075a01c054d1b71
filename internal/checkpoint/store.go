package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/breakfix/internal/errors"
)

const (
	filePrefix = "checkpoint-"
	fileSuffix = ".json"
)

// FileName returns the file name of checkpoint n.
func FileName(n int) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, n, fileSuffix)
}

// parseNumber extracts the checkpoint number from a file name. It reports
// false for anything that is not a checkpoint file.
func parseNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Store reads and appends checkpoint records in one directory. A Store
// belongs to exactly one engine instance.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a Store over dir. The directory is created on first Append.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Sub returns a Store for a nested directory, used for per-unit graphs.
func (s *Store) Sub(name string) *Store {
	return &Store{dir: filepath.Join(s.dir, name), now: s.now}
}

// numbers lists the checkpoint numbers present on disk, ascending.
func (s *Store) numbers() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseNumber(e.Name()); ok {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}

// Load returns every record, sorted by number. A missing directory yields no
// records and no error.
func (s *Store) Load() ([]Record, error) {
	nums, err := s.numbers()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(nums))
	for _, n := range nums {
		rec, err := s.Read(n)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Read loads checkpoint n.
func (s *Store) Read(n int) (Record, error) {
	path := filepath.Join(s.dir, FileName(n))
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read checkpoint %d: %w", n, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", errors.ErrCheckpointCorrupt, FileName(n), err)
	}
	if rec.Number != n {
		return Record{}, fmt.Errorf("%w: %s holds record number %d", errors.ErrCheckpointCorrupt, FileName(n), rec.Number)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errors.ErrCheckpointCorrupt, err)
	}
	return rec, nil
}

// Latest returns the highest-numbered record, or nil when there is none.
func (s *Store) Latest() (*Record, error) {
	nums, err := s.numbers()
	if err != nil || len(nums) == 0 {
		return nil, err
	}
	rec, err := s.Read(nums[len(nums)-1])
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Append writes rec as checkpoint max(existing)+1 and returns it with Number
// and WrittenAt filled in. The file is written to a temporary name, synced,
// then hard-linked into place so an existing checkpoint is never replaced.
func (s *Store) Append(rec Record) (Record, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Record{}, fmt.Errorf("create checkpoint dir: %w", err)
	}

	fl := NewFileLock(s.dir)
	if err := fl.Lock(); err != nil {
		return Record{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	nums, err := s.numbers()
	if err != nil {
		return Record{}, err
	}
	rec.Number = 1
	if len(nums) > 0 {
		rec.Number = nums[len(nums)-1] + 1
	}
	rec.WrittenAt = s.now().UTC()
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := filepath.Join(s.dir, FileName(rec.Number))
	tmp := target + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return Record{}, fmt.Errorf("write temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.Link(tmp, target); err != nil {
		if os.IsExist(err) {
			return Record{}, fmt.Errorf("%w: %s", errors.ErrCheckpointExists, FileName(rec.Number))
		}
		return Record{}, fmt.Errorf("link checkpoint: %w", err)
	}
	return rec, nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Clear removes every checkpoint record under the store, including nested
// unit stores, then any directory left empty. Other files are kept, since
// the store may share its directory with logs and the run lock.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if err := s.Sub(name).Clear(); err != nil {
				return err
			}
			continue
		}
		_, record := parseNumber(name)
		if !record && name != appendLockName && !strings.HasSuffix(name, fileSuffix+".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear checkpoints: %w", err)
		}
	}
	// Fails harmlessly when other files remain.
	_ = os.Remove(s.dir)
	return nil
}
