package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig bounds the size of a run's debug.log.
type RotationConfig struct {
	// MaxSizeMB rolls debug.log over once it would grow past this size.
	// Zero lets it grow without bound.
	MaxSizeMB int
	// MaxBackups is how many rolled-over generations are kept.
	MaxBackups int
	// Compress stores rolled-over generations gzipped.
	Compress bool
}

// DefaultRotationConfig matches the logging defaults in the config package.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

var errLogClosed = errors.New("debug log is closed")

// RotatingWriter appends to a run's debug.log and rolls it over by size.
// Generation n of the log is kept as debug.log.n, or debug.log.n.gz when
// compressed, with 1 the most recent. Safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path     string
	maxBytes int64
	keep     int
	compress bool

	file *os.File
	size int64
}

// NewRotatingWriter opens path for appending, creating it and its
// directory when missing.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:     path,
		maxBytes: int64(cfg.MaxSizeMB) << 20,
		keep:     cfg.MaxBackups,
		compress: cfg.Compress,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	if err := rw.reopen(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) reopen() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat debug log: %w", err)
	}
	rw.file, rw.size = f, info.Size()
	return nil
}

// Write appends p, first rolling the log over when p would take it past the
// size limit. The log must not go silent over a failed roll-over, so that
// failure is reported on stderr and p still lands in whichever file is open.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil && rw.full(len(p)) {
		if err := rw.roll(); err != nil {
			fmt.Fprintf(os.Stderr, "breakfix: debug log roll-over failed: %v\n", err)
		}
	}
	if rw.file == nil {
		return 0, errLogClosed
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) full(incoming int) bool {
	return rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(incoming) > rw.maxBytes
}

// roll retires the open file as generation 1 and starts an empty log.
// The caller holds mu.
func (rw *RotatingWriter) roll() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close debug log: %w", err)
	}
	rw.file = nil

	if rw.keep <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("discard debug log: %w", err)
		}
		return rw.reopen()
	}

	rw.age()
	newest := rw.generation(1)
	if err := os.Rename(rw.path, newest); err != nil {
		// Keep logging into the old file rather than not at all.
		if reopenErr := rw.reopen(); reopenErr != nil {
			return fmt.Errorf("retire debug log: %w (reopen: %v)", err, reopenErr)
		}
		return fmt.Errorf("retire debug log: %w", err)
	}
	if rw.compress {
		if err := gzipInPlace(newest); err != nil {
			fmt.Fprintf(os.Stderr, "breakfix: compress %s: %v\n", filepath.Base(newest), err)
		}
	}
	return rw.reopen()
}

// age moves every kept generation one step older and drops the one that
// falls past keep.
func (rw *RotatingWriter) age() {
	for _, suffix := range []string{"", ".gz"} {
		_ = os.Remove(rw.generation(rw.keep) + suffix)
	}
	for n := rw.keep - 1; n >= 1; n-- {
		for _, suffix := range []string{".gz", ""} {
			from := rw.generation(n) + suffix
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, rw.generation(n+1)+suffix)
				break
			}
		}
	}
}

func (rw *RotatingWriter) generation(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// gzipInPlace replaces path with path.gz. path is removed only after the
// compressed copy is fully written.
func gzipInPlace(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	target := path + ".gz"
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	zipErr := zw.Close()
	closeErr := dst.Close()
	if err = errors.Join(copyErr, zipErr, closeErr); err != nil {
		return err
	}
	return os.Remove(path)
}

// Sync flushes the open log to disk.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close flushes and closes the log. Later writes return an error.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync debug log: %w", err)
	}
	return f.Close()
}

// Size returns the byte size of the open log.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}
