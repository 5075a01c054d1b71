package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock file names. Appends and whole runs lock different files so a
// checkpoint directory may coincide with the run's state directory.
const (
	appendLockName = "append.lock"
	runLockName    = "run.lock"
)

// FileLock is an flock(2) on a file, exclusive across processes and across
// separate FileLocks within one process.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns the lock that serialises appends to the store in dir.
func NewFileLock(dir string) *FileLock {
	return &FileLock{path: filepath.Join(dir, appendLockName)}
}

// NewRunLock returns the lock that admits a single breakfix run per state
// directory.
func NewRunLock(stateDir string) *FileLock {
	return &FileLock{path: filepath.Join(stateDir, runLockName)}
}

// Path returns the lock file.
func (fl *FileLock) Path() string { return fl.path }

// Lock blocks until the lock is held.
func (fl *FileLock) Lock() error {
	_, err := fl.acquire(syscall.LOCK_EX)
	return err
}

// TryLock takes the lock if it is free and reports whether it did.
func (fl *FileLock) TryLock() (bool, error) {
	return fl.acquire(syscall.LOCK_EX | syscall.LOCK_NB)
}

func (fl *FileLock) acquire(how int) (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", filepath.Base(fl.path), err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		if how&syscall.LOCK_NB != 0 && err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("lock %s: %w", filepath.Base(fl.path), err)
	}
	fl.file = f
	return true, nil
}

// Unlock releases the lock; releasing a lock that is not held does nothing.
func (fl *FileLock) Unlock() error {
	f := fl.file
	if f == nil {
		return nil
	}
	fl.file = nil
	unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", filepath.Base(fl.path), unlockErr)
	}
	return closeErr
}
