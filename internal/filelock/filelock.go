// Package filelock provides file locking and atomic write operations for the
// shared bookkeeping files (queue files, the processed-status ledger, output
// tables) that multiple sdssfit processes may touch concurrently, e.g. when
// several cluster jobs drain one queue file.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates a lock could not be acquired within the deadline.
var ErrLockTimeout = errors.New("filelock: timed out waiting for lock")

// retryInterval is how often LockWithTimeout re-attempts acquisition.
const retryInterval = 25 * time.Millisecond

// FileLock wraps a flock-based advisory lock for coordinating access to a
// file across processes. The lock file is separate from the data file so that
// atomic renames of the data never race with lock state.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock handle for the given lock file path. The file is
// created on first acquisition if it does not exist.
func New(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// ForFile returns the lock guarding the given data file, using the
// convention of appending ".lock" to the data path.
func ForFile(dataPath string) *FileLock {
	return New(dataPath + ".lock")
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires the lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	return nil
}

// LockWithTimeout acquires the lock, giving up after the timeout elapses.
// A non-positive timeout blocks indefinitely, same as Lock. Returns
// ErrLockTimeout (wrapped) when the deadline passes without acquisition.
func (fl *FileLock) LockWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fl.Lock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	acquired, err := fl.flock.TryLockContext(ctx, retryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrLockTimeout, fl.path, timeout)
		}
		return fmt.Errorf("failed to acquire lock on %s: %w", fl.path, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s after %v", ErrLockTimeout, fl.path, timeout)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}

// AtomicWrite writes data to a file atomically using a temp file and rename.
// Readers never observe partial writes: the temp file lives in the target's
// directory so the final rename stays within one filesystem.
//
// If the operation fails at any point the original file is left unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	// Clean up the temp file on any failure path.
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// CreateTemp uses 0600; bookkeeping files should be group/world readable.
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	tempFile = nil
	return nil
}

// LockAndWrite acquires the file's ".lock" companion, performs an atomic
// write, and releases the lock.
func LockAndWrite(path string, data []byte) error {
	lock := ForFile(path)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	return AtomicWrite(path, data)
}

// WithLock runs fn while holding the file's ".lock" companion, waiting at
// most timeout for acquisition. Queue pops and ledger appends run through
// here so read-modify-write cycles stay exclusive across processes.
func WithLock(dataPath string, timeout time.Duration, fn func() error) error {
	lock := ForFile(dataPath)
	if err := lock.LockWithTimeout(timeout); err != nil {
		return err
	}
	defer lock.Unlock()

	return fn()
}
