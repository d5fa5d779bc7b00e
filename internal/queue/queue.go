// Package queue implements the destructively consumed work-list file that
// cooperating sdssfit processes drain together: each pop takes the first
// remaining entry under a file lock and atomically rewrites the remainder,
// so concurrent consumers on a shared filesystem never fit the same
// spectrum twice.
package queue

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/astrid/sdssfit/internal/filelock"
)

// ErrEmpty indicates the queue has no entries left.
var ErrEmpty = errors.New("queue: no entries left")

// DefaultLockTimeout bounds how long an operation waits for the queue lock,
// so one wedged process cannot stall every consumer forever.
const DefaultLockTimeout = 30 * time.Second

// Queue is a handle on a queue file. Entries are one path per line; blank
// lines and lines starting with # are ignored. Only whole-line comments are
// recognized, since entry paths may legitimately contain #.
type Queue struct {
	path        string
	lockTimeout time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.lockTimeout = d
	}
}

// New creates a handle on the queue file at path.
func New(path string, opts ...Option) *Queue {
	q := &Queue{
		path:        path,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Path returns the queue file path.
func (q *Queue) Path() string {
	return q.path
}

// Pop removes and returns the first entry. Returns ErrEmpty when no entries
// remain. The rewrite removes only the popped line, so header comments and
// spacing survive.
func (q *Queue) Pop() (string, error) {
	var entry string

	err := filelock.WithLock(q.path, q.lockTimeout, func() error {
		data, err := os.ReadFile(q.path)
		if err != nil {
			return fmt.Errorf("read queue file %s: %w", q.path, err)
		}

		lines := strings.Split(string(data), "\n")
		idx := -1
		for i, line := range lines {
			if isEntry(line) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrEmpty
		}

		entry = strings.TrimSpace(lines[idx])
		remainder := append(lines[:idx], lines[idx+1:]...)
		return filelock.AtomicWrite(q.path, []byte(strings.Join(remainder, "\n")))
	})
	if err != nil {
		return "", err
	}

	return entry, nil
}

// Add appends entries that are not already present. Creates the queue file
// if needed. Returns how many entries were actually added.
func (q *Queue) Add(entries ...string) (int, error) {
	added := 0

	err := filelock.WithLock(q.path, q.lockTimeout, func() error {
		data, err := os.ReadFile(q.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read queue file %s: %w", q.path, err)
		}

		existing := make(map[string]bool)
		for _, line := range strings.Split(string(data), "\n") {
			if isEntry(line) {
				existing[strings.TrimSpace(line)] = true
			}
		}

		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		var b strings.Builder
		b.WriteString(content)
		for _, entry := range entries {
			entry = strings.TrimSpace(entry)
			if entry == "" || strings.HasPrefix(entry, "#") || existing[entry] {
				continue
			}
			existing[entry] = true
			b.WriteString(entry)
			b.WriteString("\n")
			added++
		}

		if added == 0 {
			return nil
		}
		return filelock.AtomicWrite(q.path, []byte(b.String()))
	})
	if err != nil {
		return 0, err
	}

	return added, nil
}

// Entries returns the remaining entries in order.
func (q *Queue) Entries() ([]string, error) {
	var entries []string

	err := filelock.WithLock(q.path, q.lockTimeout, func() error {
		data, err := os.ReadFile(q.path)
		if err != nil {
			return fmt.Errorf("read queue file %s: %w", q.path, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if isEntry(line) {
				entries = append(entries, strings.TrimSpace(line))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Clear removes all entries, truncating the queue file. Returns how many
// entries were removed.
func (q *Queue) Clear() (int, error) {
	removed := 0

	err := filelock.WithLock(q.path, q.lockTimeout, func() error {
		data, err := os.ReadFile(q.path)
		if err != nil {
			return fmt.Errorf("read queue file %s: %w", q.path, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if isEntry(line) {
				removed++
			}
		}
		return filelock.AtomicWrite(q.path, nil)
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// isEntry reports whether a raw queue line is an entry rather than a blank
// or a comment.
func isEntry(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && !strings.HasPrefix(trimmed, "#")
}
