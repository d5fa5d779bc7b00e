// Package ledger implements the processed-files status file: an append-only
// TSV of path, status, and timestamp that lets reruns skip spectra already
// fitted successfully while retrying failed ones.
package ledger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/astrid/sdssfit/internal/filelock"
)

// Entry statuses. Anything else in the file is reported as malformed.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// DefaultLockTimeout bounds how long an append waits for the ledger lock.
const DefaultLockTimeout = 30 * time.Second

// Entry is one recorded outcome. Paths are recorded exactly as given on the
// command line, so skip checks compare like with like.
type Entry struct {
	Path   string
	Status string
	Time   time.Time
}

// Ledger is a handle on a status file.
type Ledger struct {
	path        string
	lockTimeout time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.lockTimeout = d
	}
}

// New creates a handle on the ledger file at path.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:        path,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads all entries in file order, tolerating damage: malformed lines
// are returned for the caller to report, not treated as fatal. A missing
// file is an empty ledger.
func (l *Ledger) Load() ([]Entry, []string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read status file %s: %w", l.path, err)
	}

	var entries []Entry
	var malformed []string

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			malformed = append(malformed, line)
			continue
		}

		status := fields[1]
		if status != StatusOK && status != StatusFailed {
			malformed = append(malformed, line)
			continue
		}

		ts, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			malformed = append(malformed, line)
			continue
		}

		entries = append(entries, Entry{Path: fields[0], Status: status, Time: ts})
	}

	return entries, malformed, nil
}

// Statuses returns the latest recorded status per path: a path that failed
// and later succeeded counts as ok, and vice versa.
func (l *Ledger) Statuses() (map[string]string, error) {
	entries, _, err := l.Load()
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]string, len(entries))
	for _, entry := range entries {
		statuses[entry.Path] = entry.Status
	}
	return statuses, nil
}

// Done reports whether the path's latest entry is ok. Failed entries return
// false so reruns retry them.
func (l *Ledger) Done(path string) (bool, error) {
	statuses, err := l.Statuses()
	if err != nil {
		return false, err
	}
	return statuses[path] == StatusOK, nil
}

// MarkOK appends an ok entry for the path.
func (l *Ledger) MarkOK(path string) error {
	return l.append(path, StatusOK)
}

// MarkFailed appends a failed entry for the path.
func (l *Ledger) MarkFailed(path string) error {
	return l.append(path, StatusFailed)
}

// append adds one entry under the ledger lock. The whole file is rewritten
// atomically rather than opened O_APPEND, which misbehaves on the network
// filesystems cluster runs live on.
func (l *Ledger) append(path, status string) error {
	line := fmt.Sprintf("%s\t%s\t%s\n", path, status, time.Now().Format(time.RFC3339))

	return filelock.WithLock(l.path, l.lockTimeout, func() error {
		data, err := os.ReadFile(l.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read status file %s: %w", l.path, err)
		}

		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		return filelock.AtomicWrite(l.path, []byte(content+line))
	})
}
