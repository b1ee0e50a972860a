// Package lockfile enforces one agent per workspace through a PID
// lockfile. A lock left behind by a dead or ancient process is treated
// as stale and reclaimed.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another live agent holds the lock
var ErrLocked = errors.New("another agent is already running in this workspace")

// staleAge is the age past which a lock is reclaimed even if its PID
// looks alive
const staleAge = time.Hour

// Lock is a held workspace lock
type Lock struct {
	path string
	pid  int
}

// Acquire takes the workspace lock at path, reclaiming a stale one.
// The caller must Release it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if err == nil {
			lock := &Lock{path: path, pid: os.Getpid()}
			if writeErr := lock.write(file); writeErr != nil {
				file.Close()
				os.Remove(path)
				return nil, writeErr
			}
			file.Close()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lockfile: %w", err)
		}

		stale, holder := isStale(path)
		if !stale {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, holder)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("failed to reclaim stale lockfile: %w", removeErr)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock at %s", path)
}

func (l *Lock) write(file *os.File) error {
	content := fmt.Sprintf("%d\n%s\n", l.pid, time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	return file.Sync()
}

// Release removes the lockfile
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

// PID returns the PID that holds the lock
func (l *Lock) PID() int {
	return l.pid
}

// Path returns the lockfile path
func (l *Lock) Path() string {
	return l.path
}

// isStale decides whether an existing lockfile can be reclaimed and
// describes the holder otherwise
func isStale(path string) (bool, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return true, ""
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return true, ""
	}

	if running, _ := isProcessRunning(pid); !running {
		return true, ""
	}

	if len(lines) >= 2 {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			if time.Since(ts) > staleAge {
				return true, ""
			}
		}
	}
	return false, fmt.Sprintf("pid %d", pid)
}
