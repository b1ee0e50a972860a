// Package sandbox runs commands confined to the project root. Every
// command gets a wall-clock deadline, a filtered environment and capped
// output; paths handed to the agent are containment-checked before use.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/logger"
)

// FaultKind classifies sandbox failures
type FaultKind string

const (
	FaultTimeout       FaultKind = "timeout"
	FaultResourceLimit FaultKind = "resource_limit"
	FaultSpawn         FaultKind = "spawn_error"
)

// Fault is a sandbox-level failure, distinct from the command merely
// exiting non-zero
type Fault struct {
	Kind    FaultKind
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("sandbox fault (%s): %s", f.Kind, f.Message)
}

// TruncationMarker is appended to capped output streams
const TruncationMarker = "\n[output truncated]"

// Hard kill threshold: a command producing this many times the output
// limit is terminated instead of merely truncated.
const hardCapFactor = 4

// Result captures a completed command
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// Config holds executor settings
type Config struct {
	Timeout     time.Duration
	OutputLimit int
	AllowedEnv  []string
}

// Executor confines command execution to a resolved project root
type Executor struct {
	root        string
	timeout     time.Duration
	outputLimit int
	allowedEnv  []string
}

// NewExecutor resolves the project root (symlinks included) and builds an
// executor. The root must exist.
func NewExecutor(root string, cfg Config) (*Executor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultCommandTimeout
	}
	limit := cfg.OutputLimit
	if limit <= 0 {
		limit = consts.DefaultOutputLimit
	}

	return &Executor{
		root:        resolved,
		timeout:     timeout,
		outputLimit: limit,
		allowedEnv:  cfg.AllowedEnv,
	}, nil
}

// Root returns the resolved project root
func (e *Executor) Root() string {
	return e.root
}

// ContainPath resolves a path relative to the project root and rejects
// anything that escapes it, including escapes through symlinks. The
// returned path is absolute. The path itself need not exist yet; its
// deepest existing ancestor is what gets resolved.
func (e *Executor) ContainPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}

	if resolved != e.root && !strings.HasPrefix(resolved, e.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes project root %s", p, e.root)
	}
	return abs, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and rejoins the non-existing suffix.
func resolveExisting(abs string) (string, error) {
	current := abs
	var suffix []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(suffix) == 0 {
				return resolved, nil
			}
			// Reverse-accumulated suffix components.
			for i, j := 0, len(suffix)-1; i < j; i, j = i+1, j-1 {
				suffix[i], suffix[j] = suffix[j], suffix[i]
			}
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}

// Run executes a shell command inside the project root. A non-zero exit
// is reported through Result, not the error; the error is reserved for
// sandbox faults.
func (e *Executor) Run(ctx context.Context, command string) (*Result, error) {
	return e.RunWithTimeout(ctx, command, e.timeout)
}

// RunWithTimeout is Run with an explicit wall-clock limit
func (e *Executor) RunWithTimeout(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = e.root
	cmd.Env = filterEnv(e.allowedEnv)
	cmd.WaitDelay = 5 * time.Second

	stdout := newCapWriter(e.outputLimit, cancel)
	stderr := newCapWriter(e.outputLimit, cancel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	logger.Debug("sandbox: running %q in %s", command, e.root)

	if err := cmd.Start(); err != nil {
		return nil, &Fault{Kind: FaultSpawn, Message: err.Error()}
	}

	waitErr := cmd.Wait()
	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	if stdout.overflowed || stderr.overflowed {
		return result, &Fault{Kind: FaultResourceLimit,
			Message: fmt.Sprintf("command output exceeded %d bytes", e.outputLimit*hardCapFactor)}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, &Fault{Kind: FaultTimeout,
			Message: fmt.Sprintf("command exceeded %s", timeout)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, &Fault{Kind: FaultSpawn, Message: waitErr.Error()}
		}
	}
	return result, nil
}

// capWriter keeps the first limit bytes, appends the truncation marker
// once, and aborts the command past the hard cap.
type capWriter struct {
	buf        bytes.Buffer
	limit      int
	written    int
	truncated  bool
	overflowed bool
	abort      func()
}

func newCapWriter(limit int, abort func()) *capWriter {
	return &capWriter{limit: limit, abort: abort}
}

func (w *capWriter) Write(p []byte) (int, error) {
	w.written += len(p)

	if w.buf.Len() < w.limit {
		remain := w.limit - w.buf.Len()
		if len(p) <= remain {
			w.buf.Write(p)
			return len(p), nil
		}
		w.buf.Write(p[:remain])
	}

	if !w.truncated {
		w.truncated = true
		w.buf.WriteString(TruncationMarker)
	}
	if w.written > w.limit*hardCapFactor && !w.overflowed {
		w.overflowed = true
		w.abort()
	}
	return len(p), nil
}

func (w *capWriter) String() string {
	return w.buf.String()
}
