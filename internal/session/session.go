// Package session tracks the durable state of one agent run: the task,
// the plan with per-node progress, retry counts, budget spend and the
// ledger head. State survives process restarts so a run can be resumed
// or inspected after the fact.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/eonseed/perspt/internal/plan"
)

// Status describes where a run is in its lifecycle
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Session is the live state of one run. All mutators are safe for
// concurrent use; the control server reads while the orchestrator writes.
type Session struct {
	mu sync.RWMutex

	ID         string
	Task       string
	WorkingDir string
	Mode       string
	Status     Status

	Plan    *plan.TaskPlan
	Retries map[string]int // node ID -> speculate/verify attempts used

	Steps        int
	SpentUSD     float64
	InputTokens  int
	OutputTokens int

	// LedgerHead is the hash of the latest ledger entry this run produced
	LedgerHead string

	CreatedAt time.Time
	UpdatedAt time.Time

	dirty bool
}

// New creates a running session for a task
func New(id, task, workingDir, mode string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Task:       task,
		WorkingDir: workingDir,
		Mode:       mode,
		Status:     StatusRunning,
		Retries:    make(map[string]int),
		CreatedAt:  now,
		UpdatedAt:  now,
		dirty:      true,
	}
}

// SetPlan records the decomposed plan
func (s *Session) SetPlan(p *plan.TaskPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plan = p
	s.touch()
}

// SetStatus transitions the run lifecycle
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.touch()
}

// GetStatus returns the current lifecycle state
func (s *Session) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// RecordRetry bumps the attempt counter for a node and returns the new
// count
func (s *Session) RecordRetry(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Retries[nodeID]++
	s.touch()
	return s.Retries[nodeID]
}

// RetryCount returns the attempts used for a node
func (s *Session) RetryCount(nodeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Retries[nodeID]
}

// RecordStep counts one orchestration step
func (s *Session) RecordStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps++
	s.touch()
	return s.Steps
}

// RecordSpend accumulates model cost and token usage
func (s *Session) RecordSpend(costUSD float64, inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpentUSD += costUSD
	s.InputTokens += inputTokens
	s.OutputTokens += outputTokens
	s.touch()
}

// SetLedgerHead records the hash of the newest ledger entry
func (s *Session) SetLedgerHead(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LedgerHead = hash
	s.touch()
}

// Summary renders a one-line progress description
func (s *Session) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	committed, total := 0, 0
	if s.Plan != nil {
		total = len(s.Plan.Nodes)
		for _, n := range s.Plan.Nodes {
			if n.Status == plan.StatusCommitted {
				committed++
			}
		}
	}
	return fmt.Sprintf("%s [%s] nodes %d/%d, steps %d, $%.4f spent",
		s.ID, s.Status, committed, total, s.Steps, s.SpentUSD)
}

// IsDirty reports whether the session changed since the last save
func (s *Session) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// MarkSaved clears the dirty flag after a successful persist
func (s *Session) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// touch is called with the lock held
func (s *Session) touch() {
	s.UpdatedAt = time.Now()
	s.dirty = true
}
