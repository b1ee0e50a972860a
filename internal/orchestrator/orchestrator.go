// Package orchestrator drives the agent's core loop: decompose the task
// into a plan, then for each ready node speculate a change, verify it,
// and either commit it to the ledger, retry with corrections, or abort
// the node. The loop is an explicit state machine; commits happen only
// when the change's energy is at or below the stability threshold.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eonseed/perspt/internal/config"
	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/energy"
	"github.com/eonseed/perspt/internal/fs"
	"github.com/eonseed/perspt/internal/ledger"
	"github.com/eonseed/perspt/internal/llm"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/plan"
	"github.com/eonseed/perspt/internal/session"
	"github.com/eonseed/perspt/internal/tools"
	"github.com/eonseed/perspt/internal/verify"
)

// BudgetExceededError stops the run when the cost ceiling or step limit
// is reached. The run aborts gracefully: state is persisted and already
// committed nodes stay committed.
type BudgetExceededError struct {
	Reason string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Reason)
}

// CommitConfirmFunc asks the user to approve one commit. Returning
// false without error means the user declined.
type CommitConfirmFunc func(ctx context.Context, nodeID, summary, diffText string) (bool, error)

// Orchestrator owns one run of the agent
type Orchestrator struct {
	cfg      *config.Config
	sess     *session.Session
	router   *llm.Router
	executor *tools.Executor
	verifier *verify.Runner
	led      *ledger.Ledger
	fsys     fs.FileSystem
	budget   *llm.Budget
	weights  energy.Weights
	confirm  CommitConfirmFunc
	store    *session.Store
}

// New wires an orchestrator. confirm may be nil; commits that would
// require confirmation are then declined. store may be nil to disable
// persistence.
func New(cfg *config.Config, sess *session.Session, router *llm.Router, executor *tools.Executor,
	verifier *verify.Runner, led *ledger.Ledger, fsys fs.FileSystem, confirm CommitConfirmFunc,
	store *session.Store) *Orchestrator {

	budget := llm.NewBudget(cfg.Budget.MaxCostUSD)
	budget.Restore(sess.SpentUSD, int64(sess.InputTokens), int64(sess.OutputTokens))

	return &Orchestrator{
		cfg:      cfg,
		sess:     sess,
		router:   router,
		executor: executor,
		verifier: verifier,
		led:      led,
		fsys:     fsys,
		budget:   budget,
		weights: energy.Weights{
			Alpha: cfg.Energy.Alpha,
			Beta:  cfg.Energy.Beta,
			Gamma: cfg.Energy.Gamma,
		},
		confirm: confirm,
		store:   store,
	}
}

// Run executes the task to completion or abort. The returned error is
// nil when every node reached a terminal status, even if some aborted.
func (o *Orchestrator) Run(ctx context.Context, task string) error {
	if err := o.led.VerifyChain(); err != nil {
		// A corrupt ledger is fatal; nothing may be appended to it.
		return fmt.Errorf("refusing to run: %w", err)
	}

	taskPlan := o.sess.Plan
	if taskPlan == nil {
		var err error
		taskPlan, err = o.sheafify(ctx, task)
		if err != nil {
			return o.finish(session.StatusFailed, err)
		}
		o.sess.SetPlan(taskPlan)
		o.persist()
	}

	for !taskPlan.Done() {
		if err := ctx.Err(); err != nil {
			return o.finish(session.StatusAborted, err)
		}

		ready := taskPlan.Ready()
		if len(ready) == 0 {
			// Remaining pending nodes depend on aborted ones.
			abortBlocked(taskPlan)
			continue
		}

		for _, node := range ready {
			err := o.processNode(ctx, taskPlan, node)
			o.persist()
			if err != nil {
				var budgetErr *BudgetExceededError
				if errors.As(err, &budgetErr) {
					logger.Warn("orchestrator: %v, aborting run", budgetErr)
					return o.finish(session.StatusAborted, nil)
				}
				if errors.Is(err, ledger.ErrCorrupt) {
					return o.finish(session.StatusFailed, err)
				}
				if ctx.Err() != nil {
					return o.finish(session.StatusAborted, ctx.Err())
				}
				return o.finish(session.StatusFailed, err)
			}
		}
	}

	return o.finish(session.StatusCompleted, nil)
}

func (o *Orchestrator) finish(status session.Status, err error) error {
	if o.sess.GetStatus() == session.StatusRunning {
		o.sess.SetStatus(status)
	}
	o.persist()
	logger.Info("orchestrator: run %s finished with status %s", o.sess.ID, o.sess.GetStatus())
	return err
}

// processNode takes one node through speculate, verify and commit,
// retrying with correction feedback until stable or out of attempts
func (o *Orchestrator) processNode(ctx context.Context, taskPlan *plan.TaskPlan, node *plan.Node) error {
	logger.Info("orchestrator: starting node %s", node.ID)
	node.Status = plan.StatusInProgress

	maxRetries := o.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = consts.DefaultMaxRetries
	}

	feedback := ""
	for attempt := 0; attempt <= maxRetries; attempt++ {
		diffs, skipped, err := o.speculate(ctx, node, feedback)
		if err != nil {
			return err
		}
		if skipped {
			o.abortNode(taskPlan, node, "speculator declined the attempt")
			return nil
		}
		if len(diffs) == 0 {
			o.abortNode(taskPlan, node, "speculation produced no change")
			return nil
		}

		diffText := ledger.RenderUnified(diffs)
		outcome, err := o.verifier.Verify(ctx, o.absPaths(diffs), diffText, node.Contract)
		if err != nil {
			o.revert(ctx, diffs)
			return err
		}

		if err := o.assessInvariants(ctx, node, diffText, outcome); err != nil {
			o.revert(ctx, diffs)
			return err
		}

		total := o.weights.Total(outcome.Components)
		logger.Info("orchestrator: node %s attempt %d energy %.3f (syn %.3f, str %.3f, log %.3f)",
			node.ID, attempt+1, total,
			outcome.Components.Syntactic, outcome.Components.Structural, outcome.Components.Logical)

		if energy.Stable(total, o.cfg.Energy.StabilityThreshold) {
			return o.commit(ctx, taskPlan, node, diffs, diffText, total)
		}

		o.revert(ctx, diffs)
		if attempt == maxRetries {
			break
		}
		feedback = buildCorrectionFeedback(outcome, total)
		o.sess.RecordRetry(node.ID)
	}

	o.abortNode(taskPlan, node, fmt.Sprintf("unstable after %d attempts", maxRetries+1))
	return nil
}

// assessInvariants asks the verifier tier which of the node's contract
// invariants the change breaks and folds each violation into logical
// energy. An unavailable or unusable verdict degrades to zero
// contribution; budget stops still propagate.
func (o *Orchestrator) assessInvariants(ctx context.Context, node *plan.Node, diffText string, outcome *verify.Outcome) error {
	if node.Contract == nil || len(node.Contract.Invariants) == 0 {
		return nil
	}

	resp, err := o.complete(ctx, llm.TierVerifier, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: buildVerifierPrompt(node, diffText, outcome)}},
		SystemPrompt: verifierSystemPrompt,
		MaxTokens:    512,
	})
	if err != nil {
		var budgetErr *BudgetExceededError
		if errors.As(err, &budgetErr) || ctx.Err() != nil {
			return err
		}
		logger.Warn("orchestrator: invariant review unavailable for node %s, counting zero: %v", node.ID, err)
		outcome.Degraded = append(outcome.Degraded, "invariant review")
		return nil
	}

	violated, err := parseInvariantVerdict(resp.Content)
	if err != nil {
		logger.Warn("orchestrator: unusable invariant verdict for node %s, counting zero: %v", node.ID, err)
		outcome.Degraded = append(outcome.Degraded, "invariant review")
		return nil
	}

	for _, inv := range violated {
		outcome.Violations = append(outcome.Violations, "invariant: "+inv)
		outcome.Components.Logical += energy.CriticalityHigh.Weight()
	}
	return nil
}

// parseInvariantVerdict accepts OK or a JSON array of violated
// invariants, optionally fenced
func parseInvariantVerdict(response string) ([]string, error) {
	text := strings.TrimSpace(response)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.EqualFold(text, "OK") {
		return nil, nil
	}

	var violated []string
	if err := json.Unmarshal([]byte(text), &violated); err != nil {
		return nil, fmt.Errorf("verdict is neither OK nor a JSON array: %w", err)
	}
	return violated, nil
}

// commit records the change in the ledger after any mode-required
// confirmation. A declined confirmation reverts the change and aborts
// the node.
func (o *Orchestrator) commit(ctx context.Context, taskPlan *plan.TaskPlan, node *plan.Node,
	diffs []ledger.FileDiff, diffText string, total float64) error {

	summary := commitSummary(node)
	if o.needsConfirmation(diffText) {
		if o.confirm == nil {
			o.revert(ctx, diffs)
			o.abortNode(taskPlan, node, "commit requires confirmation but no confirmer is available")
			return nil
		}
		ok, err := o.confirm(ctx, node.ID, summary, diffText)
		if err != nil {
			o.revert(ctx, diffs)
			return err
		}
		if !ok {
			o.revert(ctx, diffs)
			o.abortNode(taskPlan, node, "commit declined by user")
			return nil
		}
	}

	entry, err := o.led.Commit(node.ID, summary, total, diffs)
	if err != nil {
		o.revert(ctx, diffs)
		return err
	}

	node.Status = plan.StatusCommitted
	o.sess.SetLedgerHead(entry.Hash)
	logger.Info("orchestrator: committed node %s as entry %d", node.ID, entry.Seq)
	return nil
}

// needsConfirmation applies the execution mode: cautious always asks,
// balanced asks for large changes, yolo never asks
func (o *Orchestrator) needsConfirmation(diffText string) bool {
	switch o.cfg.Mode {
	case config.ModeYolo:
		return false
	case config.ModeBalanced:
		return energy.ChangedLines(diffText) > o.cfg.BalancedLinesThreshold
	default:
		return true
	}
}

func (o *Orchestrator) abortNode(taskPlan *plan.TaskPlan, node *plan.Node, reason string) {
	logger.Warn("orchestrator: aborting node %s: %s", node.ID, reason)
	node.Status = plan.StatusAborted
	abortBlocked(taskPlan)
}

// abortBlocked marks every pending node that can no longer run because
// a dependency aborted
func abortBlocked(taskPlan *plan.TaskPlan) {
	for changed := true; changed; {
		changed = false
		for _, n := range taskPlan.Nodes {
			if n.Status != plan.StatusPending && n.Status != "" {
				continue
			}
			for _, dep := range n.DependsOn {
				if d := taskPlan.Node(dep); d != nil && d.Status == plan.StatusAborted {
					logger.Warn("orchestrator: node %s blocked by aborted dependency %s", n.ID, dep)
					n.Status = plan.StatusAborted
					changed = true
					break
				}
			}
		}
	}
}

// revert restores the workspace to the state before the given diffs
func (o *Orchestrator) revert(ctx context.Context, diffs []ledger.FileDiff) {
	for _, d := range diffs {
		var err error
		if d.Before == "" {
			err = o.fsys.Delete(ctx, d.Path)
		} else {
			err = o.fsys.WriteFile(ctx, d.Path, []byte(d.Before))
		}
		if err != nil {
			logger.Error("orchestrator: failed to revert %s: %v", d.Path, err)
		}
	}
}

func (o *Orchestrator) absPaths(diffs []ledger.FileDiff) []string {
	paths := make([]string, 0, len(diffs))
	for _, d := range diffs {
		paths = append(paths, filepath.Join(o.cfg.WorkingDir, filepath.FromSlash(d.Path)))
	}
	return paths
}

// complete performs one budget-checked model call and accounts for it
func (o *Orchestrator) complete(ctx context.Context, tier llm.Tier, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if o.budget.Exceeded() {
		return nil, &BudgetExceededError{Reason: fmt.Sprintf("spent $%.4f of $%.2f", o.budget.SpentUSD(), o.cfg.Budget.MaxCostUSD)}
	}
	maxSteps := o.cfg.Budget.MaxSteps
	if maxSteps <= 0 {
		maxSteps = consts.DefaultMaxSteps
	}
	if o.sess.Steps >= maxSteps {
		return nil, &BudgetExceededError{Reason: fmt.Sprintf("reached step limit %d", maxSteps)}
	}

	client, err := o.router.Client(tier)
	if err != nil {
		return nil, err
	}

	resp, err := client.CompleteWithRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", tier, err)
	}

	o.budget.Record(client.GetModelName(), resp.Usage)
	cost := llm.EstimateCost(client.GetModelName(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	o.sess.RecordSpend(cost, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	o.sess.RecordStep()
	return resp, nil
}

func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	if err := o.store.Save(o.sess); err != nil {
		logger.Error("orchestrator: failed to persist session: %v", err)
	}
}

func commitSummary(node *plan.Node) string {
	desc := strings.TrimSpace(node.Description)
	if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
		desc = desc[:idx]
	}
	if len(desc) > 120 {
		desc = desc[:120]
	}
	return desc
}
