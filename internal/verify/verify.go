// Package verify turns a speculated change into energy components: it
// collects diagnostics for the changed files, runs the configured test
// command in the sandbox, and scores the results against the node's
// contract. A failing collaborator degrades to a zero contribution
// rather than failing the verification.
package verify

import (
	"context"
	"errors"
	"regexp"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/diagnostics"
	"github.com/eonseed/perspt/internal/energy"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/plan"
	"github.com/eonseed/perspt/internal/sandbox"
	"github.com/eonseed/perspt/internal/secretdetect"
)

// ErrUnavailable marks a collaborator that could not produce evidence
var ErrUnavailable = errors.New("verification collaborator unavailable")

// Outcome is the evidence gathered for one speculated change
type Outcome struct {
	Components  energy.Components
	Diagnostics []diagnostics.Diagnostic
	FailedTests []string
	Violations  []string // forbidden patterns and secrets found in the diff
	TestOutput  string
	Degraded    []string // collaborators that were unavailable
}

// Runner executes verification for the orchestrator
type Runner struct {
	exec        *sandbox.Executor
	diag        diagnostics.Client
	secrets     *secretdetect.Scanner
	testCommand string
}

// NewRunner builds a runner. An empty test command disables the test
// phase; a nil diagnostics client disables diagnostics.
func NewRunner(exec *sandbox.Executor, diag diagnostics.Client, testCommand string) *Runner {
	return &Runner{exec: exec, diag: diag, secrets: secretdetect.NewScanner(), testCommand: testCommand}
}

// Verify gathers evidence for a change. changedFiles are absolute
// paths, diffText is the rendered unified diff of the change, contract
// is the node's behavioral contract (may be nil).
func (r *Runner) Verify(ctx context.Context, changedFiles []string, diffText string, contract *plan.Contract) (*Outcome, error) {
	out := &Outcome{}
	out.Components.Structural = energy.Structural(diffText)

	r.runDiagnostics(ctx, changedFiles, out)
	if err := r.runTests(ctx, contract, out); err != nil {
		return nil, err
	}
	checkForbiddenPatterns(diffText, contract, out)
	r.checkSecrets(diffText, out)

	return out, nil
}

// checkSecrets scores any credential introduced by the diff as a
// critical logical failure
func (r *Runner) checkSecrets(diffText string, out *Outcome) {
	if diffText == "" {
		return
	}
	for _, m := range r.secrets.ScanAddedLines(diffText) {
		out.Violations = append(out.Violations, "secret: "+m.Rule+" ("+m.Snippet+")")
		out.Components.Logical += energy.CriticalityCritical.Weight()
	}
}

func (r *Runner) runDiagnostics(ctx context.Context, changedFiles []string, out *Outcome) {
	if r.diag == nil || len(changedFiles) == 0 {
		return
	}

	diags, err := r.diag.Check(ctx, changedFiles)
	if err != nil {
		logger.Warn("verify: diagnostics unavailable, counting zero: %v", err)
		out.Degraded = append(out.Degraded, "diagnostics")
		return
	}
	out.Diagnostics = diags
	out.Components.Syntactic = energy.Syntactic(diags)
}

func (r *Runner) runTests(ctx context.Context, contract *plan.Contract, out *Outcome) error {
	if r.testCommand == "" {
		return nil
	}

	res, err := r.exec.RunWithTimeout(ctx, r.testCommand, consts.DefaultTestTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fault *sandbox.Fault
		if errors.As(err, &fault) {
			logger.Warn("verify: test run unavailable (%s), counting zero", fault.Kind)
			out.Degraded = append(out.Degraded, "tests")
			return nil
		}
		return err
	}

	out.TestOutput = res.Stdout + res.Stderr
	out.FailedTests = ParseFailedTests(out.TestOutput)

	// A non-zero exit without any parseable failure still means the
	// suite is broken; score it as one critical failure.
	if res.ExitCode != 0 && len(out.FailedTests) == 0 {
		out.FailedTests = []string{"(suite failed)"}
		out.Components.Logical += energy.CriticalityCritical.Weight()
		return nil
	}

	out.Components.Logical += energy.Logical(criticalities(out.FailedTests, contract))
	return nil
}

// criticalities maps each failed test onto its contract criticality;
// tests the contract does not name count as low
func criticalities(failed []string, contract *plan.Contract) []energy.Criticality {
	byName := make(map[string]energy.Criticality)
	if contract != nil {
		for _, wt := range contract.Tests {
			byName[wt.Name] = wt.Criticality
		}
	}

	out := make([]energy.Criticality, 0, len(failed))
	for _, name := range failed {
		if c, ok := byName[name]; ok {
			out = append(out, c)
		} else {
			out = append(out, energy.CriticalityLow)
		}
	}
	return out
}

// checkForbiddenPatterns scores contract pattern violations in the diff
// as critical logical failures
func checkForbiddenPatterns(diffText string, contract *plan.Contract, out *Outcome) {
	if contract == nil || diffText == "" {
		return
	}
	for _, pattern := range contract.ForbiddenPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("verify: bad forbidden pattern %q: %v", pattern, err)
			continue
		}
		if re.MatchString(diffText) {
			out.Violations = append(out.Violations, pattern)
			out.Components.Logical += energy.CriticalityCritical.Weight()
		}
	}
}
