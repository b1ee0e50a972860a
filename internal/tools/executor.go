package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/fs"
	"github.com/eonseed/perspt/internal/ledger"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/policy"
	"github.com/eonseed/perspt/internal/retriever"
	"github.com/eonseed/perspt/internal/sandbox"
)

// Result is the outcome of one tool call, fed back to the model
type Result struct {
	CallID string `json:"call_id"`
	Ok     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	// Denied is set when sanitizer or policy refused the action. A
	// denied call consumes retry budget but is not a sandbox fault.
	Denied       bool   `json:"denied,omitempty"`
	DeniedReason string `json:"denied_reason,omitempty"`

	// FileDiff captures before/after content of a write for the ledger
	FileDiff *ledger.FileDiff `json:"-"`
}

// ConfirmFunc resolves a Prompt verdict by asking the user. Returning
// false without error means the user declined.
type ConfirmFunc func(ctx context.Context, action policy.Action, reason string, warnings []string) (bool, error)

// Executor dispatches tool calls. Reads and searches touch nothing and
// skip policy (containment still applies); writes and shell commands go
// through sanitizer, policy and sandbox in that order.
type Executor struct {
	engine  *policy.Engine
	exec    *sandbox.Executor
	ret     *retriever.Retriever
	fsys    fs.FileSystem
	confirm ConfirmFunc
}

// NewExecutor wires the tool executor
func NewExecutor(engine *policy.Engine, exec *sandbox.Executor, ret *retriever.Retriever, fsys fs.FileSystem, confirm ConfirmFunc) *Executor {
	return &Executor{engine: engine, exec: exec, ret: ret, fsys: fsys, confirm: confirm}
}

// Execute runs one call. Errors are reserved for infrastructure
// failures; everything the model should see (including denials) comes
// back in the Result.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	if err := call.Validate(); err != nil {
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}

	switch call.Kind {
	case KindSearch:
		return e.executeSearch(ctx, call)
	case KindRead:
		return e.executeRead(ctx, call)
	case KindWrite:
		return e.executeWrite(ctx, call)
	case KindShell:
		return e.executeShell(ctx, call)
	}
	return &Result{CallID: call.ID, Error: fmt.Sprintf("unknown tool kind %q", call.Kind)}, nil
}

func (e *Executor) executeSearch(ctx context.Context, call Call) (*Result, error) {
	snippets, err := e.ret.Search(ctx, call.PathGlob, call.Pattern)
	if err != nil {
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}

	payload, err := json.Marshal(snippets)
	if err != nil {
		return nil, err
	}
	return &Result{CallID: call.ID, Ok: true, Output: string(payload)}, nil
}

func (e *Executor) executeRead(ctx context.Context, call Call) (*Result, error) {
	if _, err := e.exec.ContainPath(call.Path); err != nil {
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}

	data, err := e.fsys.ReadFile(ctx, e.relPath(call.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{CallID: call.ID, Error: fmt.Sprintf("file not found: %s", call.Path)}, nil
		}
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}
	if len(data) > consts.MaxFileReadSize {
		return &Result{CallID: call.ID, Error: fmt.Sprintf("file too large: %s", call.Path)}, nil
	}
	return &Result{CallID: call.ID, Ok: true, Output: string(data)}, nil
}

func (e *Executor) executeWrite(ctx context.Context, call Call) (*Result, error) {
	if _, err := e.exec.ContainPath(call.Path); err != nil {
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}
	rel := e.relPath(call.Path)

	action := policy.Action{Kind: policy.ActionWrite, Target: filepath.ToSlash(rel)}
	if res, done, err := e.gate(ctx, call.ID, action, nil); done {
		return res, err
	}

	// Capture the previous content for the ledger before overwriting.
	var before string
	if data, err := e.fsys.ReadFile(ctx, rel); err == nil {
		before = string(data)
	}

	if err := e.fsys.WriteFile(ctx, rel, []byte(call.Content)); err != nil {
		return &Result{CallID: call.ID, Error: err.Error()}, nil
	}

	logger.Debug("tools: wrote %s (%d bytes)", rel, len(call.Content))
	return &Result{
		CallID: call.ID,
		Ok:     true,
		Output: fmt.Sprintf("wrote %d bytes to %s", len(call.Content), rel),
		FileDiff: &ledger.FileDiff{
			Path:   filepath.ToSlash(rel),
			Before: before,
			After:  call.Content,
		},
	}, nil
}

func (e *Executor) executeShell(ctx context.Context, call Call) (*Result, error) {
	san := policy.Sanitize(call.Command)
	if san.Blocked {
		logger.Warn("tools: sanitizer blocked %q: %s", call.Command, san.Reason)
		return &Result{
			CallID: call.ID, Denied: true,
			DeniedReason: "command rejected: " + san.Reason,
		}, nil
	}

	action := policy.Action{Kind: policy.ActionShell, Target: call.Command}
	if res, done, err := e.gate(ctx, call.ID, action, san.Warnings); done {
		return res, err
	}

	runRes, err := e.exec.Run(ctx, call.Command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		var fault *sandbox.Fault
		if errors.As(err, &fault) {
			var out string
			if runRes != nil {
				out = formatRun(runRes)
			}
			return &Result{CallID: call.ID, Output: out, Error: fault.Error()}, nil
		}
		return nil, err
	}

	return &Result{CallID: call.ID, Ok: runRes.ExitCode == 0, Output: formatRun(runRes)}, nil
}

// gate applies policy to an action. done=true means the caller should
// return res/err as-is; done=false means the action is approved.
func (e *Executor) gate(ctx context.Context, callID string, action policy.Action, warnings []string) (*Result, bool, error) {
	decision := e.engine.Evaluate(action)
	switch decision.Verdict {
	case policy.VerdictAllow:
		return nil, false, nil

	case policy.VerdictPrompt:
		if e.confirm == nil {
			return &Result{
				CallID: callID, Denied: true,
				DeniedReason: "confirmation required but no confirmer available",
			}, true, nil
		}
		ok, err := e.confirm(ctx, action, decision.Reason, warnings)
		if err != nil {
			return nil, true, err
		}
		if !ok {
			return &Result{
				CallID: callID, Denied: true,
				DeniedReason: "declined by user",
			}, true, nil
		}
		return nil, false, nil

	default:
		logger.Info("tools: policy denied %s %q: %s", action.Kind, action.Target, decision.Reason)
		return &Result{
			CallID: callID, Denied: true,
			DeniedReason: decision.Reason,
		}, true, nil
	}
}

func (e *Executor) relPath(p string) string {
	if !filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	rel, err := filepath.Rel(e.exec.Root(), p)
	if err != nil {
		return p
	}
	return rel
}

func formatRun(res *sandbox.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "exit code: %d\n", res.ExitCode)
	if res.Stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if res.Stderr != "" {
		sb.WriteString("stderr:\n")
		sb.WriteString(res.Stderr)
	}
	return sb.String()
}
