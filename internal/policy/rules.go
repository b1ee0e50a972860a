package policy

import (
	"fmt"
	"os"

	"go.starlark.net/starlark"

	"github.com/eonseed/perspt/internal/logger"
)

// Rule files are Starlark programs. Executing one does nothing but append
// to the rule table through the allow/deny/prompt builtins, in source
// order:
//
//	allow("go test*", kind="shell", reason="running tests")
//	deny("rm *", kind="shell", reason="no deletions")
//	prompt("git push*", kind="shell")
//	allow("internal/*", kind="write")
//
// The program has no access to the filesystem, network or environment;
// the only predeclared names are the three builtins.

// LoadRules executes the rule file at path and returns an engine over the
// declared rules. A missing path yields an empty (deny-everything) table.
func LoadRules(path string) (*Engine, error) {
	if path == "" {
		return NewEngine(nil), nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("policy: rule file %s not found, denying all actions", path)
			return NewEngine(nil), nil
		}
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	return ParseRules(path, src)
}

// ParseRules executes rule file source and builds the engine
func ParseRules(filename string, src []byte) (*Engine, error) {
	var rules []Rule

	appendRule := func(verdict Verdict) *starlark.Builtin {
		name := string(verdict)
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pattern, kind, reason string
			if err := starlark.UnpackArgs(name, args, kwargs,
				"pattern", &pattern, "kind?", &kind, "reason?", &reason); err != nil {
				return nil, err
			}
			if pattern == "" {
				return nil, fmt.Errorf("%s: pattern must not be empty", name)
			}
			actionKind, err := parseRuleKind(kind)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			rules = append(rules, Rule{
				Pattern: pattern,
				Kind:    actionKind,
				Verdict: verdict,
				Reason:  reason,
			})
			return starlark.None, nil
		})
	}

	predeclared := starlark.StringDict{
		"allow":  appendRule(VerdictAllow),
		"deny":   appendRule(VerdictDeny),
		"prompt": appendRule(VerdictPrompt),
	}

	thread := &starlark.Thread{Name: "policy"}
	if _, err := starlark.ExecFile(thread, filename, src, predeclared); err != nil {
		return nil, fmt.Errorf("failed to execute rule file %s: %w", filename, err)
	}

	logger.Info("policy: loaded %d rules from %s", len(rules), filename)
	return NewEngine(rules), nil
}

func parseRuleKind(kind string) (ActionKind, error) {
	switch kind {
	case "", "any":
		return KindAny, nil
	case "shell":
		return ActionShell, nil
	case "write":
		return ActionWrite, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want shell, write or any)", kind)
	}
}
