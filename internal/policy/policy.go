// Package policy decides whether the agent may perform a side-effecting
// action. Rules form an ordered table evaluated first-match-wins; an
// action no rule matches is denied. Evaluation never performs I/O, so
// the same table and action always yield the same decision.
package policy

import "strings"

// Verdict is the outcome of evaluating an action against the rule table
type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictDeny   Verdict = "deny"
	VerdictPrompt Verdict = "prompt"
)

// ActionKind distinguishes the two gated action classes
type ActionKind string

const (
	// ActionShell gates command execution; the target is the command line
	ActionShell ActionKind = "shell"
	// ActionWrite gates file mutation; the target is the workspace-relative path
	ActionWrite ActionKind = "write"
	// KindAny in a rule matches both action kinds
	KindAny ActionKind = "any"
)

// Action is a side effect the agent wants to perform
type Action struct {
	Kind   ActionKind
	Target string
}

// Rule pairs a target pattern with a verdict. Patterns use '*' (matches
// any run of characters, separators included) and '?' (any single
// character).
type Rule struct {
	Pattern string
	Kind    ActionKind
	Verdict Verdict
	Reason  string
}

// Decision is the result of evaluating one action
type Decision struct {
	Verdict Verdict
	Reason  string
	Rule    string // pattern of the matching rule, empty for the default deny
}

// Engine holds the ordered rule table
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the given rules, preserving their order
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Rules returns a copy of the rule table in evaluation order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate walks the table in order and returns the first match. No rule
// matching means deny.
func (e *Engine) Evaluate(action Action) Decision {
	for _, r := range e.rules {
		if r.Kind != KindAny && r.Kind != action.Kind {
			continue
		}
		if !matchPattern(r.Pattern, action.Target) {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = "matched rule " + r.Pattern
		}
		return Decision{Verdict: r.Verdict, Reason: reason, Rule: r.Pattern}
	}
	return Decision{Verdict: VerdictDeny, Reason: "no rule matches; denied by default"}
}

// matchPattern implements glob matching where '*' spans any characters,
// including path separators and spaces. Matching is anchored at both ends.
func matchPattern(pattern, target string) bool {
	return matchHere(pattern, target)
}

func matchHere(pattern, target string) bool {
	for {
		if pattern == "" {
			return target == ""
		}
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars.
			for strings.HasPrefix(pattern, "*") {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(target); i++ {
				if matchHere(pattern, target[i:]) {
					return true
				}
			}
			return false
		case '?':
			if target == "" {
				return false
			}
			pattern = pattern[1:]
			target = target[1:]
		default:
			if target == "" || pattern[0] != target[0] {
				return false
			}
			pattern = pattern[1:]
			target = target[1:]
		}
	}
}
