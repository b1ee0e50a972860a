package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateDenyByDefault(t *testing.T) {
	e := NewEngine(nil)

	d := e.Evaluate(Action{Kind: ActionShell, Target: "ls"})
	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.Empty(t, d.Rule)
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		{Pattern: "git push*", Kind: ActionShell, Verdict: VerdictPrompt},
		{Pattern: "git *", Kind: ActionShell, Verdict: VerdictAllow},
		{Pattern: "git push*", Kind: ActionShell, Verdict: VerdictDeny},
	})

	d := e.Evaluate(Action{Kind: ActionShell, Target: "git push origin main"})
	assert.Equal(t, VerdictPrompt, d.Verdict)

	d = e.Evaluate(Action{Kind: ActionShell, Target: "git status"})
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestEvaluateKindFiltering(t *testing.T) {
	e := NewEngine([]Rule{
		{Pattern: "*", Kind: ActionWrite, Verdict: VerdictAllow},
	})

	assert.Equal(t, VerdictAllow, e.Evaluate(Action{Kind: ActionWrite, Target: "main.go"}).Verdict)
	assert.Equal(t, VerdictDeny, e.Evaluate(Action{Kind: ActionShell, Target: "main.go"}).Verdict)
}

func TestEvaluateKindAnyMatchesBoth(t *testing.T) {
	e := NewEngine([]Rule{
		{Pattern: "*", Kind: KindAny, Verdict: VerdictAllow},
	})

	assert.Equal(t, VerdictAllow, e.Evaluate(Action{Kind: ActionShell, Target: "ls"}).Verdict)
	assert.Equal(t, VerdictAllow, e.Evaluate(Action{Kind: ActionWrite, Target: "a.go"}).Verdict)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := NewEngine([]Rule{
		{Pattern: "go test*", Kind: ActionShell, Verdict: VerdictAllow},
		{Pattern: "*", Kind: ActionShell, Verdict: VerdictDeny, Reason: "default"},
	})
	action := Action{Kind: ActionShell, Target: "go test ./..."}

	first := e.Evaluate(action)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(action))
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		target  string
		want    bool
	}{
		{"*", "anything at all", true},
		{"go test*", "go test ./...", true},
		{"go test*", "go build", false},
		{"rm *", "rm -rf /tmp/x", true},
		{"rm *", "rm", false},
		{"internal/*", "internal/ledger/ledger.go", true},
		{"*.go", "cmd/perspt/main.go", true},
		{"?it status", "git status", true},
		{"git status", "git status ", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.target),
			"pattern %q target %q", tt.pattern, tt.target)
	}
}

func TestParseRulesPreservesOrder(t *testing.T) {
	src := []byte(`
allow("go test*", kind="shell", reason="tests")
deny("rm *", kind="shell")
prompt("git push*", kind="shell")
allow("internal/*", kind="write")
`)

	e, err := ParseRules("rules.star", src)
	require.NoError(t, err)

	rules := e.Rules()
	require.Len(t, rules, 4)
	assert.Equal(t, Rule{Pattern: "go test*", Kind: ActionShell, Verdict: VerdictAllow, Reason: "tests"}, rules[0])
	assert.Equal(t, VerdictDeny, rules[1].Verdict)
	assert.Equal(t, VerdictPrompt, rules[2].Verdict)
	assert.Equal(t, ActionWrite, rules[3].Kind)
}

func TestParseRulesRejectsBadInput(t *testing.T) {
	_, err := ParseRules("rules.star", []byte(`allow("")`))
	assert.Error(t, err)

	_, err = ParseRules("rules.star", []byte(`allow("x", kind="network")`))
	assert.Error(t, err)

	_, err = ParseRules("rules.star", []byte(`open("/etc/passwd")`))
	assert.Error(t, err)
}

func TestLoadRulesMissingFileDeniesAll(t *testing.T) {
	e, err := LoadRules("/nonexistent/rules.star")
	require.NoError(t, err)
	assert.Equal(t, VerdictDeny, e.Evaluate(Action{Kind: ActionShell, Target: "ls"}).Verdict)
}

func TestRmDashRfScenario(t *testing.T) {
	// Even with a permissive shell rule in place, the sanitizer blocks
	// broad recursive deletion before the table is consulted.
	res := Sanitize("rm -rf /")
	assert.True(t, res.Blocked)

	e := NewEngine([]Rule{{Pattern: "*", Kind: ActionShell, Verdict: VerdictAllow}})
	d := e.Evaluate(Action{Kind: ActionShell, Target: "rm -rf /"})
	// The table alone would allow it; ordering of sanitizer before
	// policy is what keeps this safe.
	assert.Equal(t, VerdictAllow, d.Verdict)
}
