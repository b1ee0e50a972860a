package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eonseed/perspt/internal/fs"
	"github.com/eonseed/perspt/internal/policy"
	"github.com/eonseed/perspt/internal/retriever"
	"github.com/eonseed/perspt/internal/sandbox"
)

func newTestExecutor(t *testing.T, rules []policy.Rule, confirm ConfirmFunc) (*Executor, string) {
	t.Helper()
	root := t.TempDir()

	fsys := fs.NewCachedFS(root, time.Minute, 100)
	t.Cleanup(func() { fsys.Close() })

	exec, err := sandbox.NewExecutor(root, sandbox.Config{AllowedEnv: []string{"PATH"}})
	require.NoError(t, err)

	e := NewExecutor(policy.NewEngine(rules), exec, retriever.New(fsys), fsys, confirm)
	return e, root
}

var allowAll = []policy.Rule{{Pattern: "*", Kind: policy.KindAny, Verdict: policy.VerdictAllow}}

func TestExecuteReadAndWrite(t *testing.T) {
	e, root := newTestExecutor(t, allowAll, nil)
	ctx := context.Background()

	res, err := e.Execute(ctx, Call{ID: "w1", Kind: KindWrite, Path: "hello.txt", Content: "hi\n"})
	require.NoError(t, err)
	assert.True(t, res.Ok)
	require.NotNil(t, res.FileDiff)
	assert.Equal(t, "hello.txt", res.FileDiff.Path)
	assert.Empty(t, res.FileDiff.Before)
	assert.Equal(t, "hi\n", res.FileDiff.After)

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))

	res, err = e.Execute(ctx, Call{ID: "r1", Kind: KindRead, Path: "hello.txt"})
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, "hi\n", res.Output)
}

func TestExecuteWriteCapturesBefore(t *testing.T) {
	e, root := newTestExecutor(t, allowAll, nil)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("old\n"), 0644))

	res, err := e.Execute(ctx, Call{ID: "w1", Kind: KindWrite, Path: "a.txt", Content: "new\n"})
	require.NoError(t, err)
	require.NotNil(t, res.FileDiff)
	assert.Equal(t, "old\n", res.FileDiff.Before)
	assert.Equal(t, "new\n", res.FileDiff.After)
}

func TestExecuteReadRejectsEscape(t *testing.T) {
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "r1", Kind: KindRead, Path: "../../etc/passwd"})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.Contains(t, res.Error, "escapes")
}

func TestExecuteWriteDeniedByDefault(t *testing.T) {
	e, root := newTestExecutor(t, nil, nil)

	res, err := e.Execute(context.Background(), Call{ID: "w1", Kind: KindWrite, Path: "a.txt", Content: "x"})
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Contains(t, res.DeniedReason, "denied by default")

	_, statErr := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteShellRuns(t *testing.T) {
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "s1", Kind: KindShell, Command: "echo hello"})
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Contains(t, res.Output, "exit code: 0")
	assert.Contains(t, res.Output, "hello")
}

func TestExecuteShellNonZeroExit(t *testing.T) {
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "s1", Kind: KindShell, Command: "exit 3"})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.Contains(t, res.Output, "exit code: 3")
}

func TestExecuteShellSanitizerBlocksBeforePolicy(t *testing.T) {
	// Permissive table; the sanitizer must still refuse.
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "s1", Kind: KindShell, Command: "rm -rf /"})
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Contains(t, res.DeniedReason, "command rejected")
}

func TestExecutePromptConfirmFlow(t *testing.T) {
	rules := []policy.Rule{{Pattern: "*", Kind: policy.KindAny, Verdict: policy.VerdictPrompt, Reason: "ask first"}}

	var asked []policy.Action
	answer := true
	confirm := func(ctx context.Context, action policy.Action, reason string, warnings []string) (bool, error) {
		asked = append(asked, action)
		return answer, nil
	}
	e, _ := newTestExecutor(t, rules, confirm)
	ctx := context.Background()

	res, err := e.Execute(ctx, Call{ID: "s1", Kind: KindShell, Command: "echo ok"})
	require.NoError(t, err)
	assert.True(t, res.Ok)
	require.Len(t, asked, 1)
	assert.Equal(t, policy.ActionShell, asked[0].Kind)

	answer = false
	res, err = e.Execute(ctx, Call{ID: "s2", Kind: KindShell, Command: "echo ok"})
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "declined by user", res.DeniedReason)
}

func TestExecutePromptWithoutConfirmerDenies(t *testing.T) {
	rules := []policy.Rule{{Pattern: "*", Kind: policy.KindAny, Verdict: policy.VerdictPrompt}}
	e, _ := newTestExecutor(t, rules, nil)

	res, err := e.Execute(context.Background(), Call{ID: "w1", Kind: KindWrite, Path: "a.txt", Content: "x"})
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Contains(t, res.DeniedReason, "confirmation required")
}

func TestExecuteSearchReturnsJSON(t *testing.T) {
	e, root := newTestExecutor(t, allowAll, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0644))

	res, err := e.Execute(context.Background(), Call{ID: "q1", Kind: KindSearch, Pattern: "func main"})
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Contains(t, res.Output, "main.go")
	assert.Contains(t, res.Output, "func main")
}

func TestExecuteReadMissingFile(t *testing.T) {
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "r1", Kind: KindRead, Path: "missing.txt"})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.Contains(t, res.Error, "not found")
}

func TestExecuteInvalidCall(t *testing.T) {
	e, _ := newTestExecutor(t, allowAll, nil)

	res, err := e.Execute(context.Background(), Call{ID: "x", Kind: KindRead})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.NotEmpty(t, res.Error)
}
