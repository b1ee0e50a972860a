package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e, err := NewExecutor(t.TempDir(), cfg)
	require.NoError(t, err)
	return e
}

func TestContainPathInsideRoot(t *testing.T) {
	e := newTestExecutor(t, Config{})

	abs, err := e.ContainPath("sub/file.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.Root(), "sub", "file.go"), abs)

	// The root itself is contained.
	_, err = e.ContainPath(".")
	assert.NoError(t, err)
}

func TestContainPathRejectsEscapes(t *testing.T) {
	e := newTestExecutor(t, Config{})

	for _, p := range []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"/etc/passwd",
		"",
	} {
		_, err := e.ContainPath(p)
		assert.Error(t, err, "path %q", p)
	}
}

func TestContainPathRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	e, err := NewExecutor(root, Config{})
	require.NoError(t, err)

	_, err = e.ContainPath("link/escape.txt")
	assert.ErrorContains(t, err, "escapes project root")
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	e := newTestExecutor(t, Config{AllowedEnv: []string{"PATH"}})

	res, err := e.Run(context.Background(), "echo hello; echo oops >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.Truncated)
}

func TestRunTimeoutFault(t *testing.T) {
	e := newTestExecutor(t, Config{AllowedEnv: []string{"PATH"}})

	res, err := e.RunWithTimeout(context.Background(), "sleep 5", 100*time.Millisecond)
	require.Error(t, err)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultTimeout, fault.Kind)
	assert.True(t, res.TimedOut)
}

func TestRunSpawnFault(t *testing.T) {
	e := newTestExecutor(t, Config{})

	// A shell that cannot find the binary still exits non-zero rather
	// than failing to spawn; force a spawn error with an unusable root.
	res, err := e.Run(context.Background(), "/nonexistent-binary-xyz")
	if err != nil {
		var fault *Fault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, FaultSpawn, fault.Kind)
	} else {
		assert.NotZero(t, res.ExitCode)
	}
}

func TestRunOutputTruncation(t *testing.T) {
	e := newTestExecutor(t, Config{AllowedEnv: []string{"PATH"}, OutputLimit: 64})

	res, err := e.Run(context.Background(), "printf 'x%.0s' $(seq 1 128)")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Stdout, TruncationMarker))
	assert.LessOrEqual(t, len(res.Stdout), 64+len(TruncationMarker))
}

func TestRunEnvAllowList(t *testing.T) {
	t.Setenv("PERSPT_SECRET", "hunter2")
	t.Setenv("PERSPT_VISIBLE", "yes")

	e := newTestExecutor(t, Config{AllowedEnv: []string{"PATH", "PERSPT_VISIBLE"}})

	res, err := e.Run(context.Background(), "env")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "PERSPT_VISIBLE=yes")
	assert.NotContains(t, res.Stdout, "PERSPT_SECRET")
}

func TestRunRespectsContextCancel(t *testing.T) {
	e := newTestExecutor(t, Config{AllowedEnv: []string{"PATH"}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.Run(ctx, "sleep 5")
	require.Error(t, err)
}

func TestCapWriterHardCapAborts(t *testing.T) {
	aborted := false
	w := newCapWriter(8, func() { aborted = true })

	_, err := w.Write(make([]byte, 100))
	require.NoError(t, err)
	assert.True(t, w.truncated)
	assert.True(t, w.overflowed)
	assert.True(t, aborted)
}
