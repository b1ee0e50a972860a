package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.PID())

	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestReclaimsDeadProcessLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	// A PID far beyond pid_max cannot belong to a live process.
	content := fmt.Sprintf("%d\n%s\n", 1<<30, time.Now().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()
}

func TestReclaimsAncientLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Add(-2*time.Hour).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()
}

func TestReclaimsCorruptLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()
}
