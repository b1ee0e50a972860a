package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eonseed/perspt/internal/plan"
)

func TestSessionLifecycle(t *testing.T) {
	sess := New("test-run", "fix the bug", "/tmp/ws", "balanced")
	assert.Equal(t, StatusRunning, sess.GetStatus())
	assert.True(t, sess.IsDirty())

	sess.SetStatus(StatusCompleted)
	assert.Equal(t, StatusCompleted, sess.GetStatus())
}

func TestRetryAccounting(t *testing.T) {
	sess := New("test-run", "task", "/tmp/ws", "cautious")

	assert.Equal(t, 0, sess.RetryCount("n1"))
	assert.Equal(t, 1, sess.RecordRetry("n1"))
	assert.Equal(t, 2, sess.RecordRetry("n1"))
	assert.Equal(t, 1, sess.RecordRetry("n2"))
	assert.Equal(t, 2, sess.RetryCount("n1"))
}

func TestSpendAccounting(t *testing.T) {
	sess := New("test-run", "task", "/tmp/ws", "yolo")
	sess.RecordSpend(0.01, 100, 50)
	sess.RecordSpend(0.02, 200, 80)

	assert.InDelta(t, 0.03, sess.SpentUSD, 1e-9)
	assert.Equal(t, 300, sess.InputTokens)
	assert.Equal(t, 130, sess.OutputTokens)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	sess := New("calm-oak-0042", "add feature", "/tmp/ws", "balanced")
	sess.SetPlan(&plan.TaskPlan{Task: "add feature", Nodes: []*plan.Node{
		{ID: "n1", Description: "do it", Status: plan.StatusCommitted},
	}})
	sess.RecordRetry("n1")
	sess.RecordSpend(0.05, 1000, 500)
	sess.SetLedgerHead("abc123")

	require.NoError(t, store.Save(sess))
	assert.False(t, sess.IsDirty())

	loaded, err := store.Load("/tmp/ws", "calm-oak-0042")
	require.NoError(t, err)
	assert.Equal(t, sess.Task, loaded.Task)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount("n1"))
	assert.InDelta(t, 0.05, loaded.SpentUSD, 1e-9)
	assert.Equal(t, "abc123", loaded.LedgerHead)
	require.NotNil(t, loaded.Plan)
	assert.Equal(t, plan.StatusCommitted, loaded.Plan.Nodes[0].Status)
}

func TestSaveWhileRetriesMutate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	sess := New("busy-run", "task", "/tmp/ws", "balanced")

	// Mutate the retry map while saves snapshot it; meaningful under -race.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			sess.RecordRetry("n1")
		}
	}()
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Save(sess))
	}
	<-done
	sess.RecordRetry("n2")
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load("/tmp/ws", "busy-run")
	require.NoError(t, err)
	assert.Equal(t, 200, loaded.RetryCount("n1"))
	assert.Equal(t, 1, loaded.RetryCount("n2"))
}

func TestSaveSkipsCleanSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	sess := New("test-run", "task", "/tmp/ws", "balanced")
	require.NoError(t, store.Save(sess))

	// A clean save is a no-op even if the file were removed.
	require.NoError(t, store.Delete("/tmp/ws", "test-run"))
	require.NoError(t, store.Save(sess))
	_, err = store.Load("/tmp/ws", "test-run")
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first := New("run-one", "older task", "/tmp/ws", "balanced")
	require.NoError(t, store.Save(first))
	second := New("run-two", "newer task", "/tmp/ws", "balanced")
	require.NoError(t, store.Save(second))

	runs, err := store.List("/tmp/ws")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-two", runs[0].ID)
	assert.Equal(t, "run-one", runs[1].ID)
}

func TestListEmptyWorkspace(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	runs, err := store.List("/nowhere")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a-b", sanitizeID("a/b"))
	assert.Equal(t, "run.1_x", sanitizeID("run.1_x"))
	assert.Regexp(t, regexp.MustCompile(`^run-\d+$`), sanitizeID("///"))
}

func TestNewRunIDShape(t *testing.T) {
	re := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{4}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, re, NewRunID())
	}
}

func TestSummary(t *testing.T) {
	sess := New("run-x", "task", "/tmp/ws", "balanced")
	sess.SetPlan(&plan.TaskPlan{Nodes: []*plan.Node{
		{ID: "a", Status: plan.StatusCommitted},
		{ID: "b", Status: plan.StatusPending},
	}})
	sess.RecordStep()

	assert.Contains(t, sess.Summary(), "nodes 1/2")
	assert.Contains(t, sess.Summary(), "steps 1")
}
