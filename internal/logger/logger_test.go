package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLoggerWritesLeveledLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perspt.log")

	l, err := New(LevelInfo, path, "ledger")
	require.NoError(t, err)

	l.Debug("should be filtered")
	l.Info("committed entry %d", 7)
	l.Warn("chain short")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.NotContains(t, content, "should be filtered")
	assert.Contains(t, content, "[INFO] [ledger] committed entry 7")
	assert.Contains(t, content, "[WARN] [ledger] chain short")
}

func TestWithPrefixChains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perspt.log")

	l, err := New(LevelDebug, path, "orchestrator")
	require.NoError(t, err)

	l.WithPrefix("speculate").Debug("attempt 1")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[orchestrator:speculate] attempt 1"))
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	l, err := New(LevelNone, "", "")
	require.NoError(t, err)

	// Must not panic or create files.
	l.Info("nothing")
	l.Error("nothing")
	require.NoError(t, l.Close())
}
