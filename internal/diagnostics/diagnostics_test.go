package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityWeights(t *testing.T) {
	assert.Equal(t, 1.0, SeverityError.Weight())
	assert.Equal(t, 0.1, SeverityWarning.Weight())
	assert.Equal(t, 0.01, SeverityInfo.Weight())
	assert.Equal(t, 0.001, SeverityHint.Weight())
}

func TestSyntaxCheckerValidGo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0644))

	diags, err := NewSyntaxChecker().Check(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestSyntaxCheckerBrokenGo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {\n"), 0644))

	diags, err := NewSyntaxChecker().Check(context.Background(), []string{path})
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, path, diags[0].Path)
}

func TestSyntaxCheckerSkipsUnsupportedAndMissing(t *testing.T) {
	dir := t.TempDir()
	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("# hi"), 0644))

	diags, err := NewSyntaxChecker().Check(context.Background(), []string{
		readme,
		filepath.Join(dir, "gone.go"),
	})
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestParseAnalyzerOutput(t *testing.T) {
	output := `main.go:10:5: undefined: foo
pkg/util.go:3:1: warning: unused variable bar
not a diagnostic line
other.py:7:2: hint: consider renaming
`

	diags := parseAnalyzerOutput([]byte(output))
	require.Len(t, diags, 3)

	assert.Equal(t, "main.go", diags[0].Path)
	assert.Equal(t, 10, diags[0].Line)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, "undefined: foo", diags[0].Message)

	assert.Equal(t, SeverityWarning, diags[1].Severity)
	assert.Equal(t, "unused variable bar", diags[1].Message)

	assert.Equal(t, SeverityHint, diags[2].Severity)
}

func TestParseAnalyzerLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"main.go: no positions",
		"main.go:x:y: message",
		"main.go:1:2:",
	} {
		_, ok := parseAnalyzerLine(line)
		assert.False(t, ok, "line %q", line)
	}
}
