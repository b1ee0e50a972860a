package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eonseed/perspt/internal/fs"
)

func seedWorkspace(t *testing.T) *fs.MockFS {
	t.Helper()
	mfs := fs.NewMockFS()
	ctx := context.Background()

	require.NoError(t, mfs.WriteFile(ctx, ".gitignore", []byte("vendor/\n*.log\n")))
	require.NoError(t, mfs.WriteFile(ctx, "main.go", []byte("package main\n\nfunc main() {\n\trun()\n}\n")))
	require.NoError(t, mfs.WriteFile(ctx, "run.go", []byte("package main\n\nfunc run() {}\n")))
	require.NoError(t, mfs.WriteFile(ctx, "docs/notes.md", []byte("run the tool\n")))
	require.NoError(t, mfs.WriteFile(ctx, "vendor/dep.go", []byte("func run() {}\n")))
	require.NoError(t, mfs.WriteFile(ctx, "debug.log", []byte("run failed\n")))
	return mfs
}

func TestSearchFindsMatchesWithContext(t *testing.T) {
	r := New(seedWorkspace(t))

	snippets, err := r.Search(context.Background(), "", `func run`)
	require.NoError(t, err)
	require.Len(t, snippets, 1)

	s := snippets[0]
	assert.Equal(t, "run.go", s.Path)
	assert.Equal(t, 3, s.Line)
	assert.Equal(t, "func run() {}", s.Match)
	assert.Contains(t, s.Context, "package main")
}

func TestSearchPathGlob(t *testing.T) {
	r := New(seedWorkspace(t))

	snippets, err := r.Search(context.Background(), "*.go", `run`)
	require.NoError(t, err)
	for _, s := range snippets {
		assert.Contains(t, s.Path, ".go")
	}

	snippets, err = r.Search(context.Background(), "docs/*", `run`)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "docs/notes.md", snippets[0].Path)
}

func TestSearchHonorsGitignore(t *testing.T) {
	r := New(seedWorkspace(t))

	snippets, err := r.Search(context.Background(), "", `run`)
	require.NoError(t, err)
	for _, s := range snippets {
		assert.NotContains(t, s.Path, "vendor")
		assert.NotContains(t, s.Path, ".log")
	}
}

func TestSearchDeterministicOrder(t *testing.T) {
	r := New(seedWorkspace(t))

	first, err := r.Search(context.Background(), "", `run`)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Search(context.Background(), "", `run`)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchInvalidPattern(t *testing.T) {
	r := New(seedWorkspace(t))

	_, err := r.Search(context.Background(), "", `([`)
	assert.ErrorContains(t, err, "invalid content pattern")
}

func TestSearchCacheInvalidation(t *testing.T) {
	mfs := seedWorkspace(t)
	r := New(mfs)
	ctx := context.Background()

	snippets, err := r.Search(ctx, "main.go", `run`)
	require.NoError(t, err)
	require.Len(t, snippets, 1)

	// Change the file; the fingerprint changes and stale lines are
	// not served.
	require.NoError(t, mfs.WriteFile(ctx, "main.go", []byte("package main\n\nfunc main() {\n\tstop()\n}\n")))

	snippets, err = r.Search(ctx, "main.go", `run`)
	require.NoError(t, err)
	assert.Empty(t, snippets)

	snippets, err = r.Search(ctx, "main.go", `stop`)
	require.NoError(t, err)
	assert.Len(t, snippets, 1)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"*.go", "a/b/c.go", true},
		{"*.go", "c.md", false},
		{"docs/*", "docs/notes.md", true},
		{"docs/*", "src/notes.md", false},
		{"internal/*/x?.go", "internal/deep/xy.go", true},
		{"", "", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchGlob(tt.pattern, tt.path), "%q vs %q", tt.pattern, tt.path)
	}
}
