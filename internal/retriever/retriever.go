// Package retriever finds context snippets in the workspace for the
// model: path-filtered, regex-matched, gitignore-aware.
package retriever

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/fs"
)

// Snippet is one match with surrounding context
type Snippet struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Match   string `json:"match"`
	Context string `json:"context"`
}

type cachedFile struct {
	fingerprint uint64
	lines       []string
}

// Retriever searches workspace files, caching line splits per content
// fingerprint so unchanged files are not re-split between searches
type Retriever struct {
	fsys    fs.FileSystem
	mu      sync.Mutex
	cache   map[string]*cachedFile
	maxHits int
}

// New creates a retriever over the given filesystem
func New(fsys fs.FileSystem) *Retriever {
	return &Retriever{
		fsys:    fsys,
		cache:   make(map[string]*cachedFile),
		maxHits: consts.MaxSearchResults,
	}
}

// Search walks the workspace (honoring .gitignore), keeps files whose
// path matches pathGlob (empty matches all), and returns snippets for
// lines matching contentPattern. Results are ordered by path then line
// and capped.
func (r *Retriever) Search(ctx context.Context, pathGlob, contentPattern string) ([]Snippet, error) {
	re, err := regexp.Compile(contentPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid content pattern: %w", err)
	}

	files, err := r.collectFiles(ctx, ".", pathGlob)
	if err != nil {
		return nil, err
	}

	var (
		outMu    sync.Mutex
		snippets []Snippet
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, path := range files {
		g.Go(func() error {
			hits, err := r.scanFile(gctx, path, re)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				return nil
			}
			outMu.Lock()
			snippets = append(snippets, hits...)
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(snippets, func(i, j int) bool {
		if snippets[i].Path != snippets[j].Path {
			return snippets[i].Path < snippets[j].Path
		}
		return snippets[i].Line < snippets[j].Line
	})
	if len(snippets) > r.maxHits {
		snippets = snippets[:r.maxHits]
	}
	return snippets, nil
}

func (r *Retriever) collectFiles(ctx context.Context, dir, pathGlob string) ([]string, error) {
	entries, err := r.fsys.ListDirFiltered(ctx, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir {
			sub, err := r.collectFiles(ctx, e.Path, pathGlob)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		if pathGlob == "" || matchGlob(pathGlob, filepath.ToSlash(e.Path)) {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

func (r *Retriever) scanFile(ctx context.Context, path string, re *regexp.Regexp) ([]Snippet, error) {
	data, err := r.fsys.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(data) > consts.MaxFileReadSize || bytes.IndexByte(data, 0) >= 0 {
		// Binary or oversized, skip.
		return nil, nil
	}

	lines := r.cachedLines(path, data)

	var hits []Snippet
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		hits = append(hits, Snippet{
			Path:    path,
			Line:    i + 1,
			Match:   line,
			Context: contextAround(lines, i),
		})
	}
	return hits, nil
}

// cachedLines reuses the previous line split when the content
// fingerprint is unchanged
func (r *Retriever) cachedLines(path string, data []byte) []string {
	fp := xxhash.Sum64(data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[path]; ok && c.fingerprint == fp {
		return c.lines
	}
	lines := strings.Split(string(data), "\n")
	r.cache[path] = &cachedFile{fingerprint: fp, lines: lines}
	return lines
}

func contextAround(lines []string, idx int) string {
	half := consts.MaxSnippetLines / 2
	start := idx - half
	if start < 0 {
		start = 0
	}
	end := idx + half + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

// matchGlob matches slash paths where '*' spans separators and '?'
// matches one character
func matchGlob(pattern, path string) bool {
	for {
		if pattern == "" {
			return path == ""
		}
		switch pattern[0] {
		case '*':
			for strings.HasPrefix(pattern, "*") {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(path); i++ {
				if matchGlob(pattern, path[i:]) {
					return true
				}
			}
			return false
		case '?':
			if path == "" {
				return false
			}
		default:
			if path == "" || pattern[0] != path[0] {
				return false
			}
		}
		pattern = pattern[1:]
		path = path[1:]
	}
}
