package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFS is an in-memory FileSystem for tests
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMockFS creates an empty in-memory filesystem
func NewMockFS() *MockFS {
	return &MockFS{files: make(map[string][]byte)}
}

func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// ReadFile reads the entire file
func (mfs *MockFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	data, ok := mfs.files[normalize(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile writes data to a file
func (mfs *MockFS) WriteFile(ctx context.Context, path string, data []byte) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	mfs.files[normalize(path)] = stored
	return nil
}

// Stat returns file information
func (mfs *MockFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	key := normalize(path)
	if data, ok := mfs.files[key]; ok {
		return &FileInfo{Path: path, Size: int64(len(data)), ModTime: time.Now()}, nil
	}
	// Directories exist implicitly when files live under them.
	prefix := key + "/"
	for p := range mfs.files {
		if strings.HasPrefix(p, prefix) {
			return &FileInfo{Path: path, IsDir: true}, nil
		}
	}
	return nil, os.ErrNotExist
}

// ListDir lists immediate children of path
func (mfs *MockFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	dir := normalize(path)
	if dir == "." {
		dir = ""
	}
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}

	seen := make(map[string]*FileInfo)
	for p, data := range mfs.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, isNested := strings.Cut(rest, "/")
		if name == "" {
			continue
		}
		child := filepath.Join(path, name)
		if isNested {
			seen[name] = &FileInfo{Path: child, IsDir: true}
		} else if _, ok := seen[name]; !ok {
			seen[name] = &FileInfo{Path: child, Size: int64(len(data))}
		}
	}

	var infos []*FileInfo
	for _, info := range seen {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// ListDirFiltered filters gitignored entries using in-memory .gitignore
// files along the path
func (mfs *MockFS) ListDirFiltered(ctx context.Context, path string) ([]*FileInfo, error) {
	entries, err := mfs.ListDir(ctx, path)
	if err != nil {
		return nil, err
	}

	matcher := mfs.rootGitignore()

	var filtered []*FileInfo
	for _, e := range entries {
		if filepath.Base(e.Path) == ".git" {
			continue
		}
		if matcher.matches(filepath.ToSlash(e.Path), e.IsDir) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

func (mfs *MockFS) rootGitignore() *gitignoreMatcher {
	mfs.mu.RLock()
	data, ok := mfs.files[".gitignore"]
	mfs.mu.RUnlock()
	if !ok {
		return &gitignoreMatcher{}
	}

	m, err := parseGitignoreData(data)
	if err != nil {
		return &gitignoreMatcher{}
	}
	return m
}

// Exists checks if a file exists
func (mfs *MockFS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := mfs.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes a file
func (mfs *MockFS) Delete(ctx context.Context, path string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	key := normalize(path)
	if _, ok := mfs.files[key]; !ok {
		return os.ErrNotExist
	}
	delete(mfs.files, key)
	return nil
}

// MkdirAll is a no-op; directories exist implicitly
func (mfs *MockFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return nil
}
