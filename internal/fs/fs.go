package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eonseed/perspt/internal/logger"
)

// FileInfo represents file metadata
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem is an abstraction over filesystem operations
type FileSystem interface {
	// ReadFile reads the entire file
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile writes data to a file, creating parent directories
	WriteFile(ctx context.Context, path string, data []byte) error
	// Stat returns file information
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// ListDir lists directory contents
	ListDir(ctx context.Context, path string) ([]*FileInfo, error)
	// ListDirFiltered lists directory contents, dropping gitignored entries
	ListDirFiltered(ctx context.Context, path string) ([]*FileInfo, error)
	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes a file
	Delete(ctx context.Context, path string) error
	// MkdirAll creates a directory and all parent directories
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
}

// CachedFS backs FileSystem with the OS, caching directory listings and
// invalidating them on fsnotify events
type CachedFS struct {
	baseDir    string
	dirCache   map[string]*dirCacheEntry
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	maxEntries int
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
}

type dirCacheEntry struct {
	entries   []*FileInfo
	timestamp time.Time
}

// NewCachedFS creates a cached filesystem rooted at baseDir
func NewCachedFS(baseDir string, cacheTTL time.Duration, maxEntries int) *CachedFS {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fs: failed to create file watcher: %v", err)
	}

	cfs := &CachedFS{
		baseDir:    baseDir,
		dirCache:   make(map[string]*dirCacheEntry),
		cacheTTL:   cacheTTL,
		maxEntries: maxEntries,
		watcher:    watcher,
		stopWatch:  make(chan struct{}),
	}

	if watcher != nil {
		go cfs.watchFiles()
	}

	return cfs
}

// Close stops the watcher
func (cfs *CachedFS) Close() error {
	close(cfs.stopWatch)
	if cfs.watcher != nil {
		return cfs.watcher.Close()
	}
	return nil
}

func (cfs *CachedFS) watchFiles() {
	for {
		select {
		case <-cfs.stopWatch:
			return
		case event, ok := <-cfs.watcher.Events:
			if !ok {
				return
			}
			cfs.InvalidateDirCache(filepath.Dir(event.Name))
		case err, ok := <-cfs.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("fs: watcher error: %v", err)
		}
	}
}

// InvalidateDirCache removes a directory from cache
func (cfs *CachedFS) InvalidateDirCache(path string) {
	cfs.cacheMu.Lock()
	defer cfs.cacheMu.Unlock()
	delete(cfs.dirCache, path)
}

func (cfs *CachedFS) absPath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cfs.baseDir, path)
}

// ReadFile reads the entire file
func (cfs *CachedFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(cfs.absPath(path))
}

// WriteFile writes data, creating parent directories as needed
func (cfs *CachedFS) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs := cfs.absPath(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return err
	}
	cfs.InvalidateDirCache(filepath.Dir(abs))
	return nil
}

// Stat returns file information
func (cfs *CachedFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(cfs.absPath(path))
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// ListDir lists directory contents, serving from cache when fresh
func (cfs *CachedFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs := cfs.absPath(path)

	cfs.cacheMu.RLock()
	if entry, ok := cfs.dirCache[abs]; ok && time.Since(entry.timestamp) < cfs.cacheTTL {
		entries := entry.entries
		cfs.cacheMu.RUnlock()
		return entries, nil
	}
	cfs.cacheMu.RUnlock()

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	infos := make([]*FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		infos = append(infos, &FileInfo{
			Path:    filepath.Join(path, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	cfs.cacheMu.Lock()
	if len(cfs.dirCache) >= cfs.maxEntries {
		// Drop the oldest entry to stay under the cap.
		var oldest string
		var oldestTime time.Time
		for k, v := range cfs.dirCache {
			if oldest == "" || v.timestamp.Before(oldestTime) {
				oldest, oldestTime = k, v.timestamp
			}
		}
		delete(cfs.dirCache, oldest)
	}
	cfs.dirCache[abs] = &dirCacheEntry{entries: infos, timestamp: time.Now()}
	cfs.cacheMu.Unlock()

	if cfs.watcher != nil {
		_ = cfs.watcher.Add(abs)
	}

	return infos, nil
}

// ListDirFiltered lists directory contents minus gitignored entries and
// the .git directory itself
func (cfs *CachedFS) ListDirFiltered(ctx context.Context, path string) ([]*FileInfo, error) {
	entries, err := cfs.ListDir(ctx, path)
	if err != nil {
		return nil, err
	}

	matchers := cfs.loadGitignoreChain(cfs.absPath(path))

	var filtered []*FileInfo
	for _, e := range entries {
		base := filepath.Base(e.Path)
		if base == ".git" {
			continue
		}
		rel, err := filepath.Rel(cfs.baseDir, cfs.absPath(e.Path))
		if err != nil {
			rel = e.Path
		}
		rel = filepath.ToSlash(rel)
		if isIgnored(rel, e.IsDir, matchers) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// loadGitignoreChain collects matchers from baseDir down to dir
func (cfs *CachedFS) loadGitignoreChain(dir string) []*gitignoreMatcher {
	var matchers []*gitignoreMatcher

	current := dir
	for {
		m, err := parseGitignore(filepath.Join(current, ".gitignore"))
		if err == nil && len(m.patterns) > 0 {
			matchers = append(matchers, m)
		}
		if current == cfs.baseDir || !strings.HasPrefix(current, cfs.baseDir) {
			break
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return matchers
}

func isIgnored(relPath string, isDir bool, matchers []*gitignoreMatcher) bool {
	for _, m := range matchers {
		if m.matches(relPath, isDir) {
			return true
		}
	}
	return false
}

// Exists checks if a file exists
func (cfs *CachedFS) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(cfs.absPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes a file
func (cfs *CachedFS) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs := cfs.absPath(path)
	if err := os.Remove(abs); err != nil {
		return err
	}
	cfs.InvalidateDirCache(filepath.Dir(abs))
	return nil
}

// MkdirAll creates a directory and all parent directories
func (cfs *CachedFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(cfs.absPath(path), perm)
}
