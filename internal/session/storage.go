package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/plan"
)

// Storage format version for forward compatibility
const storageVersion = 1

func init() {
	gob.Register(&storedSession{})
	gob.Register(&plan.TaskPlan{})
	gob.Register(map[string]int{})
}

// storedSession is the on-disk representation of a run
type storedSession struct {
	Version      int
	ID           string
	Task         string
	WorkingDir   string
	Mode         string
	Status       Status
	Plan         *plan.TaskPlan
	Retries      map[string]int
	Steps        int
	SpentUSD     float64
	InputTokens  int
	OutputTokens int
	LedgerHead   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Metadata is the lightweight listing view of a stored run
type Metadata struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions under a base directory, one subdirectory per
// workspace
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir. An empty baseDir selects
// the platform default state directory.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// DefaultStateDir returns the platform-specific run state directory
func DefaultStateDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "perspt", "runs"), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, ".local", "state", "perspt", "runs"), nil
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "perspt", "runs"), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, "AppData", "Local", "perspt", "runs"), nil
	default:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, ".config", "perspt", "runs"), nil
	}
}

// hashWorkspace creates a safe directory name from a workspace path
func hashWorkspace(workingDir string) string {
	absPath := workingDir
	if !filepath.IsAbs(workingDir) {
		if abs, err := filepath.Abs(workingDir); err == nil {
			absPath = abs
		}
	}
	absPath = filepath.Clean(absPath)

	hash := sha256.Sum256([]byte(absPath))
	return fmt.Sprintf("%x", hash)[:16]
}

func (s *Store) workspaceDir(workingDir string) string {
	return filepath.Join(s.baseDir, hashWorkspace(workingDir))
}

func (s *Store) sessionPath(workingDir, id string) string {
	return filepath.Join(s.workspaceDir(workingDir), id+".gob")
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeID produces a filesystem-safe run ID and falls back to a
// timestamp if nothing usable remains
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ReplaceAll(id, string(os.PathSeparator), "-")
	id = nonAlnum.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		id = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	return id
}

// Save persists a session atomically. Clean sessions are skipped.
func (s *Store) Save(sess *Session) error {
	if !sess.IsDirty() {
		logger.Debug("session: %s already persisted, skipping", sess.ID)
		return nil
	}

	// Encode while holding the lock so the snapshot cannot race with a
	// writer mutating the plan or retry map mid-encode.
	sess.mu.RLock()
	stored := &storedSession{
		Version:      storageVersion,
		ID:           sanitizeID(sess.ID),
		Task:         sess.Task,
		WorkingDir:   sess.WorkingDir,
		Mode:         sess.Mode,
		Status:       sess.Status,
		Plan:         sess.Plan,
		Retries:      sess.Retries,
		Steps:        sess.Steps,
		SpentUSD:     sess.SpentUSD,
		InputTokens:  sess.InputTokens,
		OutputTokens: sess.OutputTokens,
		LedgerHead:   sess.LedgerHead,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}
	var buf bytes.Buffer
	encodeErr := gob.NewEncoder(&buf).Encode(stored)
	sess.mu.RUnlock()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode session: %w", encodeErr)
	}

	dir := s.workspaceDir(stored.WorkingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a torn state.
	finalPath := s.sessionPath(stored.WorkingDir, stored.ID)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	logger.Debug("session: saved %s to %s", stored.ID, finalPath)
	sess.MarkSaved()
	return nil
}

// Load reads a session back from disk
func (s *Store) Load(workingDir, id string) (*Session, error) {
	file, err := os.Open(s.sessionPath(workingDir, sanitizeID(id)))
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var stored storedSession
	if err := gob.NewDecoder(file).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if stored.Version != storageVersion {
		return nil, fmt.Errorf("session version mismatch: expected %d, got %d", storageVersion, stored.Version)
	}

	sess := &Session{
		ID:           stored.ID,
		Task:         stored.Task,
		WorkingDir:   stored.WorkingDir,
		Mode:         stored.Mode,
		Status:       stored.Status,
		Plan:         stored.Plan,
		Retries:      stored.Retries,
		Steps:        stored.Steps,
		SpentUSD:     stored.SpentUSD,
		InputTokens:  stored.InputTokens,
		OutputTokens: stored.OutputTokens,
		LedgerHead:   stored.LedgerHead,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}
	if sess.Retries == nil {
		sess.Retries = make(map[string]int)
	}
	return sess, nil
}

// List returns metadata for all runs recorded for a workspace, newest
// first
func (s *Store) List(workingDir string) ([]Metadata, error) {
	dir := s.workspaceDir(workingDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []Metadata{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace directory: %w", err)
	}

	var runs []Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gob") {
			continue
		}

		file, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var stored storedSession
		decodeErr := gob.NewDecoder(file).Decode(&stored)
		file.Close()
		if decodeErr != nil || stored.Version != storageVersion {
			continue
		}

		runs = append(runs, Metadata{
			ID:        stored.ID,
			Task:      stored.Task,
			Status:    stored.Status,
			CreatedAt: stored.CreatedAt,
			UpdatedAt: stored.UpdatedAt,
		})
	}

	for i := 0; i < len(runs); i++ {
		for j := i + 1; j < len(runs); j++ {
			if runs[j].UpdatedAt.After(runs[i].UpdatedAt) {
				runs[i], runs[j] = runs[j], runs[i]
			}
		}
	}
	return runs, nil
}

// Delete removes a stored run
func (s *Store) Delete(workingDir, id string) error {
	path := s.sessionPath(workingDir, sanitizeID(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
