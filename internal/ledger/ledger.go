// Package ledger records every committed change in an append-only,
// hash-chained log backed by SQLite. Each entry's hash covers its
// content and its parent's hash, so any later mutation of history is
// detectable. Rollbacks append a reversing entry; nothing is ever
// rewritten in place.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eonseed/perspt/internal/logger"
)

// ErrCorrupt indicates the stored chain fails verification. This is
// fatal for the session; the ledger must not be appended to once
// corruption is detected.
var ErrCorrupt = errors.New("ledger chain corrupt")

// ErrNotFound indicates no entry has the requested hash
var ErrNotFound = errors.New("ledger entry not found")

// EntryKind distinguishes forward commits from reversing entries
type EntryKind string

const (
	KindCommit   EntryKind = "commit"
	KindRollback EntryKind = "rollback"
)

// Entry is one link in the chain
type Entry struct {
	Seq        int64      `json:"seq"`
	Hash       string     `json:"hash"`
	ParentHash string     `json:"parent_hash"`
	Timestamp  time.Time  `json:"timestamp"`
	Kind       EntryKind  `json:"kind"`
	NodeID     string     `json:"node_id,omitempty"`
	Summary    string     `json:"summary"`
	Energy     float64    `json:"energy"`
	Diffs      []FileDiff `json:"diffs"`
}

// Stats summarizes the chain
type Stats struct {
	Entries      int64      `json:"entries"`
	Commits      int64      `json:"commits"`
	Rollbacks    int64      `json:"rollbacks"`
	FilesTouched int64      `json:"files_touched"`
	First        *time.Time `json:"first,omitempty"`
	Last         *time.Time `json:"last,omitempty"`
}

// Ledger is a single-writer handle to the chain. All mutation goes
// through one mutex; concurrent readers share the same connection pool.
type Ledger struct {
	mu       sync.Mutex
	db       *sql.DB
	headHash string
	headSeq  int64
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY,
	hash        TEXT NOT NULL UNIQUE,
	parent_hash TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	node_id     TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	energy      REAL NOT NULL,
	diffs       TEXT NOT NULL
);
`

// Open opens or creates the ledger database at path
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.loadHead(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger: opened %s at seq %d", path, l.headSeq)
	return l, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) loadHead() error {
	row := l.db.QueryRow(`SELECT seq, hash FROM entries ORDER BY seq DESC LIMIT 1`)
	err := row.Scan(&l.headSeq, &l.headHash)
	if errors.Is(err, sql.ErrNoRows) {
		l.headSeq = 0
		l.headHash = ""
		return nil
	}
	return err
}

// Head returns the hash and sequence number of the latest entry. An
// empty hash means the chain is empty.
func (l *Ledger) Head() (string, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headHash, l.headSeq
}

// Commit appends a new entry for the given change set and returns it
func (l *Ledger) Commit(nodeID, summary string, energy float64, diffs []FileDiff) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		Seq:        l.headSeq + 1,
		ParentHash: l.headHash,
		Timestamp:  time.Now().UTC(),
		Kind:       KindCommit,
		NodeID:     nodeID,
		Summary:    summary,
		Energy:     energy,
		Diffs:      diffs,
	}
	return l.append(entry)
}

// Rollback appends a reversing entry that returns the tree to its state
// as of the entry with the given hash: the inverse of every entry after
// the target, coalesced per file. Rolling back to the head yields an
// empty diff set. History is never rewritten.
func (l *Ledger) Rollback(hash string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	target, err := l.get(hash)
	if err != nil {
		return nil, err
	}

	later, err := l.entriesAfter(target.Seq)
	if err != nil {
		return nil, err
	}

	// Walk newest first. The first time a path appears, its After is the
	// current content; each older entry pushes the restore target back to
	// its Before.
	byPath := make(map[string]*FileDiff)
	var order []string
	for _, e := range later {
		for _, d := range e.Diffs {
			if existing, ok := byPath[d.Path]; ok {
				existing.After = d.Before
				continue
			}
			byPath[d.Path] = &FileDiff{Path: d.Path, Before: d.After, After: d.Before}
			order = append(order, d.Path)
		}
	}

	diffs := make([]FileDiff, 0, len(order))
	for _, path := range order {
		if d := byPath[path]; d.Before != d.After {
			diffs = append(diffs, *d)
		}
	}

	entry := &Entry{
		Seq:        l.headSeq + 1,
		ParentHash: l.headHash,
		Timestamp:  time.Now().UTC(),
		Kind:       KindRollback,
		Summary:    fmt.Sprintf("rollback to %s", shortHash(hash)),
		Diffs:      diffs,
	}
	return l.append(entry)
}

// entriesAfter returns the entries with a sequence number above seq,
// newest first
func (l *Ledger) entriesAfter(seq int64) ([]*Entry, error) {
	rows, err := l.db.Query(
		`SELECT seq, hash, parent_hash, timestamp, kind, node_id, summary, energy, diffs
		 FROM entries WHERE seq > ? ORDER BY seq DESC`, seq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (l *Ledger) append(entry *Entry) (*Entry, error) {
	hash, err := computeHash(entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	diffJSON, err := json.Marshal(entry.Diffs)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize diffs: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO entries (seq, hash, parent_hash, timestamp, kind, node_id, summary, energy, diffs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq, entry.Hash, entry.ParentHash,
		entry.Timestamp.Format(time.RFC3339Nano),
		string(entry.Kind), entry.NodeID, entry.Summary, entry.Energy, string(diffJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	l.headHash = entry.Hash
	l.headSeq = entry.Seq
	logger.Info("ledger: appended %s entry %d (%s)", entry.Kind, entry.Seq, shortHash(entry.Hash))
	return entry, nil
}

// Get returns the entry with the given hash
func (l *Ledger) Get(hash string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(hash)
}

func (l *Ledger) get(hash string) (*Entry, error) {
	row := l.db.QueryRow(
		`SELECT seq, hash, parent_hash, timestamp, kind, node_id, summary, energy, diffs
		 FROM entries WHERE hash = ?`, hash)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return entry, err
}

// Recent returns up to n entries, newest first
func (l *Ledger) Recent(n int) ([]*Entry, error) {
	rows, err := l.db.Query(
		`SELECT seq, hash, parent_hash, timestamp, kind, node_id, summary, energy, diffs
		 FROM entries ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// VerifyChain recomputes every hash and parent link from the genesis
// entry forward. Any mismatch returns an error wrapping ErrCorrupt.
func (l *Ledger) VerifyChain() error {
	rows, err := l.db.Query(
		`SELECT seq, hash, parent_hash, timestamp, kind, node_id, summary, energy, diffs
		 FROM entries ORDER BY seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	expectedParent := ""
	expectedSeq := int64(1)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if entry.Seq != expectedSeq {
			return fmt.Errorf("%w: sequence gap at %d", ErrCorrupt, entry.Seq)
		}
		if entry.ParentHash != expectedParent {
			return fmt.Errorf("%w: broken parent link at seq %d", ErrCorrupt, entry.Seq)
		}
		recomputed, err := computeHash(entry)
		if err != nil {
			return err
		}
		if recomputed != entry.Hash {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrCorrupt, entry.Seq)
		}
		expectedParent = entry.Hash
		expectedSeq++
	}
	return rows.Err()
}

// Stats summarizes the chain
func (l *Ledger) Stats() (*Stats, error) {
	stats := &Stats{}
	row := l.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(kind = 'commit'), 0),
		        COALESCE(SUM(kind = 'rollback'), 0)
		 FROM entries`)
	if err := row.Scan(&stats.Entries, &stats.Commits, &stats.Rollbacks); err != nil {
		return nil, err
	}

	if stats.Entries == 0 {
		return stats, nil
	}

	var first, last string
	row = l.db.QueryRow(`SELECT MIN(timestamp), MAX(timestamp) FROM entries`)
	if err := row.Scan(&first, &last); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, first); err == nil {
		stats.First = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
		stats.Last = &t
	}

	entries, err := l.Recent(int(stats.Entries))
	if err != nil {
		return nil, err
	}
	touched := make(map[string]struct{})
	for _, e := range entries {
		for _, d := range e.Diffs {
			touched[d.Path] = struct{}{}
		}
	}
	stats.FilesTouched = int64(len(touched))
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var ts, kind, diffJSON string
	if err := row.Scan(&entry.Seq, &entry.Hash, &entry.ParentHash, &ts, &kind,
		&entry.NodeID, &entry.Summary, &entry.Energy, &diffJSON); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp at seq %d", ErrCorrupt, entry.Seq)
	}
	entry.Timestamp = parsed
	entry.Kind = EntryKind(kind)

	if err := json.Unmarshal([]byte(diffJSON), &entry.Diffs); err != nil {
		return nil, fmt.Errorf("%w: bad diff payload at seq %d", ErrCorrupt, entry.Seq)
	}
	return &entry, nil
}

// computeHash derives the entry hash from its content and parent hash.
// The serialization is canonical: fixed field order, RFC3339Nano
// timestamps, shortest float representation.
func computeHash(entry *Entry) (string, error) {
	diffJSON, err := json.Marshal(entry.Diffs)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(entry.Seq, 10)))
	h.Write([]byte{0})
	h.Write([]byte(entry.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(entry.Kind))
	h.Write([]byte{0})
	h.Write([]byte(entry.NodeID))
	h.Write([]byte{0})
	h.Write([]byte(entry.Summary))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(entry.Energy, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write(diffJSON)
	h.Write([]byte{0})
	h.Write([]byte(entry.ParentHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
