package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// FileDiff records one file's content before and after a change. An
// empty Before means the file was created; an empty After with a
// non-empty Before means it was deleted.
type FileDiff struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Reversed swaps before and after, producing the diff that undoes this one
func (d FileDiff) Reversed() FileDiff {
	return FileDiff{Path: d.Path, Before: d.After, After: d.Before}
}

// Unified renders the change as a unified diff
func (d FileDiff) Unified() string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(d.Before),
		B:        difflib.SplitLines(d.After),
		FromFile: "a/" + d.Path,
		ToFile:   "b/" + d.Path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

// FileWriter is the slice of the filesystem layer Apply needs
type FileWriter interface {
	WriteFile(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// Apply writes a change set's After states to the working tree. An empty
// After deletes the file. Every rollback caller goes through here so the
// ledger entry and the tree cannot drift apart.
func Apply(ctx context.Context, w FileWriter, diffs []FileDiff) error {
	for _, d := range diffs {
		if d.After == "" {
			if err := w.Delete(ctx, d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to apply %s: %w", d.Path, err)
			}
			continue
		}
		if err := w.WriteFile(ctx, d.Path, []byte(d.After)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", d.Path, err)
		}
	}
	return nil
}

// RenderUnified concatenates the unified diffs of a change set
func RenderUnified(diffs []FileDiff) string {
	var sb strings.Builder
	for _, d := range diffs {
		sb.WriteString(d.Unified())
	}
	return sb.String()
}
