package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/eonseed/perspt/internal/logger"
)

// SyntaxChecker parses files with tree-sitter and reports ERROR and
// MISSING nodes as error-severity diagnostics. It covers the languages
// the agent edits most; files in other languages are skipped.
type SyntaxChecker struct {
	languages map[string]unsafe.Pointer
}

// NewSyntaxChecker creates a checker with grammars for Go, Python and shell
func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{
		languages: map[string]unsafe.Pointer{
			".go":   tree_sitter_go.Language(),
			".py":   tree_sitter_python.Language(),
			".sh":   tree_sitter_bash.Language(),
			".bash": tree_sitter_bash.Language(),
		},
	}
}

// Check parses each file and collects syntax errors. Unsupported and
// missing files are skipped.
func (c *SyntaxChecker) Check(ctx context.Context, files []string) ([]Diagnostic, error) {
	var diags []Diagnostic
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lang, ok := c.languages[strings.ToLower(filepath.Ext(path))]
		if !ok {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		fileDiags, err := c.checkSource(path, lang, data)
		if err != nil {
			logger.Warn("diagnostics: parse failed for %s: %v", path, err)
			continue
		}
		diags = append(diags, fileDiags...)
	}
	return diags, nil
}

func (c *SyntaxChecker) checkSource(path string, lang unsafe.Pointer, source []byte) ([]Diagnostic, error) {
	if strings.TrimSpace(string(source)) == "" {
		return nil, nil
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tree_sitter.NewLanguage(lang)); err != nil {
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser returned nil tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil, nil
	}

	diags := collectErrorNodes(path, root, source)
	if len(diags) == 0 {
		// Error recovery can swallow the offending node; report at the root.
		pos := root.StartPosition()
		diags = append(diags, Diagnostic{
			Path:     path,
			Line:     int(pos.Row) + 1,
			Column:   int(pos.Column) + 1,
			Severity: SeverityError,
			Message:  "syntax error",
			Source:   "tree-sitter",
		})
	}
	return diags, nil
}

func collectErrorNodes(path string, root *tree_sitter.Node, source []byte) []Diagnostic {
	var diags []Diagnostic

	var traverse func(*tree_sitter.Node)
	traverse = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}

		kind := n.Kind()
		if kind == "ERROR" || strings.Contains(kind, "MISSING") {
			pos := n.StartPosition()
			diags = append(diags, Diagnostic{
				Path:     path,
				Line:     int(pos.Row) + 1,
				Column:   int(pos.Column) + 1,
				Severity: SeverityError,
				Message:  errorMessage(n, source, kind),
				Source:   "tree-sitter",
			})
		}

		for i := uint(0); i < n.ChildCount(); i++ {
			traverse(n.Child(i))
		}
	}

	traverse(root)
	return diags
}

func errorMessage(n *tree_sitter.Node, source []byte, kind string) string {
	start, end := n.StartByte(), n.EndByte()

	var text string
	if start < end && end <= uint(len(source)) {
		text = string(source[start:end])
		if len(text) > 50 {
			text = text[:50] + "..."
		}
		text = strings.ReplaceAll(text, "\n", "\\n")
	}

	if strings.Contains(kind, "MISSING") {
		missing := strings.Trim(strings.TrimPrefix(kind, "MISSING"), " _")
		if missing != "" {
			return fmt.Sprintf("missing %s", missing)
		}
		return "missing token"
	}
	if text != "" {
		return fmt.Sprintf("syntax error near '%s'", text)
	}
	return "syntax error"
}
