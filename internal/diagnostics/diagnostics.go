// Package diagnostics collects compiler and analyzer findings for changed
// files. A configured external analyzer is preferred; a tree-sitter parse
// is the fallback when none is available.
package diagnostics

import "context"

// Severity classifies a diagnostic finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Weight returns the contribution of one finding of this severity to the
// syntactic energy component
func (s Severity) Weight() float64 {
	switch s {
	case SeverityError:
		return 1.0
	case SeverityWarning:
		return 0.1
	case SeverityInfo:
		return 0.01
	case SeverityHint:
		return 0.001
	default:
		return 0.01
	}
}

// ParseSeverity maps analyzer output labels onto a Severity
func ParseSeverity(s string) Severity {
	switch s {
	case "error", "ERROR", "Error", "E":
		return SeverityError
	case "warning", "WARNING", "Warning", "warn", "W":
		return SeverityWarning
	case "hint", "HINT", "Hint", "H":
		return SeverityHint
	default:
		return SeverityInfo
	}
}

// Diagnostic is a single finding in a file
type Diagnostic struct {
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source,omitempty"`
}

// Client produces diagnostics for a set of files. Implementations must be
// safe to call with files that no longer exist; missing files yield no
// findings rather than an error.
type Client interface {
	Check(ctx context.Context, files []string) ([]Diagnostic, error)
}
