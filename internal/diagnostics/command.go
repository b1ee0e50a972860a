package diagnostics

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eonseed/perspt/internal/logger"
)

// CommandClient shells out to a configured analyzer (go vet, ruff,
// shellcheck wrappers and the like) and parses its line-oriented output.
// Lines look like "path:line:col: message" or
// "path:line:col: severity: message". Anything else is ignored.
type CommandClient struct {
	command string
	dir     string
}

// NewCommandClient builds a client for the given analyzer command line,
// run with the project root as working directory
func NewCommandClient(command, dir string) *CommandClient {
	return &CommandClient{command: command, dir: dir}
}

// Check runs the analyzer once and returns all findings for the given
// files. Analyzers report on the whole project; findings outside the
// changed set are kept, since regressions elsewhere matter too.
func (c *CommandClient) Check(ctx context.Context, files []string) ([]Diagnostic, error) {
	args := append(strings.Fields(c.command), files...)
	if len(args) == 0 {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// Analyzers exit non-zero when they find problems. Only a context
	// error is fatal; otherwise the output is the result.
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("diagnostics: analyzer exited: %v", err)
	}

	return parseAnalyzerOutput(out.Bytes()), nil
}

func parseAnalyzerOutput(output []byte) []Diagnostic {
	var diags []Diagnostic

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if d, ok := parseAnalyzerLine(strings.TrimSpace(scanner.Text())); ok {
			diags = append(diags, d)
		}
	}
	return diags
}

func parseAnalyzerLine(line string) (Diagnostic, bool) {
	// path:line:col: rest
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 4 {
		return Diagnostic{}, false
	}

	lineNo, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Diagnostic{}, false
	}
	colNo, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Diagnostic{}, false
	}

	severity := SeverityError
	message := strings.TrimSpace(parts[3])
	if label, rest, found := strings.Cut(message, ":"); found {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "error", "warning", "info", "hint":
			severity = ParseSeverity(strings.TrimSpace(label))
			message = strings.TrimSpace(rest)
		}
	}

	if message == "" {
		return Diagnostic{}, false
	}

	return Diagnostic{
		Path:     strings.TrimSpace(parts[0]),
		Line:     lineNo,
		Column:   colNo,
		Severity: severity,
		Message:  message,
		Source:   "analyzer",
	}, true
}
