package verify

import (
	"regexp"
	"strings"
)

var (
	goFailRe     = regexp.MustCompile(`(?m)^\s*--- FAIL: (\S+)`)
	pytestFailRe = regexp.MustCompile(`(?m)^FAILED ([^\s]+)`)
	pytestErrRe  = regexp.MustCompile(`(?m)^ERROR ([^\s]+)`)
)

// ParseFailedTests extracts failing test names from go test or pytest
// output. Subtest failures are reported by their full path.
func ParseFailedTests(output string) []string {
	seen := make(map[string]struct{})
	var failed []string

	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		failed = append(failed, name)
	}

	for _, m := range goFailRe.FindAllStringSubmatch(output, -1) {
		add(m[1])
	}
	for _, m := range pytestFailRe.FindAllStringSubmatch(output, -1) {
		add(pytestTestName(m[1]))
	}
	for _, m := range pytestErrRe.FindAllStringSubmatch(output, -1) {
		add(pytestTestName(m[1]))
	}
	return failed
}

// pytestTestName strips the file path from "path/test_x.py::test_name"
func pytestTestName(id string) string {
	if idx := strings.LastIndex(id, "::"); idx >= 0 {
		return id[idx+2:]
	}
	return id
}
