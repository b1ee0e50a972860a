package policy

import (
	"regexp"
	"strings"
)

// SanitizeResult reports what the sanitizer found in a command line.
// Blocked commands never reach the rule table.
type SanitizeResult struct {
	Blocked  bool
	Reason   string
	Warnings []string
}

var destructivePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+(/|~|\*|\.\s*$|\.\.)`), "recursive deletion of a broad path"},
	{regexp.MustCompile(`:\(\)\s*\{.*\}\s*;?\s*:`), "fork bomb"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`>\s*/dev/sd[a-z]`), "redirect onto a block device"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/\s*$`), "world-writable root"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`), "host power control"},
	{regexp.MustCompile(`(?i)\bkill\s+(-9\s+)?-?1\b`), "kill of process group 1"},
}

var warningPatterns = []struct {
	re      *regexp.Regexp
	warning string
}{
	{regexp.MustCompile("\\$\\(|`"), "command substitution"},
	{regexp.MustCompile(`&&|\|\||;`), "command chaining"},
	{regexp.MustCompile(`\|`), "pipeline"},
	{regexp.MustCompile(`(?i)\bcurl\b.*\|\s*(ba)?sh\b`), "piping a download into a shell"},
	{regexp.MustCompile(`(?i)\bgit\s+push\b.*(--force|-f)\b`), "force push"},
	{regexp.MustCompile(`(?i)\bsudo\b`), "privilege escalation"},
}

// Sanitize inspects a command line before policy evaluation. Destructive
// commands are blocked outright; risky shapes are surfaced as warnings
// that travel with the policy decision.
func Sanitize(command string) SanitizeResult {
	normalized := strings.Join(strings.Fields(command), " ")

	for _, p := range destructivePatterns {
		if p.re.MatchString(normalized) {
			return SanitizeResult{Blocked: true, Reason: p.reason}
		}
	}

	var warnings []string
	for _, p := range warningPatterns {
		if p.re.MatchString(normalized) {
			warnings = append(warnings, p.warning)
		}
	}
	return SanitizeResult{Warnings: warnings}
}
