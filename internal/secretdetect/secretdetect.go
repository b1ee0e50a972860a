// Package secretdetect finds credentials in text the agent is about to
// commit. Detection combines known token shapes with a Shannon entropy
// heuristic for opaque assignment values.
package secretdetect

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Rule names a credential shape
type Rule struct {
	Name  string
	Regex *regexp.Regexp
}

// Match is one detected credential
type Match struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"` // redacted match text
}

var defaultRules = []Rule{
	{"aws access key id", regexp.MustCompile(`(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`)},
	{"anthropic api key", regexp.MustCompile(`sk-ant-api03-[a-zA-Z0-9_\-]{20,}`)},
	{"openai api key", regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9_\-]{32,}`)},
	{"google api key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"github token", regexp.MustCompile(`gh[pos]_[a-zA-Z0-9]{36}`)},
	{"slack token", regexp.MustCompile(`xox[bp]-[0-9]{10,12}-[0-9]{10,12}-[a-zA-Z0-9\-]{24,}`)},
	{"private key", regexp.MustCompile(`-----BEGIN (RSA |OPENSSH |PGP |EC )?PRIVATE KEY`)},
}

// assignment catches `secret = "<value>"` style lines for the entropy
// check
var assignment = regexp.MustCompile(`(?i)(password|passwd|secret|token|api_?key|credential)\w*\s*[:=]\s*["']?([^\s"']{8,})`)

// entropyThreshold is tuned for base64-like secrets; natural language
// and identifiers stay well below it
const entropyThreshold = 4.5

// Scanner checks text for credentials
type Scanner struct {
	rules []Rule
}

// NewScanner builds a scanner with the default rules
func NewScanner() *Scanner {
	return &Scanner{rules: defaultRules}
}

// AddRule extends the scanner with a custom rule
func (s *Scanner) AddRule(r Rule) {
	s.rules = append(s.rules, r)
}

// Scan checks every line of content
func (s *Scanner) Scan(content string) []Match {
	var matches []Match
	for i, line := range strings.Split(content, "\n") {
		matches = append(matches, s.scanLine(line, i+1)...)
	}
	return matches
}

// ScanAddedLines checks only the lines a unified diff adds, which is
// what a commit would introduce
func (s *Scanner) ScanAddedLines(unifiedDiff string) []Match {
	var matches []Match
	for i, line := range strings.Split(unifiedDiff, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		matches = append(matches, s.scanLine(line[1:], i+1)...)
	}
	return matches
}

func (s *Scanner) scanLine(line string, lineNum int) []Match {
	var matches []Match
	for _, rule := range s.rules {
		for _, text := range rule.Regex.FindAllString(line, -1) {
			matches = append(matches, Match{Rule: rule.Name, Line: lineNum, Snippet: Redact(text)})
		}
	}

	if len(matches) == 0 {
		if m := assignment.FindStringSubmatch(line); m != nil {
			if Entropy(m[2]) > entropyThreshold {
				matches = append(matches, Match{
					Rule:    "high entropy assignment",
					Line:    lineNum,
					Snippet: fmt.Sprintf("%s=%s", strings.ToLower(m[1]), Redact(m[2])),
				})
			}
		}
	}
	return matches
}

// Redact keeps just enough of a secret to locate it
func Redact(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", 8) + secret[len(secret)-2:]
}

// Entropy is the Shannon entropy of s in bits per character
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}

	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}

	length := float64(len(s))
	var entropy float64
	for _, count := range counts {
		freq := float64(count) / length
		entropy -= freq * math.Log2(freq)
	}
	return entropy
}
