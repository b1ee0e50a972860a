package fs

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// gitignoreMatcher applies the patterns of one .gitignore file
type gitignoreMatcher struct {
	patterns []*gitignorePattern
}

type gitignorePattern struct {
	regex     *regexp.Regexp
	isNegated bool
	isDir     bool
}

// parseGitignore reads a .gitignore file; a missing file yields an empty
// matcher
func parseGitignore(path string) (*gitignoreMatcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &gitignoreMatcher{}, nil
		}
		return nil, err
	}
	return parseGitignoreData(data)
}

// parseGitignoreData parses gitignore patterns from raw bytes
func parseGitignoreData(data []byte) (*gitignoreMatcher, error) {
	matcher := &gitignoreMatcher{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := &gitignorePattern{}
		if strings.HasPrefix(line, "!") {
			p.isNegated = true
			line = strings.TrimPrefix(line, "!")
		}
		if strings.HasSuffix(line, "/") {
			p.isDir = true
			line = strings.TrimSuffix(line, "/")
		}

		p.regex = regexp.MustCompile(patternToRegex(line))
		matcher.patterns = append(matcher.patterns, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return matcher, nil
}

// patternToRegex converts a gitignore glob into an anchored regex.
// '**' spans directories, '*' and '?' stop at separators.
func patternToRegex(pattern string) string {
	pattern = regexp.QuoteMeta(pattern)
	pattern = strings.ReplaceAll(pattern, `\*\*`, ".*")
	pattern = strings.ReplaceAll(pattern, `\*`, "[^/]*")
	pattern = strings.ReplaceAll(pattern, `\?`, "[^/]")

	if strings.HasPrefix(pattern, "/") {
		pattern = "^" + strings.TrimPrefix(pattern, "/")
	} else {
		pattern = "(^|/)" + pattern
	}
	return pattern + "($|/)"
}

// matches reports whether relPath is ignored, honoring negations in order
func (m *gitignoreMatcher) matches(relPath string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")

	ignored := false
	for _, p := range m.patterns {
		if p.isDir && !isDir {
			continue
		}
		if p.regex.MatchString(relPath) {
			ignored = !p.isNegated
		}
	}
	return ignored
}
