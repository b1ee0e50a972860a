package energy

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Per-unit structural costs. A touched file costs more than a touched
// line so that scattering a change across many files reads as more
// divergent than an equally sized change in one place.
const (
	fileCost = 0.05
	hunkCost = 0.02
	lineCost = 0.01
)

// Structural scores the size and spread of a unified diff. An empty diff
// scores zero. Unparseable input is scored by raw +/- line count so a
// malformed diff never reads as "no divergence".
func Structural(unifiedDiff string) float64 {
	if strings.TrimSpace(unifiedDiff) == "" {
		return 0
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil || len(fileDiffs) == 0 {
		return rawLineScore(unifiedDiff)
	}

	var v float64
	for _, fd := range fileDiffs {
		v += fileCost
		for _, h := range fd.Hunks {
			v += hunkCost
			for _, line := range strings.Split(string(h.Body), "\n") {
				if len(line) == 0 {
					continue
				}
				if line[0] == '+' || line[0] == '-' {
					v += lineCost
				}
			}
		}
	}
	return v
}

// ChangedLines counts added plus removed lines in a unified diff
func ChangedLines(unifiedDiff string) int {
	var n int
	for _, line := range strings.Split(unifiedDiff, "\n") {
		if len(line) == 0 {
			continue
		}
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if line[0] == '+' || line[0] == '-' {
			n++
		}
	}
	return n
}

func rawLineScore(unifiedDiff string) float64 {
	return fileCost + float64(ChangedLines(unifiedDiff))*lineCost
}
