package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var runAdjectives = []string{
	"amber", "bold", "brisk", "calm", "clear",
	"coral", "crisp", "deep", "dusk", "fair",
	"firm", "fresh", "gold", "green", "keen",
	"lean", "mild", "neat", "pale", "plain",
	"prime", "pure", "quiet", "rare", "ripe",
	"sage", "slim", "soft", "stark", "steel",
	"still", "swift", "teal", "true", "warm",
	"wide", "wise",
}

var runNouns = []string{
	"arch", "beam", "birch", "bolt", "brook",
	"cedar", "cliff", "cove", "crest", "dale",
	"delta", "drift", "dune", "elm", "ember",
	"fern", "finch", "flint", "forge", "gale",
	"glen", "grove", "hawk", "heath", "ledge",
	"lark", "maple", "mesa", "moss", "oak",
	"otter", "peak", "quail", "raven", "reef",
	"ridge", "slope", "spark", "spruce", "thorn",
	"tide", "vale", "wren",
}

// NewRunID generates a human-friendly run ID in the form
// "adjective-noun-nnnn"
func NewRunID() string {
	return fmt.Sprintf("%s-%s-%04d",
		pickRandom(runAdjectives), pickRandom(runNouns), randomInt(10000))
}

func pickRandom(list []string) string {
	return list[randomInt(len(list))]
}

func randomInt(limit int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
