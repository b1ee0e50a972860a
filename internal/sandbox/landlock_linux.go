//go:build linux

package sandbox

import (
	"os"

	landlock "github.com/landlock-lsm/go-landlock/landlock"

	"github.com/eonseed/perspt/internal/logger"
)

// Harden applies a best-effort landlock policy to the current process.
// Children inherit it, so every sandboxed command runs restricted too.
// The project root and the extra paths stay read-write; the usual
// toolchain locations stay read-only. On kernels without landlock this
// logs and returns nil.
func Harden(root string, extraRW []string) error {
	rules := []landlock.Rule{
		landlock.RWDirs(root),
		landlock.RWDirs(os.TempDir()),
	}

	for _, p := range append(toolchainCachePaths(), extraRW...) {
		if _, err := os.Stat(p); err == nil {
			rules = append(rules, landlock.RWDirs(p))
		}
	}

	for _, p := range readOnlyToolPaths() {
		if _, err := os.Stat(p); err == nil {
			rules = append(rules, landlock.RODirs(p))
		}
	}

	if err := landlock.V6.BestEffort().RestrictPaths(rules...); err != nil {
		logger.Warn("sandbox: landlock unavailable, continuing without: %v", err)
		return nil
	}

	logger.Info("sandbox: landlock restrictions applied for %s", root)
	return nil
}

func readOnlyToolPaths() []string {
	paths := []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc", "/opt", "/proc", "/dev/null", "/dev/urandom"}

	home, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	return append(paths, home)
}

// toolchainCachePaths lists cache directories build tools must write to
func toolchainCachePaths() []string {
	var paths []string
	for _, env := range []string{"GOPATH", "GOMODCACHE", "GOCACHE", "CARGO_HOME", "PIP_CACHE_DIR"} {
		if v := os.Getenv(env); v != "" {
			paths = append(paths, v)
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	return append(paths,
		home+"/go",
		home+"/.cache",
		home+"/.cargo",
	)
}
