package sandbox

import (
	"os"
	"strings"
)

// filterEnv keeps only allow-listed variables from the parent
// environment. Nothing else leaks into child processes.
func filterEnv(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{}
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, ok := allowedSet[name]; ok {
			env = append(env, kv)
		}
	}
	return env
}
