//go:build !linux

package sandbox

import "github.com/eonseed/perspt/internal/logger"

// Harden is a no-op on platforms without landlock. Containment checks,
// env filtering and timeouts still apply.
func Harden(root string, extraRW []string) error {
	logger.Debug("sandbox: landlock not available on this platform")
	return nil
}
