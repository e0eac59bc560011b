package collect

import (
	"context"
	"os/exec"
	"strings"
)

// runShort executes a small informational command and returns its trimmed
// stdout, or "" on any failure or implausibly large output.
func runShort(ctx context.Context, name string, args ...string) string {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(out))
	if v == "" || len(v) > 300 {
		return ""
	}
	return v
}
