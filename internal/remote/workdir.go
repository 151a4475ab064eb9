package remote

import (
	"context"
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

const makeWorkDirCommand = `d=$(mktemp -d "${TMPDIR:-/tmp}/kubehop.XXXXXXXXXX") && chmod 700 "$d" && printf '%s\n' "$d"`

// MakeWorkDir creates a fresh mode-700 directory on the node and returns
// its absolute path.
func MakeWorkDir(ctx context.Context, r Runner) (string, error) {
	out, err := r.Run(ctx, makeWorkDirCommand)
	if err != nil {
		return "", fmt.Errorf("failed to create work dir on %s: %w", r.Host(), err)
	}
	if !out.Success() {
		return "", fmt.Errorf("failed to create work dir on %s: exit %d: %s",
			r.Host(), out.ExitCode, strings.TrimSpace(out.Stderr))
	}

	dir := strings.TrimSpace(out.Stdout)
	if !workDirPattern.MatchString(dir) {
		return "", &ProtocolViolationError{Host: r.Host(), Detail: fmt.Sprintf("unexpected work dir %q", dir)}
	}
	return dir, nil
}

// RemoveDir deletes dir on the node with elevated privileges, since jobs
// may leave root-owned files behind.
func RemoveDir(ctx context.Context, r Runner, dir string) error {
	if !workDirPattern.MatchString(dir) {
		return fmt.Errorf("refusing to remove %q on %s", dir, r.Host())
	}
	out, err := r.Run(ctx, r.Elevate("rm -rf -- "+shellescape.Quote(dir)))
	if err != nil {
		return err
	}
	if !out.Success() {
		return fmt.Errorf("rm %s on %s exited with code %d: %s",
			dir, r.Host(), out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}

// LogTail returns the last n non-empty lines of a job log.
func LogTail(log string, n int) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			kept = append(kept, lines[i])
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
