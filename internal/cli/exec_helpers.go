package cli

import (
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// exitCodeOf extracts a child process's exit code from exec.Cmd.Run's
// error, mirroring internal/project/run.go's runCmd signal handling: a
// nil error is 0, a signaled process is 128+signal, anything else is the
// process's own exit code or 1 for a non-exec error (couldn't start, etc).
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

func itoa(n int) string { return strconv.Itoa(n) }

func join(ss []string) string {
	if len(ss) == 0 {
		return "(none)"
	}
	return strings.Join(ss, ", ")
}
