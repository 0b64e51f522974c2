package effects

import (
	"context"
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// execContainerRunner is the production ContainerRunner: it shells out to
// whatever OCI-compatible CLI PX_SANDBOX_BACKEND names (default "docker"),
// mirroring the build pipeline's "run a containerized builder image"
// contract (spec.md §4.5 step 3) — the container never mounts host apt
// caches or the user's home, only the explicit mounts passed in.
type execContainerRunner struct {
	backend string // e.g. "docker", "podman"
}

// NewContainerRunner returns the production ContainerRunner using the given
// backend binary name (PX_SANDBOX_BACKEND, default "docker").
func NewContainerRunner(backend string) ContainerRunner {
	if backend == "" {
		backend = "docker"
	}
	return execContainerRunner{backend: backend}
}

func (r execContainerRunner) Run(ctx context.Context, image string, mounts []Mount, args []string, stdout, stderr io.Writer) error {
	cmdArgs := []string{"run", "--rm"}
	for _, m := range mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		cmdArgs = append(cmdArgs, "-v", m.HostPath+":"+m.ContainerPath+":"+mode)
	}
	cmdArgs = append(cmdArgs, image)
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, r.backend, cmdArgs...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s run %s", r.backend, image)
	}
	return nil
}
