package effects

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// pythonRuntime is the production PythonRuntime: it execs the interpreter
// directly, never a sandboxed/virtualized layer (that's the materializer's
// job to set up sys.path/env for).
type pythonRuntime struct{}

// NewPythonRuntime returns the production PythonRuntime.
func NewPythonRuntime() PythonRuntime { return pythonRuntime{} }

const probeScript = `import sys, sysconfig
tag = "cp%d%d" % (sys.version_info[0], sys.version_info[1])
abi = sysconfig.get_config_var("SOABI") or tag
plat = sysconfig.get_platform().replace("-", "_").replace(".", "_")
print("%s-%s-%s" % (tag, abi, plat))`

func (pythonRuntime) Probe(ctx context.Context, pythonPath string) (string, error) {
	cmd := exec.CommandContext(ctx, pythonPath, "-c", probeScript)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "probe %s: %s", pythonPath, strings.TrimSpace(stderr.String()))
	}
	abi := strings.TrimSpace(out.String())
	if abi == "" {
		return "", fmt.Errorf("probe %s: empty runtime_abi", pythonPath)
	}
	return abi, nil
}

func (pythonRuntime) Command(ctx context.Context, pythonPath string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, pythonPath, args...)
}
