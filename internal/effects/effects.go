// Package effects defines the capability boundary between the pure px core
// and the outside world: filesystem, HTTP, the Python runtime, git, and the
// cache/store locations. Per spec.md §9's "dynamic dispatch over effects"
// design note, this is expressed as a capability set threaded through
// constructors rather than read from ambient globals, generalizing the
// teacher's per-concern Builder/Pusher/Deployer/Runner interfaces into one
// struct assembled once per command invocation.
package effects

import (
	"context"
	"io"
	"net/http"
	"os/exec"
)

// HTTPClient fetches artifacts with streaming verification. The concrete
// implementation wraps *http.Client; tests substitute a fake that serves
// canned bodies without touching the network.
type HTTPClient interface {
	// Get streams the body at url. The caller must Close the reader.
	Get(ctx context.Context, url string) (*http.Response, error)
}

// PythonRuntime execs a Python interpreter, either to probe its ABI tags or
// to run the user's target.
type PythonRuntime interface {
	// Probe returns "{python_tag}-{abi_tag}-{platform_tag}" for the
	// interpreter at path.
	Probe(ctx context.Context, pythonPath string) (runtimeABI string, err error)
	// Command returns an *exec.Cmd for invoking pythonPath with args,
	// ready for the caller to set Env/Dir/Stdio and Run/Start.
	Command(ctx context.Context, pythonPath string, args ...string) *exec.Cmd
}

// ContainerRunner runs a containerized build step (the build pipeline's
// fallback builder, spec.md §4.5 step 3). A no-op/fake implementation backs
// unit tests; the real one shells out to a container engine.
type ContainerRunner interface {
	Run(ctx context.Context, image string, mounts []Mount, args []string, stdout, stderr io.Writer) error
}

// Mount is one bind mount for a containerized build.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// GitClient clones a pinned commit of a repository into dst.
type GitClient interface {
	CloneAt(ctx context.Context, locator, commit, subdir, dst string) error
}

// Clock is injected so deterministic code paths (GC grace windows, cache
// timestamps) are testable without wall-clock flakiness. Canonical
// archives/objects never call Clock — only operational bookkeeping
// (last_accessed, created_at) does.
type Clock interface {
	Now() int64 // unix seconds
}

// Set is the full capability set assembled once per command invocation and
// threaded explicitly through every constructor that needs it.
type Set struct {
	HTTP      HTTPClient
	Python    PythonRuntime
	Container ContainerRunner
	Git       GitClient
	Clock     Clock

	// Online mirrors PX_ONLINE (spec.md §6.3). When it is false,
	// internal/pxctx installs OfflineHTTPClient, which refuses every request
	// without a network attempt; the Container and Git clients are
	// constructed the same either way and do not consult it.
	Online bool

	// Token is the single bearer credential read from the environment for
	// authenticated index/registry access (spec.md §1 non-goals: no broader
	// auth/signing than this).
	Token string
}
