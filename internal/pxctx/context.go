// Package pxctx assembles the capability set and path roots a px command
// needs from the process environment, the one place the env var boundary
// from spec.md §6.3 is actually read — every other package receives these
// values explicitly through constructors, never through os.Getenv itself
// (spec.md §9 "dynamic dispatch over effects").
package pxctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/effects"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/resolve"
	"github.com/px-dev/px/internal/workspace"
)

// defaultHTTPTimeout bounds a single download/index-probe attempt
// (spec.md §4.3.1).
const defaultHTTPTimeout = 30 * time.Second

// Context is the facade every px command builds once at startup and threads
// down into internal/project, internal/workspace, and internal/sandbox: the
// capability set, the CAS, the path roots, and per-invocation identity.
// One Context is constructed per command invocation, never reused as a
// process-wide singleton (spec.md §9 "thread-safe global state").
type Context struct {
	Effects effects.Set
	Store   *cas.Store

	StoreRoot  string
	CacheRoot  string
	EnvsRoot   string
	RegistryPath string

	// InvocationID identifies one command invocation for correlating its
	// logs/JSON output, grounded on the teacher's uuid.NewString() request-ID
	// pattern (cmd/invoke.go, cmd/emit.go).
	InvocationID string

	// Resolver is the external resolver capability (spec.md §4.3):
	// resolve.NullResolver when PX_RESOLVER=0 (strict manual pins only).
	Resolver resolve.Resolver

	Build        *build.Pipeline
	Materializer *materialize.Materializer

	// RuntimePython, if set (PX_RUNTIME_PYTHON), forces the interpreter for
	// this invocation, bypassing the runtime channel registry.
	RuntimePython string

	Stdout, Stderr *os.File
}

// Option overrides a default before Load reads the environment, used by
// global flags (--offline, --json, ...) that alias an env var.
type Option func(*overrides)

type overrides struct {
	forceOffline bool
}

// WithOffline forces PX_ONLINE=0 regardless of the environment, the effect
// of the --offline global flag (spec.md §6.2).
func WithOffline() Option {
	return func(o *overrides) { o.forceOffline = true }
}

// Load reads the px env var boundary (spec.md §6.3) and constructs a
// Context: path roots (with sensible OS-cache-dir defaults), the CAS store,
// the effects capability set, the build pipeline, the materializer, and the
// resolver.
func Load(ctx context.Context, opts ...Option) (*Context, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	cacheRoot, err := cacheRoot()
	if err != nil {
		return nil, err
	}
	storeRoot := envOr("PX_STORE_PATH", filepath.Join(cacheRoot, "store"))
	envsRoot := envOr("PX_ENVS_PATH", filepath.Join(cacheRoot, "envs"))
	registryPath := envOr("PX_RUNTIME_REGISTRY", filepath.Join(cacheRoot, "runtimes.json"))

	online := parseBool(os.Getenv("PX_ONLINE"), true) && !o.forceOffline

	clock := effects.NewSystemClock()
	store, err := cas.Open(storeRoot, clock)
	if err != nil {
		return nil, errors.Wrapf(err, "pxctx: open CAS store at %s", storeRoot)
	}

	var httpClient effects.HTTPClient
	if online {
		httpClient = effects.NewHTTPClient(defaultHTTPTimeout, parseBool(os.Getenv("PX_KEEP_PROXIES"), false))
	} else {
		httpClient = effects.OfflineHTTPClient{}
	}

	eff := effects.Set{
		HTTP:      httpClient,
		Python:    effects.NewPythonRuntime(),
		Container: effects.NewContainerRunner(envOr("PX_SANDBOX_BACKEND", "docker")),
		Git:       effects.NewGitClient(),
		Clock:     clock,
		Online:    online,
		Token:     os.Getenv("PX_TOKEN"),
	}

	pipeline := &build.Pipeline{
		Store:     store,
		HTTP:      eff.HTTP,
		Python:    eff.Python,
		Container: eff.Container,
		Online:    eff.Online,
	}

	var resolver resolve.Resolver
	if os.Getenv("PX_RESOLVER") == "0" {
		resolver = resolve.NullResolver{}
	} else {
		resolver = resolve.NewPyPIResolver(eff.HTTP)
	}

	return &Context{
		Effects:      eff,
		Store:        store,
		StoreRoot:    storeRoot,
		CacheRoot:    cacheRoot,
		EnvsRoot:     envsRoot,
		RegistryPath: registryPath,
		InvocationID: uuid.NewString(),
		Resolver:     resolver,
		Build:        pipeline,
		Materializer: &materialize.Materializer{Store: store},
		RuntimePython: os.Getenv("PX_RUNTIME_PYTHON"),
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}, nil
}

// Close releases the CAS index handle.
func (c *Context) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// NewProject wires a project.Project rooted at root, using the interpreter
// from PX_RUNTIME_PYTHON or else the host "python3", probing its
// version/ABI once and looking that version up in the runtime registry for
// its oid.
func (c *Context) NewProject(ctx context.Context, root string) (*project.Project, error) {
	rt, err := c.resolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return &project.Project{
		Root:         root,
		Store:        c.Store,
		Resolver:     c.Resolver,
		Python:       c.Effects.Python,
		Build:        c.Build,
		Materializer: c.Materializer,
		CASRoot:      c.StoreRoot,
		CacheRoot:    c.CacheRoot,
		EnvsRoot:     c.EnvsRoot,
		Clock:        c.Effects.Clock,
		Runtime:      rt,
	}, nil
}

// NewWorkspace wires a workspace.Workspace rooted at root (as found by
// workspace.DiscoverRoot), threading the same capability set NewProject
// does.
func (c *Context) NewWorkspace(ctx context.Context, root string) (*workspace.Workspace, error) {
	rt, err := c.resolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	w, err := workspace.Load(root)
	if err != nil {
		return nil, err
	}
	w.Store = c.Store
	w.Resolver = c.Resolver
	w.Python = c.Effects.Python
	w.Build = c.Build
	w.Materializer = c.Materializer
	w.CASRoot = c.StoreRoot
	w.EnvsRoot = c.EnvsRoot
	w.Runtime = rt
	return w, nil
}

// resolveRuntime picks the interpreter for this invocation: PX_RUNTIME_PYTHON
// overrides everything, otherwise fall back to "python3" on PATH; a
// project's [tool.px].python override is not consulted. The resolved version
// is then looked up in the runtime channel registry (spec.md §4.9) to
// recover the runtime CAS object's oid materialize needs; a version with no
// registered channel yields an empty oid, returned without an error.
func (c *Context) resolveRuntime(ctx context.Context) (materialize.RuntimeInfo, error) {
	exe := c.RuntimePython
	if exe == "" {
		exe = "python3"
	}
	abi, err := c.Effects.Python.Probe(ctx, exe)
	if err != nil {
		return materialize.RuntimeInfo{}, errors.Wrapf(err, "pxctx: probe interpreter %s", exe)
	}
	version := pythonVersionFromABI(abi)

	reg, err := project.LoadRuntimeRegistry(c.RegistryPath)
	if err != nil {
		return materialize.RuntimeInfo{}, err
	}
	if ch, ok := reg.Channels[version]; ok {
		return materialize.RuntimeInfo{OID: ch.OID, Version: version, ExePath: exe}, nil
	}
	return materialize.RuntimeInfo{Version: version, ExePath: exe}, nil
}

// pythonVersionFromABI extracts "3.11"-style version out of a runtime_abi
// string of the form "cp311-cp311-linux_x86_64".
func pythonVersionFromABI(abi string) string {
	tag := strings.SplitN(abi, "-", 2)[0]
	tag = strings.TrimPrefix(tag, "cp")
	if len(tag) < 2 {
		return tag
	}
	return fmt.Sprintf("%c.%s", tag[0], tag[1:])
}

func cacheRoot() (string, error) {
	if v := os.Getenv("PX_CACHE_PATH"); v != "" {
		return v, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "pxctx: determine user cache dir")
	}
	return filepath.Join(base, "px"), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseBool mirrors spec.md §6.3's PX_ONLINE rule: "1" allows, any of
// "0"/"false"/"no"/"off"/empty disallows; unset falls back to def.
func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return def
	}
}
