package project

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/pxerr"
)

// RunOptions controls how run/test/fmt auto-sync before exec'ing into the
// project's environment (spec.md §4.6 "run/test/fmt auto-sync", §7).
type RunOptions struct {
	Frozen bool
}

// ensureConsistent auto-syncs the project unless it's already Consistent,
// refusing instead when the only way forward is a reason auto-sync isn't
// allowed to catch (spec.md §7's AutoSyncable set) or --frozen was passed.
func (p *Project) ensureConsistent(ctx context.Context, opts RunOptions) (Snapshot, error) {
	state, snap, err := p.State(ctx)
	if err != nil {
		return snap, err
	}
	if state == Consistent || state == InitializedEmpty {
		return snap, nil
	}

	check, err := p.EnvCheck(ctx, snap)
	if err != nil {
		return snap, err
	}
	reason := ReasonFor(state, snap, check)
	if !pxerr.AutoSyncable[string(reason)] {
		return snap, pxerr.New(pxerr.CodeManifestDrift, pxerr.User, string(reason),
			"the project is not in a runnable state and cannot be auto-synced",
			"run `px sync` to diagnose and fix it")
	}
	if opts.Frozen {
		return snap, pxerr.New(pxerr.CodeFrozenViolation, pxerr.User, string(reason),
			"the project needs a sync but --frozen forbids auto-sync",
			"run `px sync` without --frozen first")
	}

	if _, err := p.Sync(ctx, SyncOptions{}); err != nil {
		return snap, err
	}
	_, snap, err = p.State(ctx)
	return snap, err
}

// Run auto-syncs (unless already Consistent, or refused per ensureConsistent)
// then execs argv[0] with argv[1:] inside the materialized environment,
// returning the target's exit code (spec.md §6.2).
func (p *Project) Run(ctx context.Context, opts RunOptions, argv []string) (int, error) {
	snap, err := p.ensureConsistent(ctx, opts)
	if err != nil {
		return 1, err
	}
	if len(argv) == 0 {
		return 1, errors.New("project: run requires a command")
	}
	return p.exec(ctx, snap, argv[0], argv[1:])
}

// Test runs every declared [tool.px.test] command in order, each inside its
// own ToolEnv's interpreter, never the project's own environment (spec.md
// §4.6.1), and returns the last non-zero exit code (0 if all succeed).
func (p *Project) Test(ctx context.Context, opts RunOptions, extraArgs []string) (int, error) {
	return p.runQualityTool(ctx, opts, "test", extraArgs)
}

// Fmt runs every declared [tool.px.fmt] command the same way Test does.
func (p *Project) Fmt(ctx context.Context, opts RunOptions, extraArgs []string) (int, error) {
	return p.runQualityTool(ctx, opts, "fmt", extraArgs)
}

func (p *Project) runQualityTool(ctx context.Context, opts RunOptions, kind string, extraArgs []string) (int, error) {
	if _, err := p.ensureConsistent(ctx, opts); err != nil {
		return 1, err
	}
	raw, err := readRawPyproject(p.Root)
	if err != nil {
		return 1, err
	}
	var commands []QualityToolCommand
	switch kind {
	case "test":
		commands = raw.Tool.Px.Test.Commands
	case "fmt":
		commands = raw.Tool.Px.Fmt.Commands
	}
	if len(commands) == 0 {
		return 1, errors.Errorf("project: no [tool.px.%s] commands declared", kind)
	}

	code := 0
	for _, c := range commands {
		toolExe, err := p.ensureToolEnv(ctx, c.Requirement)
		if err != nil {
			return 1, err
		}
		args := append([]string{"-m", c.Module}, c.Args...)
		args = append(args, extraArgs...)
		rc, err := p.execWith(ctx, toolExe, args)
		if err != nil {
			return rc, err
		}
		if rc != 0 {
			code = rc
		}
	}
	return code, nil
}

// exec runs name with args inside the materialized environment's interpreter,
// wiring PYTHONPATH and PYTHONPYCACHEPREFIX, and translates a signal-killed
// child into a 128+N exit code on Unix (spec.md §6.2).
func (p *Project) exec(ctx context.Context, snap Snapshot, name string, args []string) (int, error) {
	pluginImports := []string(nil)
	if snap.Manifest != nil {
		pluginImports = snap.Manifest.Options.PluginImports
	}
	pythonPath := materialize.PythonPath(p.Root, pluginImports)

	var profileOID string
	if snap.StateFile != nil && snap.StateFile.CurrentEnv != nil {
		profileOID = snap.StateFile.CurrentEnv.ProfileOID
	}
	pycachePrefix, err := materialize.PycachePrefix(p.CacheRoot, profileOID)
	if err != nil {
		return 1, err
	}
	return p.runCmd(ctx, name, args, "PYTHONPATH="+pythonPath, "PYTHONPYCACHEPREFIX="+pycachePrefix)
}

// execWith runs a ToolEnv's own interpreter directly, with none of the
// project's own PYTHONPATH/PYTHONPYCACHEPREFIX wiring: the ToolEnv is a
// self-contained environment, not an extension of the project's (spec.md
// §4.6.1).
func (p *Project) execWith(ctx context.Context, exePath string, args []string) (int, error) {
	return p.runCmd(ctx, exePath, args)
}

func (p *Project) runCmd(ctx context.Context, name string, args []string, extraEnv ...string) (int, error) {
	cmd := p.Python.Command(ctx, name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 1, errors.Wrap(err, "project: exec")
}
