// Package workspace aggregates multiple member projects under one root
// manifest into a single materialized environment (spec.md §4.7): a
// workspace declares members = [<relative paths>] under
// [tool.px.workspace], every member must agree on requires-python unless
// the workspace manifest overrides it, and the union of members' resolved
// dependency sets is materialized once, behind one CAS owner (WorkspaceEnv)
// rather than one per member.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/effects"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/resolve"
)

// Member is one workspace member, loaded from its own pyproject.toml.
type Member struct {
	Path     string // relative to the workspace root
	Root     string // absolute
	Manifest lockfile.Manifest
}

// Workspace wires together every declared member behind one CAS owner
// (WorkspaceEnv).
type Workspace struct {
	Root    string
	Members []Member

	// PythonRequirement is the workspace's unified requires-python, either
	// from [tool.px.workspace].python or (when that's unset) every
	// member's own requires-python, which must agree.
	PythonRequirement string

	Store        *cas.Store
	Resolver     resolve.Resolver
	Python       effects.PythonRuntime
	Build        *build.Pipeline
	Materializer *materialize.Materializer
	CASRoot      string
	EnvsRoot     string

	// Runtime is the interpreter the workspace resolves/builds/runs
	// against, selected the same way a single project's is (spec.md §4.9).
	Runtime materialize.RuntimeInfo
}

func lockFilePath(root string) string  { return filepath.Join(root, "px.workspace.lock") }
func stateFilePath(root string) string { return filepath.Join(root, ".px", "workspace-state.json") }

// DiscoverRoot walks upward from start looking for a pyproject.toml whose
// [tool.px.workspace] table declares at least one member: running a command
// inside a member directory must still find and use the enclosing
// workspace's lock and owner (spec.md §4.7).
func DiscoverRoot(start string) (root string, ok bool, err error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false, err
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, "pyproject.toml")); statErr == nil {
			cfg, err := project.LoadWorkspaceConfig(dir)
			if err != nil {
				return "", false, err
			}
			if len(cfg.Members) > 0 {
				return dir, true, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load reads root's declared members, loads each member's manifest, and
// enforces the requires-python agreement rule.
func Load(root string) (*Workspace, error) {
	cfg, err := project.LoadWorkspaceConfig(root)
	if err != nil {
		return nil, err
	}
	if len(cfg.Members) == 0 {
		return nil, pxerr.New(pxerr.CodeMissingManifest, pxerr.User, "no_workspace_members",
			fmt.Sprintf("no [tool.px.workspace] members declared at %s", root),
			`add members = ["path/to/member", ...] under [tool.px.workspace]`)
	}

	w := &Workspace{Root: root, PythonRequirement: cfg.Python}
	var agreed string
	for _, rel := range cfg.Members {
		memberRoot := filepath.Join(root, rel)
		manifest, err := project.LoadManifest(memberRoot)
		if err != nil {
			return nil, errors.Wrapf(err, "workspace: load member %s", rel)
		}
		if cfg.Python == "" {
			switch {
			case agreed == "":
				agreed = manifest.PythonRequirement
			case agreed != manifest.PythonRequirement:
				return nil, pxerr.New(pxerr.CodeWorkspaceConflict, pxerr.User, "requires_python_disagreement",
					fmt.Sprintf("workspace members disagree on requires-python (%q vs %q for %s)", agreed, manifest.PythonRequirement, rel),
					"set [tool.px.workspace].python to force one requirement, or align every member's requires-python")
			}
		}
		w.Members = append(w.Members, Member{Path: rel, Root: memberRoot, Manifest: manifest})
	}
	if w.PythonRequirement == "" {
		w.PythonRequirement = agreed
	}
	return w, nil
}

// memberFingerprints returns each member's manifest fingerprint, in the same
// order as w.Members, for composing the workspace lock's owner id.
func (w *Workspace) memberFingerprints() ([]string, error) {
	out := make([]string, len(w.Members))
	for i, m := range w.Members {
		fp, err := m.Manifest.Fingerprint()
		if err != nil {
			return nil, errors.Wrapf(err, "workspace: fingerprint member %s", m.Path)
		}
		out[i] = fp
	}
	return out, nil
}

// LoadLock reads the existing px.workspace.lock, if any.
func (w *Workspace) LoadLock() (*lockfile.WorkspaceLock, error) {
	if _, err := os.Stat(lockFilePath(w.Root)); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	lock, err := lockfile.ReadWorkspaceLock(lockFilePath(w.Root))
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// LoadState reads the existing .px/workspace-state.json, if any, reusing
// internal/project's StateFile shape: a WorkspaceEnv records the same
// current_env/runtime facts a ProjectEnv does (spec.md §6.1).
func (w *Workspace) LoadState() (*project.StateFile, error) {
	return project.ReadStateFile(stateFilePath(w.Root))
}
