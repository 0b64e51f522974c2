package project

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/effects"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/resolve"
)

// Project wires together the capabilities a single project's commands need:
// the CAS, an external resolver, a Python runtime to probe/exec, the build
// pipeline (to turn resolved artifacts into pkg-build objects), and the
// environment materializer. One Project is constructed per command
// invocation, rooted at the project directory (spec.md §2's dependency
// order: project depends on materialize + resolve, and — for turning a
// freshly resolved lock into built packages — on build; see DESIGN.md).
type Project struct {
	Root         string
	Store        *cas.Store
	Resolver     resolve.Resolver
	Python       effects.PythonRuntime
	Build        *build.Pipeline
	Materializer *materialize.Materializer
	CASRoot      string
	CacheRoot    string
	EnvsRoot     string // root under which <profile_oid> env dirs are created
	Clock        effects.Clock

	// Runtime is the interpreter this project resolves/builds/runs
	// against, selected by the caller from the runtime channel registry
	// (spec.md §4.9) or PX_RUNTIME_PYTHON.
	Runtime materialize.RuntimeInfo
}

func (p *Project) manifestFilePath() string { return manifestPath(p.Root) }
func (p *Project) lockFilePath() string     { return filepath.Join(p.Root, "px.lock") }
func (p *Project) stateFilePath() string    { return filepath.Join(p.Root, ".px", "state.json") }

// LoadSnapshot reads the manifest, lock, and state file currently on disk.
// A missing manifest is not an error: it yields a zero Snapshot, the
// defining condition of Uninitialized.
func (p *Project) LoadSnapshot() (Snapshot, error) {
	manifest, err := LoadManifest(p.Root)
	if errors.Is(err, ErrNoManifest) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	fp, err := manifest.Fingerprint()
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "project: compute manifest fingerprint")
	}
	snap := Snapshot{Manifest: &manifest, ManifestFingerprint: fp}

	if _, err := os.Stat(p.lockFilePath()); err == nil {
		lock, err := lockfile.ReadLock(p.lockFilePath())
		if err != nil {
			return snap, err
		}
		snap.Lock = &lock
	} else if !os.IsNotExist(err) {
		return snap, errors.Wrapf(err, "project: stat %s", p.lockFilePath())
	}

	sf, err := ReadStateFile(p.stateFilePath())
	if err != nil {
		return snap, err
	}
	snap.StateFile = sf
	return snap, nil
}

// EnvCheck gathers the live facts ComputeState needs: the detected
// interpreter version, whether the recorded site-packages path exists, and
// whether every CAS object the recorded profile needs is still present.
func (p *Project) EnvCheck(ctx context.Context, snap Snapshot) (EnvCheck, error) {
	var check EnvCheck
	if p.Runtime.Version != "" {
		check.DetectedPythonVersion = p.Runtime.Version
	}
	if snap.StateFile == nil || snap.StateFile.CurrentEnv == nil {
		return check, nil
	}
	ce := snap.StateFile.CurrentEnv
	if _, err := os.Stat(ce.SitePackages); err == nil {
		check.SitePackagesExists = true
	}
	present := true
	if ce.ProfileOID != "" {
		ok, err := p.Store.Has(ctx, ce.ProfileOID)
		if err != nil {
			return check, err
		}
		present = ok
	}
	check.ProfileObjectsPresent = present
	return check, nil
}

// State computes the project's current canonical state.
func (p *Project) State(ctx context.Context) (State, Snapshot, error) {
	snap, err := p.LoadSnapshot()
	if err != nil {
		return Uninitialized, snap, err
	}
	check, err := p.EnvCheck(ctx, snap)
	if err != nil {
		return Uninitialized, snap, err
	}
	return ComputeState(snap, check), snap, nil
}
