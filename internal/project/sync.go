package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/resolve"
)

// maxBuildConcurrency bounds the number of sources fetched and built at
// once (spec.md §5): downloads are network-bound and builds may shell out
// to pip, so an unbounded fan-out risks exhausting sockets or CPU on large
// dependency sets.
const maxBuildConcurrency = 8

// buildAllSources ensures a source + pkg-build CAS object exists for every
// resolved distribution, fetching and building up to maxBuildConcurrency in
// parallel. Each distribution is independent and content-addressed, so
// results are written into a preallocated slice by index rather than
// appended, keeping the caller's ordering (lock.Resolved order, which
// materializeEnv relies on to pair built[i] with lock.Resolved[i]) stable
// regardless of completion order.
func (p *Project) buildAllSources(ctx context.Context, resolved []lockfile.Resolved, runtimeABI string) ([]string, error) {
	pkgBuildOIDs := make([]string, len(resolved))
	sem := semaphore.NewWeighted(maxBuildConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resolved {
		i, r := i, r
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			sourceOID, err := p.Build.EnsureSource(gctx, build.SourceSpec{
				Name: r.Name, Filename: r.Artifact.Filename, URL: r.Artifact.URL, SHA256: r.Artifact.SHA256,
			})
			if err != nil {
				return errors.Wrapf(err, "project: ensure source for %s", r.Name)
			}
			pkgBuildOID, err := p.Build.Build(gctx, build.BuildRequest{
				SourceOID:  sourceOID,
				RuntimeABI: runtimeABI,
				PythonPath: p.Runtime.ExePath,
				Method:     build.Default,
			})
			if err != nil {
				return errors.Wrapf(err, "project: build %s", r.Name)
			}
			pkgBuildOIDs[i] = pkgBuildOID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pkgBuildOIDs, nil
}

// SyncOptions controls one sync pass (spec.md §4.6 "sync").
type SyncOptions struct {
	// Frozen fails fast on any drift instead of re-resolving, for CI-style
	// invocations that must never silently change the lock.
	Frozen bool
	// DryRun computes what would change without writing the lock, the
	// environment, or the state file.
	DryRun bool
}

// SyncResult summarizes what a sync pass did or, for a dry run, would do.
type SyncResult struct {
	State       State
	Drift       []lockfile.DriftEntry
	LockChanged bool
	EnvChanged  bool
}

// Sync brings the project toward Consistent: re-resolving on manifest
// drift, rebuilding any missing pkg-builds, and re-materializing the
// environment when the lock or runtime has changed (spec.md §3.3, §4.6).
func (p *Project) Sync(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	var result SyncResult
	err := p.withProjectLock(func() error {
		r, err := p.sync(ctx, opts)
		result = r
		return err
	})
	return result, err
}

func (p *Project) sync(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	snap, err := p.LoadSnapshot()
	if err != nil {
		return SyncResult{}, err
	}
	if snap.Manifest == nil {
		return SyncResult{}, pxerr.New(pxerr.CodeMissingManifest, pxerr.User, "no_manifest",
			"no pyproject.toml found in this project",
			"run `px init` first")
	}

	check, err := p.EnvCheck(ctx, snap)
	if err != nil {
		return SyncResult{}, err
	}
	state := ComputeState(snap, check)
	result := SyncResult{State: state}

	if snap.Lock != nil {
		result.Drift = lockfile.DetectDrift(*snap.Manifest, *snap.Lock)
	}

	needsLock := state == NeedsLock
	if needsLock && opts.Frozen {
		return result, pxerr.New(pxerr.CodeFrozenViolation, pxerr.User, "lock_drift",
			"the lock file is out of date with pyproject.toml",
			"run `px sync` without --frozen to re-resolve, or revert your manifest change")
	}

	lock := snap.Lock
	if needsLock {
		newLock, err := p.resolveLock(ctx, *snap.Manifest, snap.Lock)
		if err != nil {
			return result, err
		}
		lock = &newLock
		result.LockChanged = true
		state = NeedsEnv
	}
	if lock == nil {
		return result, errors.New("project: internal error: no lock available after resolve step")
	}

	if opts.DryRun {
		result.State = state
		return result, nil
	}

	if result.LockChanged {
		if err := lockfile.WriteLock(p.lockFilePath(), *lock); err != nil {
			return result, err
		}
	}

	check, err = p.EnvCheck(ctx, Snapshot{Manifest: snap.Manifest, ManifestFingerprint: snap.ManifestFingerprint, Lock: lock, StateFile: snap.StateFile})
	if err != nil {
		return result, err
	}
	finalState := ComputeState(Snapshot{Manifest: snap.Manifest, ManifestFingerprint: snap.ManifestFingerprint, Lock: lock, StateFile: snap.StateFile}, check)
	if finalState == NeedsEnv {
		if err := p.materializeEnv(ctx, *lock); err != nil {
			return result, err
		}
		result.EnvChanged = true
		finalState = Consistent
		if len(lock.Dependencies) == 0 {
			finalState = InitializedEmpty
		}
	}
	result.State = finalState
	return result, nil
}

// resolveLock calls the external resolver against the manifest's direct
// specs, autopins against the prior lock's resolved pins for stability, and
// returns a finalized lock ready to write (spec.md §4.3, §4.6).
func (p *Project) resolveLock(ctx context.Context, manifest lockfile.Manifest, prevLock *lockfile.Lock) (lockfile.Lock, error) {
	env, err := resolve.DetectMarkerEnv(ctx, p.Python, p.Runtime.ExePath)
	if err != nil {
		return lockfile.Lock{}, err
	}

	needPin := make([]string, 0, len(manifest.Dependencies))
	for _, spec := range manifest.Dependencies {
		if resolve.SpecRequiresPin(spec) && resolve.MarkerApplies(spec, env) {
			needPin = append(needPin, spec)
		}
	}

	res, err := p.Resolver.Resolve(ctx, needPin, env)
	if err != nil {
		return lockfile.Lock{}, errors.Wrap(err, "project: resolve dependencies")
	}

	var existingPins []resolve.PinSpec
	if prevLock != nil {
		for _, r := range prevLock.Resolved {
			if !r.Direct {
				continue
			}
			existingPins = append(existingPins, resolve.PinSpec{
				Name: r.Name, Version: r.Version,
			})
		}
	}
	pins := resolve.Autopin(res.Pins, existingPins, satisfiesSpecifier)

	merged := resolve.MergeResolved(manifest.Dependencies, pins, env)

	deps := make([]lockfile.Dependency, 0, len(merged))
	for _, spec := range merged {
		d := lockfile.ParseSpec(spec)
		deps = append(deps, d)
	}

	lock := lockfile.Lock{
		ProjectName:         manifest.Name,
		PythonRequirement:   manifest.PythonRequirement,
		ManifestFingerprint: mustFingerprint(manifest),
		Dependencies:        deps,
		Resolved:            res.Resolved,
	}
	if err := lock.Finalize(); err != nil {
		return lockfile.Lock{}, err
	}
	return lock, nil
}

func mustFingerprint(m lockfile.Manifest) string {
	fp, _ := m.Fingerprint()
	return fp
}

// satisfiesSpecifier is a conservative stand-in for full PEP 440 specifier
// matching: exact-match only, so autopin never silently accepts a pin that
// might not actually satisfy a changed constraint. A real specifier
// comparator is an Open Question (spec.md §9); see DESIGN.md.
func satisfiesSpecifier(specifier, version string) bool {
	return specifier == version
}

// materializeEnv ensures a source + pkg-build CAS object exists for every
// resolved distribution, assembles the profile, and materializes the
// environment, recording the result in .px/state.json (spec.md §4.4, §4.5).
func (p *Project) materializeEnv(ctx context.Context, lock lockfile.Lock) error {
	runtimeABI, err := p.Python.Probe(ctx, p.Runtime.ExePath)
	if err != nil {
		return errors.Wrap(err, "project: probe runtime ABI")
	}

	built, err := p.buildAllSources(ctx, lock.Resolved, runtimeABI)
	if err != nil {
		return err
	}
	nodes := make([]materialize.DepNode, 0, len(lock.Resolved))
	names := make([]string, 0, len(lock.Resolved))
	for i, r := range lock.Resolved {
		nodes = append(nodes, materialize.DepNode{Name: lockfile.CanonicalizeName(r.Name), PkgBuildOID: built[i], Requires: r.Requires})
		names = append(names, lockfile.CanonicalizeName(r.Name))
	}

	sysPathOrder := materialize.TopoSortSysPath(nodes)
	sortedNames := dedupSorted(names)

	profileEnv, err := cas.NewProfileObject(cas.ProfileHeader{
		RuntimeOID:   p.Runtime.OID,
		Packages:     sortedNames,
		SysPathOrder: sysPathOrder,
		EnvVars:      map[string]string{},
	})
	if err != nil {
		return err
	}
	profileOID, err := p.Store.Store(ctx, profileEnv)
	if err != nil {
		return err
	}

	packages := make([]materialize.PackageBuild, 0, len(nodes))
	byOID := make(map[string]string, len(nodes))
	for _, n := range nodes {
		byOID[n.PkgBuildOID] = n.Name
	}
	for _, oid := range sysPathOrder {
		packages = append(packages, materialize.PackageBuild{Name: byOID[oid], PkgBuildOID: oid})
	}

	envDir := filepath.Join(p.EnvsRoot, profileOID)
	if err := p.Materializer.Materialize(ctx, profileOID, p.Runtime, packages, nil, p.CASRoot, envDir); err != nil {
		return err
	}

	sitePackages := materialize.SitePackagesDir(envDir, p.Runtime)
	sf := StateFile{
		CurrentEnv: &CurrentEnv{
			ID: profileOID, LockID: lock.LockID, Platform: runtimeABI,
			SitePackages: sitePackages, EnvPath: envDir, ProfileOID: profileOID,
			Python: PythonRecord{Path: p.Runtime.ExePath, Version: p.Runtime.Version},
		},
		Runtime: &RuntimeRecord{Path: p.Runtime.ExePath, Version: p.Runtime.Version},
	}
	return WriteStateFile(p.stateFilePath(), sf)
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return sortStrings(out)
}

func sortStrings(ss []string) []string {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
	return ss
}

// Add appends specs to the manifest and syncs, holding the project lock for
// both steps (spec.md §4.6 "add").
func (p *Project) Add(ctx context.Context, specs []string) (SyncResult, error) {
	var result SyncResult
	err := p.withProjectLock(func() error {
		if err := AddDependencies(p.Root, specs); err != nil {
			return err
		}
		r, err := p.sync(ctx, SyncOptions{})
		result = r
		return err
	})
	return result, err
}

// Remove drops names from the manifest and syncs, holding the project lock
// for both steps (spec.md §4.6 "remove").
func (p *Project) Remove(ctx context.Context, names []string) (SyncResult, error) {
	var result SyncResult
	err := p.withProjectLock(func() error {
		if err := RemoveDependencies(p.Root, names); err != nil {
			return err
		}
		r, err := p.sync(ctx, SyncOptions{})
		result = r
		return err
	})
	return result, err
}

// Update forces re-resolution of the given names (or everything if names is
// empty) by dropping their existing resolved pins before syncing, so
// autopin cannot keep them stuck at the old version (spec.md §4.6
// "update").
func (p *Project) Update(ctx context.Context, names []string) (SyncResult, error) {
	var result SyncResult
	err := p.withProjectLock(func() error {
		if err := p.dropPins(names); err != nil {
			return err
		}
		r, err := p.sync(ctx, SyncOptions{})
		result = r
		return err
	})
	return result, err
}

func (p *Project) dropPins(names []string) error {
	lock, err := lockfile.ReadLock(p.lockFilePath())
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[lockfile.CanonicalizeName(n)] = true
	}
	kept := lock.Resolved[:0]
	for _, r := range lock.Resolved {
		if len(drop) > 0 && !drop[lockfile.CanonicalizeName(r.Name)] {
			kept = append(kept, r)
		}
	}
	lock.Resolved = kept
	// Forcing a fingerprint mismatch against the live manifest makes the
	// next sync's ComputeState report NeedsLock, which is what drives
	// re-resolution.
	lock.ManifestFingerprint = fmt.Sprintf("stale:%s", lock.ManifestFingerprint)
	return lockfile.WriteLock(p.lockFilePath(), lock)
}
