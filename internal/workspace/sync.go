package workspace

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/resolve"
)

// SyncResult summarizes one workspace sync pass.
type SyncResult struct {
	LockChanged bool
	EnvChanged  bool
	Members     []string
}

// Sync resolves every member against the shared marker environment, unions
// their resolved sets into one profile, and materializes a single
// WorkspaceEnv from it, writing px.workspace.lock and
// .px/workspace-state.json (spec.md §4.7).
func (w *Workspace) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	env, err := resolve.DetectMarkerEnv(ctx, w.Python, w.Runtime.ExePath)
	if err != nil {
		return result, err
	}

	memberLocks := make([]lockfile.WorkspaceMember, 0, len(w.Members))
	union := make(map[string]lockfile.Resolved)
	var unionOrder []string

	for _, m := range w.Members {
		fp, err := m.Manifest.Fingerprint()
		if err != nil {
			return result, errors.Wrapf(err, "workspace: fingerprint member %s", m.Path)
		}

		needPin := make([]string, 0, len(m.Manifest.Dependencies))
		for _, spec := range m.Manifest.Dependencies {
			if resolve.SpecRequiresPin(spec) && resolve.MarkerApplies(spec, env) {
				needPin = append(needPin, spec)
			}
		}
		res, err := w.Resolver.Resolve(ctx, needPin, env)
		if err != nil {
			return result, errors.Wrapf(err, "workspace: resolve member %s", m.Path)
		}

		memberLocks = append(memberLocks, lockfile.WorkspaceMember{
			Path:        m.Path,
			Fingerprint: fp,
			Resolved:    res.Resolved,
		})

		for _, r := range res.Resolved {
			key := lockfile.CanonicalizeName(r.Name)
			if existing, ok := union[key]; ok && existing.Version != r.Version {
				return result, pxerr.New(pxerr.CodeWorkspaceConflict, pxerr.User, "resolved_version_conflict",
					"workspace members resolved "+r.Name+" to conflicting versions ("+existing.Version+" vs "+r.Version+")",
					"pin "+r.Name+" to the same version across every member, or drop the conflicting dependency from one of them")
			}
			if _, ok := union[key]; !ok {
				unionOrder = append(unionOrder, key)
			}
			union[key] = r
		}
	}

	newLock := lockfile.WorkspaceLock{
		Lock: lockfile.Lock{
			ProjectName:       "",
			PythonRequirement: w.PythonRequirement,
		},
		Workspace: lockfile.WorkspaceSection{Members: memberLocks},
	}
	ownerID, err := newLock.OwnerID()
	if err != nil {
		return result, err
	}

	prevLock, err := w.LoadLock()
	if err != nil {
		return result, err
	}
	prevOwnerID := ""
	if prevLock != nil {
		prevOwnerID, _ = prevLock.OwnerID()
	}
	result.LockChanged = prevLock == nil || prevOwnerID != ownerID

	if result.LockChanged {
		if err := lockfile.WriteWorkspaceLock(lockFilePath(w.Root), newLock); err != nil {
			return result, err
		}
	}

	state, err := w.LoadState()
	if err != nil {
		return result, err
	}
	needsEnv := state == nil || state.CurrentEnv == nil || result.LockChanged
	if !needsEnv {
		if present, err := w.Store.Has(ctx, state.CurrentEnv.ProfileOID); err != nil {
			return result, err
		} else if !present {
			needsEnv = true
		}
	}

	for _, p := range w.Members {
		result.Members = append(result.Members, p.Path)
	}
	if !needsEnv {
		return result, nil
	}

	resolvedUnion := make([]lockfile.Resolved, len(unionOrder))
	for i, key := range unionOrder {
		resolvedUnion[i] = union[key]
	}
	if err := w.materializeEnv(ctx, resolvedUnion); err != nil {
		return result, err
	}
	result.EnvChanged = true
	return result, nil
}

// materializeEnv ensures a source + pkg-build object exists for every
// resolved distribution in the union, assembles one profile, and
// materializes the single WorkspaceEnv from it (spec.md §4.4, §4.5, §4.7).
func (w *Workspace) materializeEnv(ctx context.Context, resolvedUnion []lockfile.Resolved) error {
	runtimeABI, err := w.Python.Probe(ctx, w.Runtime.ExePath)
	if err != nil {
		return errors.Wrap(err, "workspace: probe runtime ABI")
	}

	nodes := make([]materialize.DepNode, 0, len(resolvedUnion))
	names := make([]string, 0, len(resolvedUnion))
	for _, r := range resolvedUnion {
		sourceOID, err := w.Build.EnsureSource(ctx, build.SourceSpec{
			Name: r.Name, Filename: r.Artifact.Filename, URL: r.Artifact.URL, SHA256: r.Artifact.SHA256,
		})
		if err != nil {
			return errors.Wrapf(err, "workspace: ensure source for %s", r.Name)
		}
		pkgBuildOID, err := w.Build.Build(ctx, build.BuildRequest{
			SourceOID:  sourceOID,
			RuntimeABI: runtimeABI,
			PythonPath: w.Runtime.ExePath,
			Method:     build.Default,
		})
		if err != nil {
			return errors.Wrapf(err, "workspace: build %s", r.Name)
		}
		name := lockfile.CanonicalizeName(r.Name)
		nodes = append(nodes, materialize.DepNode{Name: name, PkgBuildOID: pkgBuildOID, Requires: r.Requires})
		names = append(names, name)
	}

	sysPathOrder := materialize.TopoSortSysPath(nodes)

	profileEnv, err := cas.NewProfileObject(cas.ProfileHeader{
		RuntimeOID:   w.Runtime.OID,
		Packages:     dedupSortedNames(names),
		SysPathOrder: sysPathOrder,
		EnvVars:      map[string]string{},
	})
	if err != nil {
		return err
	}
	profileOID, err := w.Store.Store(ctx, profileEnv)
	if err != nil {
		return err
	}

	byOID := make(map[string]string, len(nodes))
	for _, n := range nodes {
		byOID[n.PkgBuildOID] = n.Name
	}
	packages := make([]materialize.PackageBuild, 0, len(nodes))
	for _, oid := range sysPathOrder {
		packages = append(packages, materialize.PackageBuild{Name: byOID[oid], PkgBuildOID: oid})
	}

	envDir := filepath.Join(w.EnvsRoot, profileOID)
	if err := w.Materializer.Materialize(ctx, profileOID, w.Runtime, packages, nil, w.CASRoot, envDir); err != nil {
		return err
	}

	sitePackages := materialize.SitePackagesDir(envDir, w.Runtime)
	sf := project.StateFile{
		CurrentEnv: &project.CurrentEnv{
			ID: profileOID, Platform: runtimeABI,
			SitePackages: sitePackages, EnvPath: envDir, ProfileOID: profileOID,
			Python: project.PythonRecord{Path: w.Runtime.ExePath, Version: w.Runtime.Version},
		},
		Runtime: &project.RuntimeRecord{Path: w.Runtime.ExePath, Version: w.Runtime.Version},
	}
	return project.WriteStateFile(stateFilePath(w.Root), sf)
}

func dedupSortedNames(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
