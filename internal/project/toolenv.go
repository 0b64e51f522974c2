package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/build"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/lockfile"
	"github.com/px-dev/px/internal/materialize"
	"github.com/px-dev/px/internal/resolve"
)

// ensureToolEnv materializes (or reuses) a CAS-backed environment for a
// quality tool's declared requirement, keyed by a stable hash of the
// requirement string and stored outside any project's own profile
// (spec.md §4.6.1, SPEC_FULL §4.10 "ToolEnv"). It returns the path to that
// environment's own interpreter launcher, which fmt/test exec instead of
// the project's p.Runtime.ExePath — isolating a quality tool's own
// dependency graph from the project's.
func (p *Project) ensureToolEnv(ctx context.Context, requirement string) (exePath string, err error) {
	envDir := filepath.Join(p.CacheRoot, "toolenvs", toolEnvKey(requirement))
	exePath = filepath.Join(envDir, "bin", "python")
	if _, err := os.Stat(filepath.Join(envDir, "manifest.json")); err == nil {
		return exePath, nil
	}

	env, err := resolve.DetectMarkerEnv(ctx, p.Python, p.Runtime.ExePath)
	if err != nil {
		return "", err
	}
	res, err := p.Resolver.Resolve(ctx, []string{requirement}, env)
	if err != nil {
		return "", errors.Wrapf(err, "project: resolve tool requirement %q", requirement)
	}

	runtimeABI, err := p.Python.Probe(ctx, p.Runtime.ExePath)
	if err != nil {
		return "", errors.Wrap(err, "project: probe runtime ABI")
	}

	nodes := make([]materialize.DepNode, 0, len(res.Resolved))
	names := make([]string, 0, len(res.Resolved))
	for _, r := range res.Resolved {
		sourceOID, err := p.Build.EnsureSource(ctx, build.SourceSpec{
			Name: r.Name, Filename: r.Artifact.Filename, URL: r.Artifact.URL, SHA256: r.Artifact.SHA256,
		})
		if err != nil {
			return "", errors.Wrapf(err, "project: ensure tool source for %s", r.Name)
		}
		pkgBuildOID, err := p.Build.Build(ctx, build.BuildRequest{
			SourceOID: sourceOID, RuntimeABI: runtimeABI, PythonPath: p.Runtime.ExePath, Method: build.Default,
		})
		if err != nil {
			return "", errors.Wrapf(err, "project: build tool package %s", r.Name)
		}
		name := lockfile.CanonicalizeName(r.Name)
		nodes = append(nodes, materialize.DepNode{Name: name, PkgBuildOID: pkgBuildOID, Requires: r.Requires})
		names = append(names, name)
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
		return "", err
	}
	profileOID, err := p.Store.Store(ctx, profileEnv)
	if err != nil {
		return "", err
	}

	byOID := make(map[string]string, len(nodes))
	for _, n := range nodes {
		byOID[n.PkgBuildOID] = n.Name
	}
	packages := make([]materialize.PackageBuild, 0, len(nodes))
	for _, oid := range sysPathOrder {
		packages = append(packages, materialize.PackageBuild{Name: byOID[oid], PkgBuildOID: oid})
	}

	if err := p.Materializer.Materialize(ctx, profileOID, p.Runtime, packages, nil, p.CASRoot, envDir); err != nil {
		return "", errors.Wrapf(err, "project: materialize tool environment for %q", requirement)
	}
	return exePath, nil
}

// EnsureToolEnv exposes ensureToolEnv to internal/cli's `tool` command
// group, which manages ToolEnvs directly rather than through a quality
// tool's configured [tool.px.fmt]/[tool.px.test] command.
func (p *Project) EnsureToolEnv(ctx context.Context, requirement string) (string, error) {
	return p.ensureToolEnv(ctx, requirement)
}

// ToolEnvDir returns a requirement's ToolEnv directory under cacheRoot
// without materializing it, for `tool list`/`tool remove`.
func ToolEnvDir(cacheRoot, requirement string) string {
	return filepath.Join(cacheRoot, "toolenvs", toolEnvKey(requirement))
}

// toolEnvKey derives the ToolEnv's cache directory name from its declared
// requirement string so identical requirements across commands (and across
// runs) share one materialized environment.
func toolEnvKey(requirement string) string {
	sum := sha256.Sum256([]byte(requirement))
	return hex.EncodeToString(sum[:])[:16]
}
