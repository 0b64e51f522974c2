// Package materialize builds a runnable Python environment from a lock's
// resolved package set without copying CAS blobs: a pyvenv.cfg, a px.pth
// referencing materialized-pkg-builds directories in dependency order,
// console-script shims, and a manifest.json recording the provenance oids
// (spec.md §4.4).
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
	"github.com/px-dev/px/internal/cas"
)

// RuntimeInfo identifies the Python runtime backing an environment.
type RuntimeInfo struct {
	OID        string
	Version    string // "3.11.7"
	ExePath    string // the real interpreter executable inside materialized-runtimes/<oid>
}

// pythonXY returns "3.11"-style short version used in lib/python<M.m>.
func (r RuntimeInfo) pythonXY() string {
	parts := strings.SplitN(r.Version, ".", 3)
	if len(parts) < 2 {
		return r.Version
	}
	return parts[0] + "." + parts[1]
}

// SitePackagesDir returns the path to an environment's site-packages
// directory, the layout writePthFile populates and callers record in
// .px/state.json's current_env.site_packages.
func SitePackagesDir(dst string, rt RuntimeInfo) string {
	return filepath.Join(dst, "lib", "python"+rt.pythonXY(), "site-packages")
}

// PackageBuild is one resolved distribution's pkg-build entry, in final
// sys_path_order.
type PackageBuild struct {
	Name        string
	PkgBuildOID string
}

// Manifest is manifest.json's shape: the profile oid, runtime oid, and
// package oids for audit and rebuild.
type Manifest struct {
	ProfileOID string   `json:"profile_oid"`
	RuntimeOID string   `json:"runtime_oid"`
	PackageOIDs []string `json:"package_oids"`
}

// Materializer assembles env directories against a CAS store.
type Materializer struct {
	Store *cas.Store
}

// Materialize builds the environment for profileOID under dst
// (".px/envs/<profile_oid>" or the CAS envs root), materializing the
// runtime and every package build as needed and writing pyvenv.cfg, the
// px.pth file, console-script shims, sitecustomize.py, and manifest.json.
func (m *Materializer) Materialize(ctx context.Context, profileOID string, rt RuntimeInfo, packages []PackageBuild, envVars map[string]string, casRoot, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrapf(err, "materialize: mkdir %s", dst)
	}

	runtimeDir := filepath.Join(casRoot, "materialized-runtimes", rt.OID)
	if _, err := os.Stat(runtimeDir); os.IsNotExist(err) {
		if err := m.Store.MaterializeArchive(ctx, rt.OID, runtimeDir); err != nil {
			return errors.Wrapf(err, "materialize: runtime %s", rt.OID)
		}
	}

	sitePackageDirs := make([]string, 0, len(packages))
	for _, pkg := range packages {
		pkgDir := filepath.Join(casRoot, "materialized-pkg-builds", pkg.PkgBuildOID)
		if _, err := os.Stat(pkgDir); os.IsNotExist(err) {
			if err := m.Store.MaterializeArchive(ctx, pkg.PkgBuildOID, pkgDir); err != nil {
				return errors.Wrapf(err, "materialize: pkg-build %s (%s)", pkg.PkgBuildOID, pkg.Name)
			}
		}
		sitePackageDirs = append(sitePackageDirs, filepath.Join(pkgDir, "site-packages"))
	}

	if err := writePyvenvCfg(dst, runtimeDir, rt); err != nil {
		return err
	}
	if err := writeLauncher(dst, runtimeDir, rt); err != nil {
		return err
	}
	siteDir := SitePackagesDir(dst, rt)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return errors.Wrap(err, "materialize: mkdir site-packages")
	}
	if err := writePthFile(siteDir, sitePackageDirs); err != nil {
		return err
	}
	if err := writeSiteCustomize(siteDir); err != nil {
		return err
	}
	if err := writeShims(ctx, dst, sitePackageDirs); err != nil {
		return err
	}

	oids := make([]string, 0, len(packages))
	for _, p := range packages {
		oids = append(oids, p.PkgBuildOID)
	}
	sort.Strings(oids)
	manifestBytes, err := marshalManifest(Manifest{ProfileOID: profileOID, RuntimeOID: rt.OID, PackageOIDs: oids})
	if err != nil {
		return err
	}
	return atomicfile.Write(filepath.Join(dst, "manifest.json"), manifestBytes, 0o644)
}

// PycachePrefix returns the PYTHONPYCACHEPREFIX directory for profileOID
// under cacheRoot, creating it and verifying it's writable (spec.md §4.4
// "Bytecode cache").
func PycachePrefix(cacheRoot, profileOID string) (string, error) {
	dir := filepath.Join(cacheRoot, "pyc", profileOID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "materialize: create pyc cache dir %s", dir)
	}
	probe := filepath.Join(dir, ".px-write-probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return "", fmt.Errorf("materialize: pyc cache dir %s is not writable; fix permissions or set PX_CACHE_PATH to a writable location: %w", dir, err)
	}
	os.Remove(probe)
	return dir, nil
}

// PythonPath constructs PYTHONPATH per spec.md §4.4: the project root, then
// any user-declared plugin-import paths anchored at the project, and
// nothing else.
func PythonPath(projectRoot string, pluginImports []string) string {
	paths := []string{projectRoot}
	for _, p := range pluginImports {
		if filepath.IsAbs(p) {
			paths = append(paths, p)
		} else {
			paths = append(paths, filepath.Join(projectRoot, p))
		}
	}
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	return strings.Join(paths, sep)
}
