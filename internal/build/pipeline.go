package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/effects"
	"github.com/px-dev/px/internal/pxerr"
)

// DownloadRetries is the attempt budget for downloading a source artifact
// (spec.md §4.5 "Retries"). The retries themselves happen inside the
// effects.HTTPClient (effects.DefaultRetries); EnsureSource makes a single
// Get and does not read this constant. Build attempts are not retried.
const DownloadRetries = 3

// Pipeline turns a downloaded sdist into a materialized pkg-build CAS
// object, preferring a cache hit, then building with the method the request
// names: the host interpreter for MethodPipWheel/MethodPythonBuild, or a
// containerized builder image for MethodBuilderWheel (spec.md §4.5). A
// failed host build is returned as an error; it is not retried in a
// container.
type Pipeline struct {
	Store     *cas.Store
	HTTP      effects.HTTPClient
	Python    effects.PythonRuntime
	Container effects.ContainerRunner
	// Online mirrors PX_ONLINE (spec.md §6.3/§9 Open Question (b)): when
	// false, a cache miss on EnsureSource fails fast rather than reaching
	// the network.
	Online bool
}

// SourceSpec identifies the artifact to fetch if it isn't already cached.
type SourceSpec struct {
	Name     string
	Version  string
	Filename string
	IndexURL string
	URL      string
	SHA256   string // expected digest, verified after download
}

func (s SourceSpec) lookupKey() string {
	return fmt.Sprintf("source:%s|%s|%s|%s", s.Name, s.Version, s.Filename, s.IndexURL)
}

// EnsureSource resolves spec to a source CAS oid, downloading and verifying
// the SHA-256 on a cache miss (spec.md §4.5 step 1).
func (p *Pipeline) EnsureSource(ctx context.Context, spec SourceSpec) (oid string, err error) {
	key := spec.lookupKey()
	if cached, err := p.Store.LookupKey(ctx, key); err == nil {
		if _, loadErr := p.Store.Load(ctx, cached); loadErr == nil {
			return cached, nil
		}
	}

	if !p.Online {
		return "", pxerr.New(pxerr.CodeNetworkRequired, pxerr.Operational, "network_required",
			fmt.Sprintf("source %s is not cached and px is offline", spec.Filename),
			"run without PX_ONLINE=0, or pre-fetch the source while online")
	}

	resp, err := p.HTTP.Get(ctx, spec.URL)
	if err != nil {
		return "", errors.Wrapf(err, "build: download %s", spec.URL)
	}
	defer resp.Body.Close()

	h := sha256.New()
	body, err := io.ReadAll(io.TeeReader(resp.Body, h))
	if err != nil {
		return "", errors.Wrapf(err, "build: read %s", spec.URL)
	}
	if got := hex.EncodeToString(h.Sum(nil)); spec.SHA256 != "" && got != spec.SHA256 {
		return "", fmt.Errorf("build: sha256 mismatch for %s: expected %s, got %s", spec.Filename, spec.SHA256, got)
	}

	env, err := cas.NewSourceObject(cas.SourceHeader{
		Name: spec.Name, Version: spec.Version, Filename: spec.Filename,
		IndexURL: spec.IndexURL, SHA256: spec.SHA256,
	}, body)
	if err != nil {
		return "", err
	}
	oid, err = p.Store.Store(ctx, env)
	if err != nil {
		return "", err
	}
	if err := p.Store.RecordKey(ctx, key, oid); err != nil {
		return "", err
	}
	return oid, nil
}

// BuildRequest names everything needed to build (or fetch from cache) a
// pkg-build object for one source distribution.
type BuildRequest struct {
	SourceOID      string
	RuntimeABI     string
	PythonPath     string // host interpreter, used for MethodPipWheel/MethodPythonBuild
	Method         Method
	ContainerImage string // used for MethodBuilderWheel
	SourceDateEpoch int64
}

// Build resolves req to a pkg-build CAS oid, per the procedure in spec.md
// §4.5: cache lookup, then host or containerized build, then canonical
// archive + native-lib sweep + store.
func (p *Pipeline) Build(ctx context.Context, req BuildRequest) (pkgBuildOID string, err error) {
	if !req.Method.Valid() {
		return "", fmt.Errorf("build: unknown method %q", req.Method)
	}
	builderID := BuilderID(req.RuntimeABI)
	interpreterOrBuilder := req.PythonPath
	if req.Method == MethodBuilderWheel {
		interpreterOrBuilder = builderID
	}
	optionsHash, err := BuildOptionsHash(interpreterOrBuilder, req.Method, nil)
	if err != nil {
		return "", err
	}
	key := CacheKey{SourceOID: req.SourceOID, RuntimeABI: req.RuntimeABI, BuilderID: builderID, BuildOptionsHash: optionsHash}

	if cached, err := p.Store.LookupKey(ctx, key.LookupKey()); err == nil {
		if _, loadErr := p.Store.Load(ctx, cached); loadErr == nil {
			return cached, nil
		}
	}

	sourceEnv, err := p.Store.Load(ctx, req.SourceOID)
	if err != nil {
		return "", errors.Wrap(err, "build: load source")
	}
	sourcePayload, err := sourceEnv.DecodePayload()
	if err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp("", "px-build-*")
	if err != nil {
		return "", errors.Wrap(err, "build: create work dir")
	}
	defer os.RemoveAll(workDir)

	srcDir := filepath.Join(workDir, "src")
	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := canon.ExtractArchive(bytes.NewReader(sourcePayload), srcDir); err != nil {
		return "", errors.Wrap(err, "build: extract source")
	}

	switch req.Method {
	case MethodPipWheel, MethodPythonBuild:
		if err := p.runHostBuild(ctx, req, srcDir, outDir); err != nil {
			return "", err
		}
	case MethodBuilderWheel:
		if err := p.runContainerBuild(ctx, req, srcDir, outDir); err != nil {
			return "", err
		}
	}

	if err := sweepNativeLibs(ctx, outDir); err != nil {
		return "", errors.Wrap(err, "build: sweep native libs")
	}

	// materialize.Materialize expects every pkg-build archive to contain a
	// site-packages/ root, matching the layout it overlays onto an
	// environment's lib/pythonX.Y/site-packages via px.pth.
	archiveRoot := filepath.Join(workDir, "archive")
	sitePackages := filepath.Join(archiveRoot, "site-packages")
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(outDir, sitePackages); err != nil {
		return "", errors.Wrap(err, "build: assemble site-packages tree")
	}

	entries, err := canon.WalkTree(archiveRoot)
	if err != nil {
		return "", errors.Wrap(err, "build: walk built tree")
	}
	var archive bytes.Buffer
	if err := canon.WriteArchive(&archive, entries, req.SourceDateEpoch); err != nil {
		return "", errors.Wrap(err, "build: archive built tree")
	}

	env, err := cas.NewPkgBuildObject(cas.PkgBuildHeader{
		SourceOID: req.SourceOID, RuntimeABI: req.RuntimeABI, BuilderID: builderID, BuildOptionsHash: optionsHash,
	}, archive.Bytes())
	if err != nil {
		return "", err
	}
	pkgBuildOID, err = p.Store.Store(ctx, env)
	if err != nil {
		return "", err
	}
	if err := p.Store.RecordKey(ctx, key.LookupKey(), pkgBuildOID); err != nil {
		return "", err
	}
	return pkgBuildOID, nil
}

// runHostBuild shells out to the host interpreter's "pip wheel", writing
// output wheels to outDir (spec.md §4.5 step 3 default path).
func (p *Pipeline) runHostBuild(ctx context.Context, req BuildRequest, srcDir, outDir string) error {
	cmd := p.Python.Command(ctx, req.PythonPath, "-m", "pip", "wheel", "--no-deps", "-w", outDir, srcDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build: pip wheel failed: %w: %s", err, stderr.String())
	}
	return unpackWheels(outDir)
}

// runContainerBuild runs the containerized builder image matching
// builder_id, with the source mounted read-write at /work and a scratch
// dir at /builder; the container never mounts host apt caches or the
// user's home (spec.md §4.5 step 3 fallback path).
func (p *Pipeline) runContainerBuild(ctx context.Context, req BuildRequest, srcDir, outDir string) error {
	mounts := []effects.Mount{
		{HostPath: srcDir, ContainerPath: "/work", ReadOnly: false},
		{HostPath: outDir, ContainerPath: "/builder", ReadOnly: false},
	}
	var stdout, stderr bytes.Buffer
	if err := p.Container.Run(ctx, req.ContainerImage, mounts, []string{"build-wheel", "/work", "/builder"}, &stdout, &stderr); err != nil {
		return fmt.Errorf("build: containerized build failed: %w: %s", err, stderr.String())
	}
	return unpackWheels(outDir)
}

// unpackWheels replaces each *.whl file directly under dir with its
// unpacked contents (a wheel is a zip archive), so the directory becomes
// the unpacked site tree the rest of the pipeline archives.
func unpackWheels(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".whl" {
			continue
		}
		found = true
		whlPath := filepath.Join(dir, e.Name())
		if err := unzipInto(whlPath, dir); err != nil {
			return errors.Wrapf(err, "build: unpack wheel %s", e.Name())
		}
		os.Remove(whlPath)
	}
	if !found {
		return fmt.Errorf("build: no wheel produced in %s", dir)
	}
	return nil
}
