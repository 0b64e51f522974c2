package materialize_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/materialize"
)

type fakeClock struct{ t int64 }

func (f fakeClock) Now() int64 { return f.t }

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := canon.WalkTree(dir)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := canon.WriteArchive(&buf, entries, 0); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMaterializeBuildsCompleteEnv(t *testing.T) {
	ctx := context.Background()
	casRoot := t.TempDir()
	store, err := cas.Open(casRoot, fakeClock{t: 1_700_000_000})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	defer store.Close()

	runtimeArchive := buildArchive(t, map[string]string{
		"bin/python3": "#!/bin/sh\necho fake-python\n",
	})
	runtimeEnv, err := cas.NewRuntimeObject(cas.RuntimeHeader{
		Version: "3.11.7", ABI: "cp311-cp311-manylinux", Platform: "linux", ExePath: "bin/python3",
	}, runtimeArchive)
	if err != nil {
		t.Fatal(err)
	}
	runtimeOID, err := store.Store(ctx, runtimeEnv)
	if err != nil {
		t.Fatal(err)
	}

	pkgArchive := buildArchive(t, map[string]string{
		"site-packages/flask/__init__.py":                "",
		"site-packages/flask-3.0.0.dist-info/entry_points.txt": "[console_scripts]\nflask = flask.cli:main\n",
	})
	pkgEnv, err := cas.NewPkgBuildObject(cas.PkgBuildHeader{
		SourceOID: "src-oid", RuntimeABI: "cp311-cp311-manylinux", BuilderID: "builder-v1",
	}, pkgArchive)
	if err != nil {
		t.Fatal(err)
	}
	pkgOID, err := store.Store(ctx, pkgEnv)
	if err != nil {
		t.Fatal(err)
	}

	m := &materialize.Materializer{Store: store}
	dst := filepath.Join(casRoot, "env")
	err = m.Materialize(ctx, "profile-oid", materialize.RuntimeInfo{
		OID: runtimeOID, Version: "3.11.7", ExePath: "bin/python3",
	}, []materialize.PackageBuild{{Name: "flask", PkgBuildOID: pkgOID}}, nil, casRoot, dst)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	for _, want := range []string{
		"pyvenv.cfg",
		"bin/python",
		"bin/flask",
		filepath.Join("lib", "python3.11", "site-packages", "px.pth"),
		filepath.Join("lib", "python3.11", "site-packages", "sitecustomize.py"),
		"manifest.json",
	} {
		if _, err := os.Stat(filepath.Join(dst, want)); err != nil {
			t.Errorf("expected %s to exist: %v", want, err)
		}
	}

	pth, err := os.ReadFile(filepath.Join(dst, "lib", "python3.11", "site-packages", "px.pth"))
	if err != nil {
		t.Fatal(err)
	}
	if len(pth) == 0 {
		t.Fatal("px.pth should not be empty")
	}
}

func TestPycachePrefixCreatesWritableDir(t *testing.T) {
	cacheRoot := t.TempDir()
	dir, err := materialize.PycachePrefix(cacheRoot, "profile-oid")
	if err != nil {
		t.Fatalf("PycachePrefix: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected pyc cache dir to exist: %v", err)
	}
}

func TestPythonPathIncludesProjectAndPluginImports(t *testing.T) {
	got := materialize.PythonPath("/proj", []string{"vendor", "/abs/plugin"})
	want := "/proj:/proj/vendor:/abs/plugin"
	if got != want {
		t.Fatalf("PythonPath = %q, want %q", got, want)
	}
}
