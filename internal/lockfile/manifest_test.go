package lockfile_test

import (
	"testing"

	"github.com/px-dev/px/internal/lockfile"
)

func TestFingerprintIndependentOfOrdering(t *testing.T) {
	m1 := lockfile.Manifest{
		Name:              "myproj",
		PythonRequirement: ">=3.11",
		Dependencies:      []string{"requests==2.31.0", "flask>=3.0"},
		DependencyGroups:  map[string][]string{"dev": {"pytest", "black"}},
	}
	m2 := lockfile.Manifest{
		Name:              "myproj",
		PythonRequirement: ">=3.11",
		Dependencies:      []string{"flask>=3.0", "requests==2.31.0", "requests==2.31.0"},
		DependencyGroups:  map[string][]string{"dev": {"black", "pytest"}},
	}

	fp1, err := m1.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := m2.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprints differ for equivalent manifests: %s vs %s", fp1, fp2)
	}
}

func TestFingerprintChangesWithDependencies(t *testing.T) {
	base := lockfile.Manifest{Name: "myproj", Dependencies: []string{"requests"}}
	changed := lockfile.Manifest{Name: "myproj", Dependencies: []string{"requests", "flask"}}

	fp1, _ := base.Fingerprint()
	fp2, _ := changed.Fingerprint()
	if fp1 == fp2 {
		t.Fatal("fingerprint should change when dependencies change")
	}
}

func TestCanonicalizeName(t *testing.T) {
	cases := map[string]string{
		"Flask":        "flask",
		"zope.interface": "zope-interface",
		"py_toml":      "py-toml",
		"osgeo":        "gdal",
		"OSGeo":        "gdal",
		"already-norm": "already-norm",
	}
	for in, want := range cases {
		if got := lockfile.CanonicalizeName(in); got != want {
			t.Errorf("CanonicalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
