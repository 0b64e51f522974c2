package lockfile_test

import (
	"path/filepath"
	"testing"

	"github.com/px-dev/px/internal/lockfile"
)

func sampleLock(fingerprint string) lockfile.Lock {
	return lockfile.Lock{
		ProjectName:         "myproj",
		PythonRequirement:   ">=3.11",
		ManifestFingerprint: fingerprint,
		Dependencies: []lockfile.Dependency{
			{Name: "requests", Specifier: "requests==2.31.0"},
		},
		Resolved: []lockfile.Resolved{
			{
				Name:   "requests",
				Direct: true,
				Artifact: lockfile.Artifact{
					Filename: "requests-2.31.0.tar.gz",
					URL:      "https://pypi.org/simple/requests/",
					SHA256:   "abc123",
					Size:     100,
				},
			},
		},
	}
}

func TestLockIDStableForIdenticalContent(t *testing.T) {
	l := sampleLock("fp1")
	if err := l.Finalize(); err != nil {
		t.Fatal(err)
	}
	id1 := l.LockID

	l2 := sampleLock("fp1")
	if err := l2.Finalize(); err != nil {
		t.Fatal(err)
	}
	if id1 != l2.LockID {
		t.Fatalf("lock_id should be stable for identical content: %s vs %s", id1, l2.LockID)
	}
}

func TestLockIDChangesWithFingerprint(t *testing.T) {
	l1 := sampleLock("fp1")
	l1.Finalize()
	l2 := sampleLock("fp2")
	l2.Finalize()
	if l1.LockID == l2.LockID {
		t.Fatal("lock_id should differ when manifest_fingerprint differs")
	}
}

func TestWriteReadLockRoundTrip(t *testing.T) {
	l := sampleLock("fp1")
	if err := l.Finalize(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "px.lock")
	if err := lockfile.WriteLock(path, l); err != nil {
		t.Fatalf("WriteLock: %v", err)
	}
	got, err := lockfile.ReadLock(path)
	if err != nil {
		t.Fatalf("ReadLock: %v", err)
	}
	if got.LockID != l.LockID {
		t.Fatalf("round trip lock_id mismatch: %s vs %s", got.LockID, l.LockID)
	}
	if len(got.Resolved) != 1 || got.Resolved[0].Artifact.SHA256 != "abc123" {
		t.Fatalf("round trip resolved mismatch: %+v", got.Resolved)
	}
}

func TestDetectDriftCleanWhenUnchanged(t *testing.T) {
	m := lockfile.Manifest{Name: "myproj", Dependencies: []string{"requests==2.31.0"}}
	l := lockfile.Lock{Dependencies: []lockfile.Dependency{{Name: "requests", Specifier: "requests==2.31.0"}}}

	drift := lockfile.DetectDrift(m, l)
	if len(drift) != 0 {
		t.Fatalf("expected clean drift report, got %+v", drift)
	}
}

func TestDetectDriftReportsAddedRemovedChanged(t *testing.T) {
	m := lockfile.Manifest{Name: "myproj", Dependencies: []string{"requests==2.32.0", "click==8.1"}}
	l := lockfile.Lock{Dependencies: []lockfile.Dependency{
		{Name: "requests", Specifier: "requests==2.31.0"},
		{Name: "flask", Specifier: "flask>=3.0"},
	}}

	drift := lockfile.DetectDrift(m, l)
	kinds := map[string]string{}
	for _, d := range drift {
		kinds[d.Name] = d.Kind
	}
	if kinds["requests"] != "changed" {
		t.Errorf("expected requests changed, got %+v", kinds)
	}
	if kinds["click"] != "added" {
		t.Errorf("expected click added, got %+v", kinds)
	}
	if kinds["flask"] != "removed" {
		t.Errorf("expected flask removed, got %+v", kinds)
	}
}
