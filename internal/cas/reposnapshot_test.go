package cas_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/px-dev/px/internal/cas"
)

type fakeGitClient struct {
	files map[string]string // relative path -> content
}

func (f fakeGitClient) CloneAt(ctx context.Context, locator, commit, subdir, dst string) error {
	for rel, content := range f.files {
		full := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestEnsureRepoSnapshotCachesByLookupKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	git := fakeGitClient{files: map[string]string{"setup.py": "print('hi')\n"}}

	spec := cas.RepoSnapshotSpec{Locator: "https://example.com/pkg.git", Commit: "deadbeef", Subdir: ""}

	oid1, err := s.EnsureRepoSnapshot(ctx, git, 0, spec)
	if err != nil {
		t.Fatalf("EnsureRepoSnapshot: %v", err)
	}
	oid2, err := s.EnsureRepoSnapshot(ctx, git, 0, spec)
	if err != nil {
		t.Fatalf("EnsureRepoSnapshot (cached): %v", err)
	}
	if oid1 != oid2 {
		t.Fatalf("expected cache hit to return same oid, got %s vs %s", oid1, oid2)
	}
}

func TestMaterializeRepoSnapshotUnpacksContent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	git := fakeGitClient{files: map[string]string{"README.md": "hello\n"}}

	oid, err := s.EnsureRepoSnapshot(ctx, git, 0, cas.RepoSnapshotSpec{
		Locator: "https://example.com/pkg.git",
		Commit:  "abc123",
	})
	if err != nil {
		t.Fatalf("EnsureRepoSnapshot: %v", err)
	}

	dst := t.TempDir()
	if err := s.MaterializeRepoSnapshot(ctx, oid, dst); err != nil {
		t.Fatalf("MaterializeRepoSnapshot: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "README.md"))
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("content = %q", data)
	}
}
