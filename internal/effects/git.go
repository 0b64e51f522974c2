package effects

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// gitClient is the production GitClient. It mirrors the teacher's
// clone-to-temp-dir-then-copy flow (pkg/functions/repository.go Write): a
// plain clone always materializes a real .git directory and worktree,
// unlike an in-memory billy filesystem clone, which the CAS's
// materialize_repo_snapshot step needs to produce a faithful subtree copy.
type gitClient struct{}

// NewGitClient returns the production GitClient.
func NewGitClient() GitClient { return gitClient{} }

func (gitClient) CloneAt(ctx context.Context, locator, commit, subdir, dst string) error {
	tmp, err := os.MkdirTemp("", "px-clone-*")
	if err != nil {
		return errors.Wrap(err, "create temp clone dir")
	}
	defer os.RemoveAll(tmp)

	repo, err := git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{
		URL:   locator,
		Depth: 0, // need full history to resolve an arbitrary pinned commit
	})
	if err != nil {
		return errors.Wrapf(err, "clone %s", locator)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "open worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Hash: plumbing.NewHash(commit),
	}); err != nil {
		return errors.Wrapf(err, "checkout %s", commit)
	}

	src := tmp
	if subdir != "" {
		src = fmt.Sprintf("%s/%s", tmp, subdir)
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			return fmt.Errorf("subdir %q not found in %s@%s", subdir, locator, commit)
		}
	}
	return copyTree(src, dst)
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		from := src + "/" + e.Name()
		to := dst + "/" + e.Name()
		if e.IsDir() {
			if err := copyTree(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
