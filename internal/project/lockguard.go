package project

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/pxerr"
)

// withProjectLock serializes mutating commands within one project behind an
// exclusive file lock at .px/project.lock (spec.md §4.6 "add/remove/update
// require an exclusive project lock").
func (p *Project) withProjectLock(fn func() error) error {
	lockPath := filepath.Join(p.Root, ".px", "project.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return errors.Wrapf(err, "project: mkdir %s", filepath.Dir(lockPath))
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return errors.Wrap(err, "project: acquire project lock")
	}
	if !locked {
		return pxerr.New(pxerr.CodeProjectLocked, pxerr.User, "project_locked",
			"another px command is already modifying this project",
			"wait for the other command to finish, or remove .px/project.lock if it is stale")
	}
	defer fl.Unlock()
	return fn()
}
