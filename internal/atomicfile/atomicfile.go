// Package atomicfile implements the write-tmp-fsync-rename pattern used by
// every file px treats as durable state: px.lock, pyproject.toml rewrites,
// .px/state.json, and materialized manifest.json files.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Write writes data to path by first writing path+".tmp", fsyncing it, then
// renaming it into place and fsyncing the parent directory. If the rename
// fails because tmp and dst are on different filesystems, it falls back to
// copying the bytes directly and removing the tmp file.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "atomicfile: mkdir %s", dir)
	}
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "atomicfile: create %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "atomicfile: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "atomicfile: fsync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "atomicfile: close %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		// cross-device rename: fall back to copy+remove
		if copyErr := os.WriteFile(path, data, perm); copyErr != nil {
			os.Remove(tmp)
			return errors.Wrapf(copyErr, "atomicfile: fallback copy to %s", path)
		}
		os.Remove(tmp)
	}

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync() // best-effort; not all platforms support fsync on directories
		dirF.Close()
	}
	return nil
}
