package effects

import (
	"io/fs"
	"os"
)

// Filesystem is the narrow read capability threaded through code that must
// not assume a concrete on-disk tree — adapted from the teacher's
// pkg/filesystem.Filesystem interface (fs.ReadDirFS + fs.StatFS +
// Readlink), trimmed to what px's scaffolding/sandbox app-layer walk needs.
type Filesystem interface {
	fs.ReadDirFS
	fs.StatFS
	Readlink(link string) (string, error)
}

// osFilesystem is the production Filesystem rooted at an absolute path.
type osFilesystem struct {
	root string
}

// NewOSFilesystem returns a Filesystem rooted at root, the common case for
// operating directly on a project's source tree.
func NewOSFilesystem(root string) Filesystem { return osFilesystem{root: root} }

func (o osFilesystem) join(name string) string {
	if name == "." || name == "" {
		return o.root
	}
	return o.root + "/" + name
}

func (o osFilesystem) Open(name string) (fs.File, error) { return os.Open(o.join(name)) }

func (o osFilesystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(o.join(name))
}

func (o osFilesystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(o.join(name)) }

func (o osFilesystem) Readlink(link string) (string, error) { return os.Readlink(o.join(link)) }
