package materialize

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// writePthFile writes px.pth listing one canonical absolute path per line,
// in dependency order, for the packages passed in (already topo-sorted by
// the caller — spec.md §4.4).
func writePthFile(siteDir string, sitePackageDirs []string) error {
	var b strings.Builder
	for _, dir := range sitePackageDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "materialize: resolve abs path for %s", dir)
		}
		b.WriteString(abs)
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(siteDir, "px.pth"), []byte(b.String()), 0o644)
}

const sitecustomizeSource = `# installed by px; do not edit
import sys

def _px_install_hooks():
    pass

_px_install_hooks()
`

func writeSiteCustomize(siteDir string) error {
	return os.WriteFile(filepath.Join(siteDir, "sitecustomize.py"), []byte(sitecustomizeSource), 0o644)
}
