package build

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// sweepNativeLibs walks distPath for shared libraries (.so*/.dylib/.dll),
// resolves each one's runtime dependencies via ldd, and copies anything not
// already under distPath into distPath/sys-libs so the built wheel carries
// its own native closure (ported from the original implementation's
// copy_native_libs/ldd_dependencies; spec.md §4.5 "native shared-library
// sweep"). A missing or failing ldd (non-Linux hosts, static binaries) is
// tolerated: the sweep becomes a no-op rather than failing the build.
func sweepNativeLibs(ctx context.Context, distPath string) error {
	if _, err := exec.LookPath("ldd"); err != nil {
		return nil
	}

	var seeds []string
	err := filepath.WalkDir(distPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if isSharedLib(d.Name()) {
			seeds = append(seeds, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	toCopy := make(map[string]bool)
	queue := append([]string(nil), seeds...)

	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		if seen[target] {
			continue
		}
		seen[target] = true

		deps, err := lddDependencies(ctx, target)
		if err != nil {
			continue // best-effort: unresolvable binary, skip its deps
		}
		for _, dep := range deps {
			if shouldSkipNativeDep(dep) {
				continue
			}
			if !toCopy[dep] {
				toCopy[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	sysLibsRoot := filepath.Join(distPath, "sys-libs")
	for dep := range toCopy {
		if strings.HasPrefix(dep, distPath+string(os.PathSeparator)) {
			continue // already inside the tree
		}
		dest := filepath.Join(sysLibsRoot, filepath.Base(dep))
		if err := copyFile(dep, dest); err != nil {
			return errors.Wrapf(err, "copy native lib %s", dep)
		}
	}
	return nil
}

func isSharedLib(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, ".so") || strings.HasSuffix(lower, ".dylib") || strings.HasSuffix(lower, ".dll")
}

func shouldSkipNativeDep(path string) bool {
	lower := strings.ToLower(filepath.Base(path))
	return strings.HasPrefix(lower, "ld-linux") || strings.HasPrefix(lower, "libc.")
}

// lddDependencies parses `ldd target` output for resolved absolute paths,
// e.g. "libfoo.so.1 => /usr/lib/libfoo.so.1 (0x00007f...)".
func lddDependencies(ctx context.Context, target string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "ldd", target)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var deps []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		arrow := strings.Index(line, "=>")
		if arrow < 0 {
			continue
		}
		rest := strings.TrimSpace(line[arrow+2:])
		if paren := strings.Index(rest, " ("); paren >= 0 {
			rest = rest[:paren]
		}
		if rest == "" || rest == "not" {
			continue
		}
		if filepath.IsAbs(rest) {
			deps = append(deps, rest)
		}
	}
	return deps, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
