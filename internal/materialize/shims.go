package materialize

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// writeShims scans each site-packages dir for a "*.dist-info/entry_points.txt"
// and writes one bin/<name> shim per [console_scripts] entry: a /bin/sh
// script that execs bin/python on the entry point (spec.md §4.4
// "bin/<console-script>").
func writeShims(ctx context.Context, dst string, sitePackageDirs []string) error {
	binDir := filepath.Join(dst, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return errors.Wrap(err, "materialize: mkdir bin")
	}
	pythonShim := filepath.Join(binDir, "python")

	for _, siteDir := range sitePackageDirs {
		entries, err := os.ReadDir(siteDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "materialize: read %s", siteDir)
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
				continue
			}
			epPath := filepath.Join(siteDir, e.Name(), "entry_points.txt")
			scripts, err := parseConsoleScripts(epPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return err
			}
			for name, target := range scripts {
				if err := writeConsoleScriptShim(binDir, pythonShim, name, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// parseConsoleScripts reads the [console_scripts] section of an
// entry_points.txt INI file, mapping script name -> "module:func".
func parseConsoleScripts(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scripts := make(map[string]string)
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line == "[console_scripts]"
			continue
		}
		if !inSection {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		scripts[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return scripts, scanner.Err()
}

const shimTemplate = `#!/bin/sh
exec %q -c "import sys; from %s import %s as _entry; sys.exit(_entry())" "$@"
`

func writeConsoleScriptShim(binDir, pythonShim, name, target string) error {
	module, funcName, err := splitEntryPointTarget(target)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(shimTemplate, pythonShim, module, funcName)
	path := filepath.Join(binDir, name)
	return os.WriteFile(path, []byte(script), 0o755)
}

func splitEntryPointTarget(target string) (module, funcName string, err error) {
	parts := strings.SplitN(target, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("materialize: malformed entry point target %q", target)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}
