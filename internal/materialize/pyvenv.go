package materialize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/pkg/errors"
)

const pyvenvTemplate = `home = {{.Home}}
include-system-site-packages = false
version = {{.Version}}
executable = {{.Executable}}
`

type pyvenvData struct {
	Home       string
	Version    string
	Executable string
}

func writePyvenvCfg(dst, runtimeDir string, rt RuntimeInfo) error {
	tmpl := template.Must(template.New("pyvenv.cfg").Parse(pyvenvTemplate))
	f, err := os.Create(filepath.Join(dst, "pyvenv.cfg"))
	if err != nil {
		return errors.Wrap(err, "materialize: create pyvenv.cfg")
	}
	defer f.Close()
	return tmpl.Execute(f, pyvenvData{
		Home:       filepath.Join(runtimeDir, "bin"),
		Version:    rt.Version,
		Executable: filepath.Join(runtimeDir, rt.ExePath),
	})
}

// writeLauncher writes bin/python: on Unix a shell shim invoking the real
// runtime executable; on Windows the runtime path is used directly by the
// spawner instead (spec.md §4.4 "bin/python").
func writeLauncher(dst, runtimeDir string, rt RuntimeInfo) error {
	binDir := filepath.Join(dst, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return errors.Wrap(err, "materialize: mkdir bin")
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	real := filepath.Join(runtimeDir, rt.ExePath)
	script := fmt.Sprintf("#!/bin/sh\nexec %q \"$@\"\n", real)
	path := filepath.Join(binDir, "python")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return errors.Wrap(err, "materialize: write bin/python")
	}
	return nil
}

func marshalManifest(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
