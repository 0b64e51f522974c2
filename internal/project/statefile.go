package project

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
)

// StateFile is the on-disk shape of .px/state.json (spec.md §6.1).
type StateFile struct {
	CurrentEnv *CurrentEnv    `json:"current_env,omitempty"`
	Runtime    *RuntimeRecord `json:"runtime,omitempty"`
}

// CurrentEnv records the materialized environment currently bound to this
// project.
type CurrentEnv struct {
	ID           string       `json:"id"`
	LockID       string       `json:"lock_id"`
	Platform     string       `json:"platform"`
	SitePackages string       `json:"site_packages"`
	EnvPath      string       `json:"env_path"`
	ProfileOID   string       `json:"profile_oid"`
	Python       PythonRecord `json:"python"`
}

type PythonRecord struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// RuntimeRecord records the last-detected host runtime, independent of any
// particular environment.
type RuntimeRecord struct {
	Path     string `json:"path"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// ReadStateFile reads path, returning (nil, nil) if it does not exist.
func ReadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "project: read %s", path)
	}
	var sf StateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrapf(err, "project: parse %s", path)
	}
	return &sf, nil
}

// WriteStateFile serializes sf as indented JSON and writes it atomically.
func WriteStateFile(path string, sf StateFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "project: marshal state file")
	}
	return atomicfile.Write(path, data, 0o644)
}
