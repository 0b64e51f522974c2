package project

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
	"github.com/px-dev/px/internal/lockfile"
)

// ErrNoManifest is returned by LoadManifest when pyproject.toml is absent,
// the defining condition of project.Uninitialized (spec.md §3.3).
var ErrNoManifest = errors.New("project: pyproject.toml not found")

// rawPyproject mirrors the on-disk pyproject.toml shape: standard
// [project] metadata plus px's own [tool.px] table (spec.md §6.1).
type rawPyproject struct {
	Project rawProjectSection `toml:"project"`
	Tool    rawToolSection    `toml:"tool"`
}

type rawProjectSection struct {
	Name                 string              `toml:"name"`
	RequiresPython       string              `toml:"requires-python,omitempty"`
	Dependencies         []string            `toml:"dependencies,omitempty"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies,omitempty"`
}

type rawToolSection struct {
	Px rawPxSection `toml:"px"`
}

type rawPxSection struct {
	Python        string              `toml:"python,omitempty"`
	ManageCommand string              `toml:"manage-command,omitempty"`
	PluginImports []string            `toml:"plugin-imports,omitempty"`
	Env           map[string]string   `toml:"env,omitempty"`
	Sandbox       rawSandboxSection   `toml:"sandbox,omitempty"`
	Workspace     rawWorkspaceSection `toml:"workspace,omitempty"`
	Fmt           rawQualityTool      `toml:"fmt,omitempty"`
	Test          rawQualityTool      `toml:"test,omitempty"`
}

type rawSandboxSection struct {
	Base         string          `toml:"base,omitempty"`
	Auto         bool            `toml:"auto,omitempty"`
	Capabilities map[string]bool `toml:"capabilities,omitempty"`
}

// rawWorkspaceSection is [tool.px.workspace] (spec.md §4.7): the member
// path list plus an optional unified Python requirement override.
type rawWorkspaceSection struct {
	Members []string `toml:"members,omitempty"`
	Python  string   `toml:"python,omitempty"`
}

// rawQualityTool is one [tool.px.fmt]/[tool.px.test] table (spec.md §4.6.1).
type rawQualityTool struct {
	Commands []QualityToolCommand `toml:"commands,omitempty"`
}

// QualityToolCommand is one declared quality-tool invocation.
type QualityToolCommand struct {
	Module      string   `toml:"module"`
	Args        []string `toml:"args,omitempty"`
	Requirement string   `toml:"requirement"`
	Label       string   `toml:"label,omitempty"`
}

func manifestPath(root string) string { return filepath.Join(root, "pyproject.toml") }

func readRawPyproject(root string) (rawPyproject, error) {
	var raw rawPyproject
	data, err := os.ReadFile(manifestPath(root))
	if os.IsNotExist(err) {
		return raw, ErrNoManifest
	}
	if err != nil {
		return raw, errors.Wrap(err, "project: read pyproject.toml")
	}
	if err := lockfile.Unmarshal(data, &raw); err != nil {
		return raw, errors.Wrap(err, "project: parse pyproject.toml")
	}
	return raw, nil
}

func writeRawPyproject(root string, raw rawPyproject) error {
	data, err := lockfile.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "project: marshal pyproject.toml")
	}
	return atomicfile.Write(manifestPath(root), data, 0o644)
}

// LoadManifest reads pyproject.toml and projects it into a lockfile.Manifest
// (the normalized shape fingerprinting/drift-detection operate on).
func LoadManifest(root string) (lockfile.Manifest, error) {
	raw, err := readRawPyproject(root)
	if err != nil {
		return lockfile.Manifest{}, err
	}
	return manifestFromRaw(raw), nil
}

func manifestFromRaw(raw rawPyproject) lockfile.Manifest {
	return lockfile.Manifest{
		Name:              raw.Project.Name,
		PythonRequirement: raw.Project.RequiresPython,
		Dependencies:      append([]string(nil), raw.Project.Dependencies...),
		DependencyGroups:  raw.Project.OptionalDependencies,
		PythonOverride:    raw.Tool.Px.Python,
		Options: lockfile.ManifestOptions{
			ManageCommand:       raw.Tool.Px.ManageCommand,
			PluginImports:       raw.Tool.Px.PluginImports,
			EnvVars:             raw.Tool.Px.Env,
			SandboxCapabilities: enabledCapabilities(raw.Tool.Px.Sandbox.Capabilities),
		},
	}
}

func enabledCapabilities(caps map[string]bool) []string {
	if len(caps) == 0 {
		return nil
	}
	out := make([]string, 0, len(caps))
	for name, on := range caps {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// WorkspaceConfig is the subset of [tool.px.workspace] internal/workspace
// needs.
type WorkspaceConfig struct {
	Members []string
	Python  string
}

// LoadWorkspaceConfig reads [tool.px.workspace] from root's pyproject.toml.
// A project with no workspace table returns a zero-value config and no
// error (workspace membership is opt-in).
func LoadWorkspaceConfig(root string) (WorkspaceConfig, error) {
	raw, err := readRawPyproject(root)
	if err != nil {
		return WorkspaceConfig{}, err
	}
	return WorkspaceConfig{Members: raw.Tool.Px.Workspace.Members, Python: raw.Tool.Px.Workspace.Python}, nil
}

// SandboxConfig is the subset of [tool.px.sandbox] internal/sandbox needs;
// unlike the capability set it's not part of the manifest fingerprint since
// it doesn't affect resolution (spec.md §4.8).
type SandboxConfig struct {
	Base string
	Auto bool
}

// LoadSandboxConfig reads [tool.px.sandbox] from root's pyproject.toml.
func LoadSandboxConfig(root string) (SandboxConfig, error) {
	raw, err := readRawPyproject(root)
	if err != nil {
		return SandboxConfig{}, err
	}
	return SandboxConfig{Base: raw.Tool.Px.Sandbox.Base, Auto: raw.Tool.Px.Sandbox.Auto}, nil
}

// Init scaffolds a new pyproject.toml at root, moving the project from
// Uninitialized to InitializedEmpty (spec.md §4.6 "init").
func Init(root, name, pythonRequirement string, force bool) error {
	path := manifestPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Errorf("project: %s already exists (use --force to overwrite)", path)
	}
	raw := rawPyproject{Project: rawProjectSection{Name: name, RequiresPython: pythonRequirement}}
	return writeRawPyproject(root, raw)
}

// AddDependencies appends specs to pyproject.toml's dependency list,
// deduping by exact spec string, and rewrites the file.
func AddDependencies(root string, specs []string) error {
	raw, err := readRawPyproject(root)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(raw.Project.Dependencies))
	for _, d := range raw.Project.Dependencies {
		seen[d] = true
	}
	for _, s := range specs {
		if !seen[s] {
			raw.Project.Dependencies = append(raw.Project.Dependencies, s)
			seen[s] = true
		}
	}
	return writeRawPyproject(root, raw)
}

// SetPythonOverride rewrites [tool.px].python to version, the effect of
// `px python use` (spec.md §6.2).
func SetPythonOverride(root, version string) error {
	raw, err := readRawPyproject(root)
	if err != nil {
		return err
	}
	raw.Tool.Px.Python = version
	return writeRawPyproject(root, raw)
}

// RemoveDependencies drops any dependency whose parsed name matches one of
// names (PEP 503 canonicalized), rewriting the file.
func RemoveDependencies(root string, names []string) error {
	raw, err := readRawPyproject(root)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[lockfile.CanonicalizeName(n)] = true
	}
	kept := raw.Project.Dependencies[:0]
	for _, spec := range raw.Project.Dependencies {
		dep := lockfile.ParseSpec(spec)
		if !drop[lockfile.CanonicalizeName(dep.Name)] {
			kept = append(kept, spec)
		}
	}
	raw.Project.Dependencies = kept
	return writeRawPyproject(root, raw)
}
