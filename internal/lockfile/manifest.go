// Package lockfile implements the manifest/lock snapshot model: fingerprint
// computation, drift detection, lock_id derivation, and the px.lock /
// px.workspace.lock TOML codec (spec.md §3.2/§4.2).
package lockfile

import (
	"sort"
	"strings"

	"github.com/px-dev/px/internal/canon"
)

// Manifest is the in-memory view of a project's declared configuration,
// read from pyproject.toml's [project] table and px's own [tool.px] table
// (spec.md §3.2.1).
type Manifest struct {
	Name             string            `json:"name"`
	PythonRequirement string           `json:"python_requirement"`
	Dependencies     []string          `json:"dependencies"`
	DependencyGroups map[string][]string `json:"dependency_groups"`
	PythonOverride   string            `json:"python_override,omitempty"`
	Options          ManifestOptions   `json:"options"`
}

// ManifestOptions are the tool-level knobs that participate in the
// fingerprint: anything here changing must re-resolve or re-sync.
type ManifestOptions struct {
	ManageCommand     string            `json:"manage_command,omitempty"`
	PluginImports     []string          `json:"plugin_imports,omitempty"`
	EnvVars           map[string]string `json:"env_vars,omitempty"`
	SandboxCapabilities []string        `json:"sandbox_capabilities,omitempty"`
}

// fingerprintTuple is the normalized shape hashed to produce the manifest
// fingerprint: canonical name, requires-python, sorted deduped dependency
// specs, sorted group names (each with sorted deduped specs), tool-python,
// and options — independent of whitespace/key order in the source TOML.
type fingerprintTuple struct {
	Name             string              `json:"name"`
	PythonRequirement string             `json:"python_requirement"`
	Dependencies     []string            `json:"dependencies"`
	DependencyGroups map[string][]string `json:"dependency_groups"`
	PythonOverride   string              `json:"python_override"`
	Options          ManifestOptions     `json:"options"`
}

// Fingerprint computes the manifest fingerprint: SHA-256 of the canonical
// JSON encoding of the normalized tuple (spec.md §3.2.1/§4.2).
func (m Manifest) Fingerprint() (string, error) {
	deps := sortedDedup(m.Dependencies)

	groups := make(map[string][]string, len(m.DependencyGroups))
	for name, specs := range m.DependencyGroups {
		groups[name] = sortedDedup(specs)
	}

	tuple := fingerprintTuple{
		Name:             CanonicalizeName(m.Name),
		PythonRequirement: strings.TrimSpace(m.PythonRequirement),
		Dependencies:     deps,
		DependencyGroups: groups,
		PythonOverride:   m.PythonOverride,
		Options:          m.Options,
	}
	fp, _, err := canon.JSONOID(tuple)
	return fp, err
}

func sortedDedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// osgeoName and gdalName encode the one hardcoded name-mapping exception carried over from
// the distribution metadata ecosystem (spec.md §4.3): the "osgeo" PyPI
// project installs as the "gdal" import/distribution name in practice.
const osgeoName = "osgeo"
const gdalName = "gdal"

// CanonicalizeName applies PEP 503 normalization (lowercase, runs of
// -_. collapsed to a single "-") plus px's osgeo→gdal mapping.
func CanonicalizeName(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	lastWasSep := false
	for _, r := range lower {
		if r == '-' || r == '_' || r == '.' {
			if !lastWasSep && b.Len() > 0 {
				b.WriteByte('-')
				lastWasSep = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSep = false
	}
	out := strings.Trim(b.String(), "-")
	if out == osgeoName {
		return gdalName
	}
	return out
}
