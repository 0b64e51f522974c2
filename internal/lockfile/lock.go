package lockfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
	"github.com/px-dev/px/internal/canon"
)

// CurrentLockVersion is the lock schema version this build writes; readers
// reject anything newer (spec.md §4.2 "lock upgrade").
const CurrentLockVersion = 1

// Mode is the lock's resolution mode. Only one variant exists today but the
// field is carried forward for future resolver strategies.
const ModeP0Pinned = "p0-pinned"

// Dependency is one entry in a manifest's (or lock's post-merge) direct
// dependency set.
type Dependency struct {
	Name       string   `toml:"name" json:"name"`
	Specifier  string   `toml:"specifier" json:"specifier"`
	Extras     []string `toml:"extras,omitempty" json:"extras,omitempty"`
	Marker     string   `toml:"marker,omitempty" json:"marker,omitempty"`
	Group      string   `toml:"group,omitempty" json:"group,omitempty"`
}

// Artifact describes the concrete downloadable file a resolved entry maps
// to.
type Artifact struct {
	Filename     string `toml:"filename" json:"filename"`
	URL          string `toml:"url" json:"url"`
	SHA256       string `toml:"sha256" json:"sha256"`
	Size         int64  `toml:"size" json:"size"`
	CachedPath   string `toml:"cached_path,omitempty" json:"cached_path,omitempty"`
	PythonTag    string `toml:"python_tag" json:"python_tag"`
	ABITag       string `toml:"abi_tag" json:"abi_tag"`
	PlatformTag  string `toml:"platform_tag" json:"platform_tag"`
	IsDirectURL  bool   `toml:"is_direct_url,omitempty" json:"is_direct_url,omitempty"`
}

// Source records where a resolved entry came from when it isn't a plain
// index lookup (e.g. a repo-snapshot direct reference).
type Source struct {
	Kind    string `toml:"kind,omitempty" json:"kind,omitempty"`     // "index" | "repo" | "url"
	Locator string `toml:"locator,omitempty" json:"locator,omitempty"`
	Commit  string `toml:"commit,omitempty" json:"commit,omitempty"`
}

// Resolved is one transitively-closed distribution in the lock.
type Resolved struct {
	Name     string   `toml:"name" json:"name"`
	Version  string   `toml:"version" json:"version"`
	Direct   bool     `toml:"direct" json:"direct"`
	Artifact Artifact `toml:"artifact" json:"artifact"`
	Requires []string `toml:"requires,omitempty" json:"requires,omitempty"`
	Source   *Source  `toml:"source,omitempty" json:"source,omitempty"`
}

// GraphTarget is one marker-tagged platform target in a multi-platform
// lock's graph, carrying its own artifact set.
type GraphTarget struct {
	Marker    string     `toml:"marker" json:"marker"`
	Resolved  []Resolved `toml:"resolved" json:"resolved"`
}

// Graph is the optional multi-platform resolution graph.
type Graph struct {
	Targets []GraphTarget `toml:"targets,omitempty" json:"targets,omitempty"`
}

// Lock is the full px.lock snapshot (spec.md §3.2.2).
type Lock struct {
	Version             int          `toml:"version" json:"version"`
	ProjectName         string       `toml:"project_name" json:"project_name"`
	PythonRequirement   string       `toml:"python_requirement" json:"python_requirement"`
	ManifestFingerprint string       `toml:"manifest_fingerprint" json:"manifest_fingerprint"`
	LockID              string       `toml:"lock_id" json:"lock_id"`
	Mode                string       `toml:"mode" json:"mode"`
	Dependencies        []Dependency `toml:"dependencies" json:"dependencies"`
	Resolved            []Resolved   `toml:"resolved" json:"resolved"`
	Graph               *Graph       `toml:"graph,omitempty" json:"graph,omitempty"`
}

// lockIDTuple excludes LockID itself (self-referential) when computing the
// lock_id.
type lockIDTuple struct {
	Version             int          `json:"version"`
	ProjectName         string       `json:"project_name"`
	PythonRequirement   string       `json:"python_requirement"`
	ManifestFingerprint string       `json:"manifest_fingerprint"`
	Mode                string       `json:"mode"`
	Dependencies        []Dependency `json:"dependencies"`
	Resolved            []Resolved   `json:"resolved"`
	Graph               *Graph       `json:"graph,omitempty"`
}

// ComputeLockID derives the lock_id from everything in l except the
// lock_id field itself (spec.md §4.2 "Lock id").
func (l Lock) ComputeLockID() (string, error) {
	tuple := lockIDTuple{
		Version:             l.Version,
		ProjectName:         l.ProjectName,
		PythonRequirement:   l.PythonRequirement,
		ManifestFingerprint: l.ManifestFingerprint,
		Mode:                l.Mode,
		Dependencies:        sortedDeps(l.Dependencies),
		Resolved:            sortedResolved(l.Resolved),
		Graph:               l.Graph,
	}
	id, _, err := canon.JSONOID(tuple)
	return id, err
}

func sortedDeps(in []Dependency) []Dependency {
	out := append([]Dependency(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Specifier < out[j].Specifier
	})
	return out
}

func sortedResolved(in []Resolved) []Resolved {
	out := append([]Resolved(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Finalize stamps Version/Mode/LockID in place, called right before a lock
// is written to disk.
func (l *Lock) Finalize() error {
	l.Version = CurrentLockVersion
	l.Mode = ModeP0Pinned
	id, err := l.ComputeLockID()
	if err != nil {
		return errors.Wrap(err, "lockfile: compute lock_id")
	}
	l.LockID = id
	return nil
}

// PinKey is the (normalized_name, sorted_extras) autopin merge key.
type PinKey struct {
	Name   string
	Extras string // comma-joined sorted extras
}

func KeyFor(name string, extras []string) PinKey {
	sorted := append([]string(nil), extras...)
	sort.Strings(sorted)
	return PinKey{Name: CanonicalizeName(name), Extras: joinComma(sorted)}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// DriftEntry describes one direct dependency whose current spec no longer
// matches what the lock has pinned.
type DriftEntry struct {
	Name     string
	Kind     string // "added" | "removed" | "changed"
	Before   string
	After    string
}

// DetectDrift compares the manifest's current direct dependency set against
// the lock's recorded dependency set by (name, extras) key, per spec.md
// §4.2 "Drift detection". A clean lock yields a nil/empty slice.
func DetectDrift(manifest Manifest, lock Lock) []DriftEntry {
	current := make(map[PinKey]string, len(manifest.Dependencies))
	for _, spec := range manifest.Dependencies {
		name, extras, specifier := parseDependencySpec(spec)
		current[KeyFor(name, extras)] = specifier
	}

	locked := make(map[PinKey]string, len(lock.Dependencies))
	for _, d := range lock.Dependencies {
		locked[KeyFor(d.Name, d.Extras)] = d.Specifier
	}

	var drift []DriftEntry
	keys := make(map[PinKey]bool)
	for k := range current {
		keys[k] = true
	}
	for k := range locked {
		keys[k] = true
	}
	sortedKeys := make([]PinKey, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Slice(sortedKeys, func(i, j int) bool {
		if sortedKeys[i].Name != sortedKeys[j].Name {
			return sortedKeys[i].Name < sortedKeys[j].Name
		}
		return sortedKeys[i].Extras < sortedKeys[j].Extras
	})

	for _, k := range sortedKeys {
		cur, curOK := current[k]
		old, oldOK := locked[k]
		switch {
		case curOK && !oldOK:
			drift = append(drift, DriftEntry{Name: k.Name, Kind: "added", After: cur})
		case !curOK && oldOK:
			drift = append(drift, DriftEntry{Name: k.Name, Kind: "removed", Before: old})
		case curOK && oldOK && cur != old:
			drift = append(drift, DriftEntry{Name: k.Name, Kind: "changed", Before: old, After: cur})
		}
	}
	return drift
}

// ParseSpec splits a raw "name[extra1,extra2]==1.0; marker" style spec into
// a Dependency, for callers outside this package that need the same
// splitting DetectDrift uses internally.
func ParseSpec(spec string) Dependency {
	head := spec
	marker := ""
	if idx := indexByte(spec, ';'); idx >= 0 {
		head = spec[:idx]
		marker = spec[idx+1:]
	}
	name, extras, specifier := parseDependencySpec(head)
	return Dependency{Name: name, Specifier: specifier, Extras: extras, Marker: trimSpace(marker)}
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// parseDependencySpec splits a raw "name[extra1,extra2]==1.0" style spec
// into its name, extras, and full specifier string. It does not validate
// version syntax — that's the resolver's job.
func parseDependencySpec(spec string) (name string, extras []string, specifier string) {
	specifier = spec
	open := indexByte(spec, '[')
	close := indexByte(spec, ']')
	if open >= 0 && close > open {
		name = spec[:open]
		extraStr := spec[open+1 : close]
		for _, e := range splitComma(extraStr) {
			extras = append(extras, e)
		}
		return name, extras, specifier
	}
	end := len(spec)
	for i, r := range spec {
		if r == '=' || r == '<' || r == '>' || r == '!' || r == '~' || r == ';' {
			end = i
			break
		}
	}
	return spec[:end], nil, specifier
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// WriteLock serializes l to TOML and writes it atomically to path.
func WriteLock(path string, l Lock) error {
	data, err := Marshal(l)
	if err != nil {
		return errors.Wrap(err, "lockfile: marshal")
	}
	return atomicfile.Write(path, data, 0o644)
}

// ReadLock reads and parses a px.lock file, rejecting a version newer than
// this build supports (spec.md §4.2 "lock upgrade").
func ReadLock(path string) (Lock, error) {
	var l Lock
	data, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := Unmarshal(data, &l); err != nil {
		return l, errors.Wrapf(err, "lockfile: parse %s", path)
	}
	if l.Version > CurrentLockVersion {
		return l, fmt.Errorf("lockfile: %s has version %d, newer than supported %d; upgrade px", path, l.Version, CurrentLockVersion)
	}
	return l, nil
}
