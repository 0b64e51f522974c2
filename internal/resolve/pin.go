package resolve

import (
	"sort"
	"strings"

	"github.com/px-dev/px/internal/lockfile"
)

// PinSpec is a fully-resolved direct dependency pin, grounded on
// original_source's px-domain PinSpec (spec.md §4.3).
type PinSpec struct {
	Name       string
	Specifier  string
	Version    string
	Normalized string
	Extras     []string
	Marker     string
	Direct     bool
	Requires   []string
}

// SpecRequiresPin reports whether spec has no "==" in its version clause
// (i.e. it still needs the resolver to choose a version), mirroring
// original_source's spec_requires_pin().
func SpecRequiresPin(spec string) bool {
	head := spec
	if idx := strings.Index(spec, ";"); idx >= 0 {
		head = spec[:idx]
	}
	return !strings.Contains(strings.TrimSpace(head), "==")
}

// MergeResolved replaces each direct spec that needs pinning and whose
// marker applies with the resolver's corresponding pinned spec, in order,
// preserving every other spec unchanged (original_source's
// merge_resolved_dependencies()).
func MergeResolved(original []string, resolvedPins []PinSpec, env MarkerEnv) []string {
	merged := make([]string, 0, len(original))
	pins := resolvedPins
	for _, spec := range original {
		if SpecRequiresPin(spec) && MarkerApplies(spec, env) && len(pins) > 0 {
			merged = append(merged, pins[0].Specifier)
			pins = pins[1:]
			continue
		}
		merged = append(merged, spec)
	}
	return merged
}

// AutopinKey is the (normalized_name, sorted_extras) merge key used by
// autopin (original_source's autopin_pin_key/autopin_spec_key, generalized
// here as one function both a raw spec and a resolved PinSpec can feed).
func AutopinKey(name string, extras []string) string {
	normalized := lockfile.CanonicalizeName(name)
	sorted := append([]string(nil), extras...)
	for i := range sorted {
		sorted[i] = strings.ToLower(sorted[i])
	}
	sort.Strings(sorted)
	return normalized + "|" + strings.Join(sorted, ",")
}

// Autopin merges freshly-derived pins with the lock's existing pins by
// AutopinKey: if an existing pin still satisfies the freshly-derived
// specifier's constraint, it is kept rather than bumped, giving stable
// resolution across repeated `sync` runs (spec.md §4.3 "Autopin merges...").
func Autopin(fresh []PinSpec, existing []PinSpec, satisfies func(specifier, version string) bool) []PinSpec {
	existingByKey := make(map[string]PinSpec, len(existing))
	for _, p := range existing {
		existingByKey[AutopinKey(p.Name, p.Extras)] = p
	}

	out := make([]PinSpec, 0, len(fresh))
	for _, p := range fresh {
		key := AutopinKey(p.Name, p.Extras)
		if old, ok := existingByKey[key]; ok && satisfies(p.Specifier, old.Version) {
			out = append(out, old)
			continue
		}
		out = append(out, p)
	}
	return out
}
