// Package resolve implements the merge step between an external resolver's
// pinned specs and a project's direct dependency set: marker evaluation,
// PEP 503 name canonicalization, and autopin-by-(name,extras) (spec.md
// §4.3). Resolver is the interface to the resolver proper — turning specs
// and a marker environment into ResolvedSpecifier records; besides the merge
// step, the package carries a minimal index-backed implementation
// (NewPyPIResolver, httpresolver.go) and NullResolver.
package resolve

import (
	"context"

	"github.com/px-dev/px/internal/lockfile"
)

// Result is everything an external resolve call returns: the direct specs'
// pins, in the same order as the specs passed in, plus the full
// transitively-closed distribution set the lock's resolved[] records
// (spec.md §3.2.2 "resolved = one entry per transitively-closed
// distribution").
type Result struct {
	Pins     []PinSpec
	Resolved []lockfile.Resolved
}

// Resolver is the external capability that turns a project's direct specs
// into resolver-pinned specs and a transitive closure against a marker
// environment (spec.md §4.3 "the resolver proper is external"). Callers
// (internal/project) inject a concrete implementation; tests substitute a
// fake returning canned pins.
type Resolver interface {
	Resolve(ctx context.Context, specs []string, env MarkerEnv) (Result, error)
}
