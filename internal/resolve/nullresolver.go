package resolve

import (
	"context"

	"github.com/px-dev/px/internal/pxerr"
)

// NullResolver is the Resolver used when PX_RESOLVER=0: resolver-driven
// pinning is disabled, so any spec that still needs pinning is a user error
// rather than something silently resolved (spec.md §6.3 "strict manual
// pins only").
type NullResolver struct{}

func (NullResolver) Resolve(ctx context.Context, specs []string, env MarkerEnv) (Result, error) {
	if len(specs) > 0 {
		return Result{}, pxerr.New(pxerr.CodeUnpinnedForbidden, pxerr.User, "resolver_disabled",
			"one or more dependencies are unpinned but PX_RESOLVER=0 forbids resolver-driven pinning",
			"pin every dependency to an exact version (name==X.Y.Z), or unset PX_RESOLVER")
	}
	return Result{}, nil
}
