package cas

import (
	"bytes"
	"context"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/px-dev/px/internal/canon"
)

// MaterializeArchive unpacks oid's tar.gz payload into dst and hardens it
// read-only, refusing to materialize an object whose kind isn't one of the
// archive-payload kinds (pkg-build/runtime/repo-snapshot). Used by the
// environment materializer to project pkg-build and runtime objects into
// materialized-pkg-builds/<oid> and materialized-runtimes/<oid> (spec.md
// §3.1 directory layout).
func (s *Store) MaterializeArchive(ctx context.Context, oid string, dst string) error {
	env, err := s.Load(ctx, oid)
	if err != nil {
		return err
	}
	switch env.Kind {
	case KindPkgBuild, KindRuntime, KindRepoSnapshot:
	default:
		return fmt.Errorf("cas: oid %s is a %s object, not archive-backed", oid, env.Kind)
	}
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "cas: mkdir %s", dst)
	}
	if err := canon.ExtractArchive(bytes.NewReader(payload), dst); err != nil {
		return pkgerrors.Wrapf(err, "cas: extract %s %s", env.Kind, oid)
	}
	return canon.Harden(dst)
}
