// Package sandbox assembles deterministic OCI image layers from a
// materialized environment and a project's source tree (spec.md §4.8):
// a pinned base-OS layer, an optional capability-gated system-deps layer,
// an environment layer, and an application layer, each content-addressed
// and built from a canonical tar so the same inputs always produce the
// same layer digest.
package sandbox

import (
	"io"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/canon"
)

// appPrefix is where the materialized environment and application source
// are rooted inside the image, matching the "stable prefix" spec.md §4.8
// requires for the environment layer.
const appPrefix = "app"

// layerFromEntries builds a v1.Layer from canon.Entry values by streaming a
// canonical, uncompressed tar into tarball.LayerFromOpener: the opener
// rebuilds the same deterministic stream each time it's called (diffID and
// digest both derive from it), so the resulting layer is reproducible for a
// given entry set and SOURCE_DATE_EPOCH.
func layerFromEntries(entries []canon.Entry, sourceDateEpoch int64) (v1.Layer, error) {
	opener := func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(canon.WriteTar(pw, entries, sourceDateEpoch))
		}()
		return pr, nil
	}
	layer, err := tarball.LayerFromOpener(opener)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: build layer")
	}
	return layer, nil
}

// envLayer builds the environment layer: a canonical tar of the
// materialized env directory, paths rewritten under
// app/.px/envs/<profile_oid> (spec.md §4.8).
func envLayer(envDir, profileOID string, sourceDateEpoch int64) (v1.Layer, error) {
	entries, err := canon.WalkTree(envDir)
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox: walk env dir %s", envDir)
	}
	prefix := appPrefix + "/.px/envs/" + profileOID + "/"
	rewritten := make([]canon.Entry, len(entries))
	for i, e := range entries {
		e.Path = prefix + e.Path
		rewritten[i] = e
	}
	return layerFromEntries(rewritten, sourceDateEpoch)
}

// appLayer builds the application layer: a canonical tar of the project
// source tree rooted at app/, respecting .gitignore (spec.md §4.8).
func appLayer(srcRoot string, sourceDateEpoch int64) (v1.Layer, error) {
	entries, err := walkAppTree(srcRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox: walk source tree %s", srcRoot)
	}
	prefix := appPrefix + "/"
	rewritten := make([]canon.Entry, len(entries))
	for i, e := range entries {
		e.Path = prefix + e.Path
		rewritten[i] = e
	}
	return layerFromEntries(rewritten, sourceDateEpoch)
}

// systemDepsLayer builds an optional layer from a prebuilt rootfs directory
// containing apt-installed libraries, gated by capability (spec.md §4.8).
// Its contents are rooted at the image root, not under app/, since it's
// system libraries, not application state.
func systemDepsLayer(rootfsDir string, sourceDateEpoch int64) (v1.Layer, error) {
	entries, err := canon.WalkTree(rootfsDir)
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox: walk system-deps rootfs %s", rootfsDir)
	}
	return layerFromEntries(entries, sourceDateEpoch)
}
