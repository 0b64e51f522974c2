package sandbox

import (
	"context"
	"os"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/canon"
)

// Result is what a pack operation reports back to the CLI (spec.md §6.2
// "pack app|image").
type Result struct {
	Digest  string
	OutPath string
	Pushed  bool
}

// PackApp writes a plain, deterministic, gitignore-respecting bundle of
// srcRoot to outPath: no OCI involved, just a canonical tar.gz.
func PackApp(srcRoot, outPath string, sourceDateEpoch int64) (Result, error) {
	entries, err := walkAppTree(srcRoot)
	if err != nil {
		return Result{}, errors.Wrapf(err, "sandbox: walk source tree %s", srcRoot)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return Result{}, errors.Wrapf(err, "sandbox: create %s", outPath)
	}
	defer f.Close()
	if err := canon.WriteArchive(f, entries, sourceDateEpoch); err != nil {
		return Result{}, errors.Wrap(err, "sandbox: write app bundle")
	}
	return Result{OutPath: outPath}, nil
}

// PackImage assembles spec into an OCI image and, per the caller's request,
// writes it to outPath as a tarball, pushes it to tag via pusher, or both.
func PackImage(ctx context.Context, spec Spec, tag, outPath string, pusher *Pusher) (Result, error) {
	img, err := Build(ctx, spec)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	if outPath != "" {
		ref, err := name.ParseReference(tag)
		if err != nil {
			return Result{}, errors.Wrapf(err, "sandbox: parse tag %q", tag)
		}
		if err := tarball.WriteToFile(outPath, ref, img); err != nil {
			return Result{}, errors.Wrapf(err, "sandbox: write image tarball %s", outPath)
		}
		res.OutPath = outPath
	}
	if pusher != nil {
		digest, err := pusher.Push(ctx, img, tag)
		if err != nil {
			return res, err
		}
		res.Digest = digest
		res.Pushed = true
	}
	if res.Digest == "" {
		h, err := img.Digest()
		if err != nil {
			return res, errors.Wrap(err, "sandbox: digest")
		}
		res.Digest = h.String()
	}
	return res, nil
}
