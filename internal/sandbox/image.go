package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/pkg/errors"
)

// Spec describes the image to assemble (spec.md §4.8).
type Spec struct {
	BaseImage       string // sandbox.base, e.g. "python:3.11-slim"
	EnvDir          string
	ProfileOID      string
	SrcRoot         string
	SystemDepsDir   string // optional prebuilt rootfs; empty to skip
	EnvVars         map[string]string
	ManageCommand   string
	SourceDateEpoch int64
	Insecure        bool
}

// Build pulls Spec.BaseImage, appends the environment, application, and
// optional system-deps layers on top of it, and sets the resulting image's
// runtime config (spec.md §4.8).
func Build(ctx context.Context, spec Spec) (v1.Image, error) {
	base, err := pullBase(ctx, spec.BaseImage, spec.Insecure)
	if err != nil {
		return nil, err
	}

	env, err := envLayer(spec.EnvDir, spec.ProfileOID, spec.SourceDateEpoch)
	if err != nil {
		return nil, err
	}
	app, err := appLayer(spec.SrcRoot, spec.SourceDateEpoch)
	if err != nil {
		return nil, err
	}
	layers := []v1.Layer{env, app}
	if spec.SystemDepsDir != "" {
		deps, err := systemDepsLayer(spec.SystemDepsDir, spec.SourceDateEpoch)
		if err != nil {
			return nil, err
		}
		layers = append([]v1.Layer{deps}, layers...)
	}

	img, err := mutate.AppendLayers(base, layers...)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: append layers")
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: read base config")
	}
	cfg := cfgFile.Config
	cfg.WorkingDir = "/" + appPrefix
	cfg.Env = append(cfg.Env, envPairs(spec.EnvVars)...)
	if spec.ManageCommand != "" {
		cfg.Entrypoint = nil
		cfg.Cmd = strings.Fields(spec.ManageCommand)
	}

	img, err = mutate.Config(img, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: set config")
	}
	return img, nil
}

func pullBase(ctx context.Context, ref string, insecure bool) (v1.Image, error) {
	var opts []name.Option
	if insecure {
		opts = append(opts, name.Insecure)
	}
	r, err := name.ParseReference(ref, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox: parse base image %q", ref)
	}
	img, err := remote.Image(r, remote.WithContext(ctx), remote.WithAuthFromKeychain(authn.NewMultiKeychain(
		authn.DefaultKeychain,
		google.Keychain,
	)))
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox: pull base image %q", ref)
	}
	return img, nil
}

// envPairs renders vars as sorted "KEY=value" pairs so the resulting image
// config, and therefore the image digest, is deterministic across builds.
func envPairs(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(vars))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, vars[k]))
	}
	return pairs
}
