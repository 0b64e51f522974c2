package cli

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxctx"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/sandbox"
)

func newPackCmd() *cobra.Command {
	var tag, out string
	var push, insecure bool
	cmd := &cobra.Command{
		Use:   "pack app|image",
		Short: "Produce a deterministic app bundle or OCI image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				switch kind {
				case "app":
					return packApp(root, out)
				case "image":
					return packImage(ctx, c, root, tag, out, push, insecure)
				default:
					return outcome{}, pxerr.New(pxerr.CodeTargetNotFound, pxerr.User, "unknown_pack_target",
						"pack target must be \"app\" or \"image\"", "use `px pack app` or `px pack image`")
				}
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "image tag (pack image)")
	cmd.Flags().StringVar(&out, "out", "", "output path")
	cmd.Flags().BoolVar(&push, "push", false, "push the built image (pack image)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "allow an insecure (HTTP/self-signed) registry")
	return cmd
}

func packApp(root, out string) (outcome, error) {
	if out == "" {
		out = root + ".tar.gz"
	}
	res, err := sandbox.PackApp(root, out, sourceDateEpoch())
	if err != nil {
		return outcome{}, err
	}
	return okOutcome("px pack app: wrote "+res.OutPath, map[string]any{"out": res.OutPath}), nil
}

func packImage(ctx context.Context, c *pxctx.Context, root, tag, out string, push, insecure bool) (outcome, error) {
	sbCfg, err := project.LoadSandboxConfig(root)
	if err != nil {
		return outcome{}, err
	}
	if sbCfg.Base == "" {
		return outcome{}, pxerr.New(pxerr.CodeSandboxBaseUnavailable, pxerr.User, "no_sandbox_base",
			"no [tool.px.sandbox].base configured for this project",
			"set [tool.px.sandbox] base = \"<image>\" in pyproject.toml")
	}

	p, err := c.NewProject(ctx, root)
	if err != nil {
		return outcome{}, err
	}
	_, snap, err := p.State(ctx)
	if err != nil {
		return outcome{}, err
	}
	if snap.StateFile == nil || snap.StateFile.CurrentEnv == nil {
		return outcome{}, pxerr.New(pxerr.CodeMissingRuntime, pxerr.User, "no_materialized_env",
			"project has no materialized environment to pack", "run `px sync` first")
	}

	manageCommand := ""
	envVars := map[string]string(nil)
	if snap.Manifest != nil {
		manageCommand = snap.Manifest.Options.ManageCommand
		envVars = snap.Manifest.Options.EnvVars
	}

	spec := sandbox.Spec{
		BaseImage:       sbCfg.Base,
		EnvDir:          snap.StateFile.CurrentEnv.EnvPath,
		ProfileOID:      snap.StateFile.CurrentEnv.ProfileOID,
		SrcRoot:         root,
		EnvVars:         envVars,
		ManageCommand:   manageCommand,
		SourceDateEpoch: sourceDateEpoch(),
		Insecure:        insecure,
	}

	if tag == "" {
		return outcome{}, pxerr.New(pxerr.CodeTargetNotFound, pxerr.User, "missing_tag",
			"pack image requires --tag", "pass --tag <registry>/<repo>:<tag>")
	}

	var pusher *sandbox.Pusher
	if push {
		pusher = sandbox.NewPusher(insecure)
		pusher.Token = c.Effects.Token
	}
	res, err := sandbox.PackImage(ctx, spec, tag, out, pusher)
	if err != nil {
		return outcome{}, pxerr.Wrap(err, pxerr.CodeSandboxBuildFailed, pxerr.Operational, "sandbox_build_failed",
			"failed to build the image", "check the base image and registry credentials")
	}
	details := map[string]any{"digest": res.Digest, "pushed": res.Pushed}
	if res.OutPath != "" {
		details["out"] = res.OutPath
	}
	return okOutcome("px pack image: "+res.Digest, details), nil
}

// sourceDateEpoch reads SOURCE_DATE_EPOCH (spec.md §6.3), defaulting to the
// Unix epoch for fully reproducible archives when unset.
func sourceDateEpoch() int64 {
	v := os.Getenv("SOURCE_DATE_EPOCH")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
