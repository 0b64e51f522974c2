package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxctx"
)

func newInitCmd() *cobra.Command {
	var pkgName, pyReq string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new project in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				name := pkgName
				if name == "" {
					name = "project"
				}
				if err := project.Init(root, name, pyReq, force); err != nil {
					return outcome{}, err
				}
				return okOutcome(fmt.Sprintf("px init: scaffolded %s", root), nil), nil
			})
		},
	}
	cmd.Flags().StringVar(&pkgName, "package", "", "project name")
	cmd.Flags().StringVar(&pyReq, "py", "", "requires-python constraint")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pyproject.toml")
	return cmd
}

func newAddCmd() *cobra.Command {
	var pin, dryRun bool
	cmd := &cobra.Command{
		Use:   "add <spec>...",
		Short: "Add dependencies, re-resolve, and rewrite the lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				_ = pin // pinning is a resolver/spec-string concern (spec.md §4.3.2), not a sync flag
				if dryRun {
					return okOutcome("px add: dry run, no changes written", map[string]any{"specs": args}), nil
				}
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				res, err := p.Add(ctx, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px add: "+res.State.String(), syncDetails(res)), nil
			})
		},
	}
	cmd.Flags().BoolVar(&pin, "pin", false, "accepted but has no effect; added specs are written as given")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "echo the requested specs without resolving or writing")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove dependencies, re-resolve, and rewrite the lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				if dryRun {
					return okOutcome("px remove: dry run, no changes written", map[string]any{"names": args}), nil
				}
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				res, err := p.Remove(ctx, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px remove: "+res.State.String(), syncDetails(res)), nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "echo the requested names without resolving or writing")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var frozen, dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the environment and lock with the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				res, err := p.Sync(ctx, project.SyncOptions{Frozen: frozen, DryRun: dryRun})
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px sync: "+res.State.String(), syncDetails(res)), nil
			})
		},
	}
	cmd.Flags().BoolVar(&frozen, "frozen", false, "fail on drift instead of re-resolving")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without writing")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-resolve using the latest compatible versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				if dryRun {
					return okOutcome("px update: dry run, no changes written", map[string]any{"names": args}), nil
				}
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				res, err := p.Update(ctx, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px update: "+res.State.String(), syncDetails(res)), nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "echo the requested names without resolving or writing")
	return cmd
}

func newRunCmd() *cobra.Command {
	var frozen bool
	cmd := &cobra.Command{
		Use:                "run <target> [args...]",
		Short:              "Execute a module/script/executable in the environment, auto-syncing unless frozen",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			args, frozenFlag := splitFrozenFlag(args)
			frozen = frozen || frozenFlag
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				code, err := p.Run(ctx, project.RunOptions{Frozen: frozen}, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px run: exit "+fmt.Sprint(code), map[string]any{"exit_code": code}), targetExitErr(code)
			})
		},
	}
	return cmd
}

func newTestCmd() *cobra.Command {
	var frozen bool
	cmd := &cobra.Command{
		Use:                "test [args...]",
		Short:              "Invoke the configured test runner in its own ToolEnv",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			args, frozenFlag := splitFrozenFlag(args)
			frozen = frozen || frozenFlag
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				code, err := p.Test(ctx, project.RunOptions{Frozen: frozen}, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px test: exit "+fmt.Sprint(code), map[string]any{"exit_code": code}), targetExitErr(code)
			})
		},
	}
	return cmd
}

func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "fmt [-- args...]",
		Short:              "Invoke the configured formatter in its own ToolEnv, auto-installing if missing",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				code, err := p.Fmt(ctx, project.RunOptions{}, args)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px fmt: exit "+fmt.Sprint(code), map[string]any{"exit_code": code}), targetExitErr(code)
			})
		},
	}
	return cmd
}

// splitFrozenFlag pulls a leading "--frozen" out of args, since run/test use
// DisableFlagParsing so the target's own flags pass through untouched.
func splitFrozenFlag(args []string) ([]string, bool) {
	out := args[:0:0]
	frozen := false
	for _, a := range args {
		if a == "--frozen" {
			frozen = true
			continue
		}
		out = append(out, a)
	}
	return out, frozen
}

// targetExitErr turns a propagated target exit code into the error
// runProjectCmd's exit-code mapping understands, without minting a
// misleading pxerr.Error for what is not a px-level failure.
func targetExitErr(code int) error {
	if code == 0 {
		return nil
	}
	return &targetExit{code: code}
}

type targetExit struct{ code int }

func (e *targetExit) Error() string { return fmt.Sprintf("target exited %d", e.code) }

func syncDetails(res project.SyncResult) map[string]any {
	return map[string]any{
		"state":        res.State.String(),
		"lock_changed": res.LockChanged,
		"env_changed":  res.EnvChanged,
		"drift":        res.Drift,
	}
}
