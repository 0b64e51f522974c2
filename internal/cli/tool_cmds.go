package cli

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxctx"
)

func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Manage tool environments",
	}
	cmd.AddCommand(newToolInstallCmd(), newToolListCmd(), newToolRemoveCmd(), newToolRunCmd(), newToolUpgradeCmd())
	return cmd
}

func newToolInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <requirement>",
		Short: "Materialize a ToolEnv for requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				exe, err := p.EnsureToolEnv(ctx, args[0])
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px tool install: "+args[0], map[string]any{"exe_path": exe}), nil
			})
		},
	}
}

func newToolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List materialized ToolEnvs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				dir := filepath.Join(c.CacheRoot, "toolenvs")
				entries, err := os.ReadDir(dir)
				if err != nil {
					if os.IsNotExist(err) {
						return okOutcome("px tool list: none installed", map[string]any{"tools": []string{}}), nil
					}
					return outcome{}, err
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					if e.IsDir() {
						names = append(names, e.Name())
					}
				}
				return okOutcome("px tool list: "+join(names), map[string]any{"tools": names}), nil
			})
		},
	}
}

func newToolRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <requirement>",
		Short: "Remove a ToolEnv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				dir := project.ToolEnvDir(c.CacheRoot, args[0])
				if err := os.RemoveAll(dir); err != nil {
					return outcome{}, err
				}
				return okOutcome("px tool remove: "+args[0], nil), nil
			})
		},
	}
}

func newToolRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <requirement> <module> [args...]",
		Short:              "Run python -m <module> inside requirement's ToolEnv",
		Args:               cobra.MinimumNArgs(2),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			requirement, module, extra := args[0], args[1], args[2:]
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				toolExe, err := p.EnsureToolEnv(ctx, requirement)
				if err != nil {
					return outcome{}, err
				}
				cmdArgs := append([]string{"-m", module}, extra...)
				run := exec.CommandContext(ctx, toolExe, cmdArgs...)
				run.Dir = root
				run.Stdin = os.Stdin
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				err = run.Run()
				code := exitCodeOf(err)
				return okOutcome("px tool run: exit "+itoa(code), map[string]any{"exit_code": code}), targetExitErr(code)
			})
		},
	}
	return cmd
}

func newToolUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <requirement>",
		Short: "Force-rebuild a ToolEnv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				if err := os.RemoveAll(project.ToolEnvDir(c.CacheRoot, args[0])); err != nil {
					return outcome{}, err
				}
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				exe, err := p.EnsureToolEnv(ctx, args[0])
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px tool upgrade: "+args[0], map[string]any{"exe_path": exe}), nil
			})
		},
	}
}
