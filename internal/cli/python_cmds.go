package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxctx"
	"github.com/px-dev/px/internal/pxerr"
)

func newPythonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "python",
		Short: "Manage runtime channels",
	}
	cmd.AddCommand(newPythonListCmd(), newPythonInstallCmd(), newPythonUseCmd(), newPythonInfoCmd())
	return cmd
}

func newPythonListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered runtime channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				reg, err := project.LoadRuntimeRegistry(c.RegistryPath)
				if err != nil {
					return outcome{}, err
				}
				names := reg.ChannelNames()
				return okOutcome("px python list: "+join(names), map[string]any{"channels": names}), nil
			})
		},
	}
}

func newPythonInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <version>",
		Short: "Register a new runtime channel (not yet automated)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				return outcome{}, pxerr.New(pxerr.CodeUnsupportedCapability, pxerr.User, "runtime_install_unsupported",
					"px cannot fetch and register a new runtime channel yet",
					"register an entry for "+args[0]+" in PX_RUNTIME_REGISTRY manually, or point PX_RUNTIME_PYTHON at an existing interpreter")
			})
		},
	}
}

func newPythonUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <version>",
		Short: "Pin this project's [tool.px].python override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				if err := project.SetPythonOverride(root, args[0]); err != nil {
					return outcome{}, err
				}
				return okOutcome("px python use: "+args[0], nil), nil
			})
		},
	}
}

func newPythonInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the interpreter px would resolve for this invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				exe := c.RuntimePython
				if exe == "" {
					exe = "python3"
				}
				abi, err := c.Effects.Python.Probe(ctx, exe)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px python info: "+exe+" ("+abi+")", map[string]any{"exe_path": exe, "runtime_abi": abi}), nil
			})
		},
	}
}
