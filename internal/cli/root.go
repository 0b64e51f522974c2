package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/pxctx"
)

// globalFlags holds the flags declared on the root command and visible to
// every subcommand (spec.md §6.2 "Global flags").
type globalFlags struct {
	JSON    bool
	Quiet   bool
	Verbose bool
	Debug   bool
	Trace   bool
	Offline bool
	NoColor bool
}

var flags globalFlags

// RootConfig names the binary and its build metadata, set by cmd/px/main.go
// the way the teacher's RootCommandConfig does.
type RootConfig struct {
	Name    string
	Version string
}

// NewRootCmd builds px's full command tree. It has no action of its own:
// running the binary with no arguments prints the help/usage text.
func NewRootCmd(cfg RootConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           cfg.Name,
		Short:         "Per-project Python package and environment manager",
		Version:       cfg.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "machine-readable JSON output")
	root.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress non-essential output")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "print verbose logs")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "print debug logs")
	root.PersistentFlags().BoolVar(&flags.Trace, "trace", false, "print trace-level logs")
	root.PersistentFlags().BoolVar(&flags.Offline, "offline", false, "force PX_ONLINE=0 for this invocation")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newSyncCmd(),
		newUpdateCmd(),
		newRunCmd(),
		newTestCmd(),
		newFmtCmd(),
		newBuildCmd(),
		newPackCmd(),
		newToolCmd(),
		newPythonCmd(),
		newDebugCmd(),
	)

	return root
}

// loadContext constructs the pxctx.Context for one command invocation,
// honoring --offline (spec.md §9: one Context per invocation, never a
// process-wide singleton).
func loadContext(ctx context.Context) (*pxctx.Context, error) {
	var opts []pxctx.Option
	if flags.Offline {
		opts = append(opts, pxctx.WithOffline())
	}
	return pxctx.Load(ctx, opts...)
}

// runProjectCmd is the common shape behind every project-scoped command: it
// loads a Context, wires a Project rooted at the cwd, runs fn, renders the
// resulting outcome, and returns the process exit code as a cobra error
// (cmd/px/main.go maps it to os.Exit).
func runProjectCmd(cmd *cobra.Command, fn func(ctx context.Context, c *pxctx.Context, root string) (outcome, error)) error {
	ctx := cmd.Context()
	c, err := loadContext(ctx)
	if err != nil {
		report(os.Stderr, errOutcome(err), flags.JSON)
		return &exitError{code: exitCode(err)}
	}
	defer c.Close()

	root, err := os.Getwd()
	if err != nil {
		report(os.Stderr, errOutcome(err), flags.JSON)
		return &exitError{code: 1}
	}

	o, err := fn(ctx, c, root)
	if te, ok := err.(*targetExit); ok {
		if !flags.Quiet {
			report(os.Stdout, o, flags.JSON)
		}
		return &exitError{code: te.code}
	}
	w := os.Stdout
	if err != nil {
		o = errOutcome(err)
		w = os.Stderr
	}
	if !flags.Quiet || err != nil {
		report(w, o, flags.JSON)
	}
	return &exitError{code: exitCode(err)}
}

// exitError carries a concrete process exit code out of cobra's RunE chain
// without cobra printing it again (SilenceErrors is set on the root).
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// ExitCode extracts the exit code carried by an error returned from
// NewRootCmd's Execute, defaulting to 1 for any other error (cmd/px/main.go
// uses this to choose its os.Exit argument).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}
