package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/pxctx"
)

// buildRequirement pins the PEP 517 frontend `build` invokes into its own
// ToolEnv, the same isolation quality tools get (spec.md §4.6.1).
const buildRequirement = "build"

func newBuildCmd() *cobra.Command {
	var sdist, wheel, both bool
	var outDir string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Produce source/wheel distributions via the build pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				dists := buildTargets(sdist, wheel, both)
				out := outDir
				if out == "" {
					out = filepath.Join(root, "dist")
				}
				if dryRun {
					return okOutcome(fmt.Sprintf("px build: would produce %v into %s", dists, out), map[string]any{"dists": dists, "out": out}), nil
				}

				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				toolExe, err := p.EnsureToolEnv(ctx, buildRequirement)
				if err != nil {
					return outcome{}, err
				}
				if err := os.MkdirAll(out, 0o755); err != nil {
					return outcome{}, err
				}

				cmdArgs := []string{"-m", "build", "--outdir", out}
				for _, d := range dists {
					cmdArgs = append(cmdArgs, "--"+d)
				}
				run := exec.CommandContext(ctx, toolExe, cmdArgs...)
				run.Dir = root
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				run.Stdin = os.Stdin
				if err := run.Run(); err != nil {
					return outcome{}, err
				}
				return okOutcome(fmt.Sprintf("px build: wrote %v to %s", dists, out), map[string]any{"dists": dists, "out": out}), nil
			})
		},
	}
	cmd.Flags().BoolVar(&sdist, "sdist", false, "build a source distribution")
	cmd.Flags().BoolVar(&wheel, "wheel", false, "build a wheel")
	cmd.Flags().BoolVar(&both, "both", false, "build both sdist and wheel")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: <project>/dist)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be built without building")
	return cmd
}

func buildTargets(sdist, wheel, both bool) []string {
	switch {
	case both:
		return []string{"sdist", "wheel"}
	case sdist && wheel:
		return []string{"sdist", "wheel"}
	case sdist:
		return []string{"sdist"}
	case wheel:
		return []string{"wheel"}
	default:
		return []string{"sdist", "wheel"}
	}
}
