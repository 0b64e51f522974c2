package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/project"
	"github.com/px-dev/px/internal/pxctx"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "debug", Short: "Operational tooling"}
	cache := &cobra.Command{Use: "cache", Short: "Inspect and maintain the CAS"}
	cache.AddCommand(
		newDebugCachePathCmd(),
		newDebugCacheStatsCmd(),
		newDebugCachePruneCmd(),
		newDebugCachePrefetchCmd(),
		newDebugCacheTidyCmd(),
	)
	cmd.AddCommand(cache)
	return cmd
}

func newDebugCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the CAS/cache/envs roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				details := map[string]any{
					"store_root": c.StoreRoot,
					"cache_root": c.CacheRoot,
					"envs_root":  c.EnvsRoot,
				}
				return okOutcome("px debug cache path: "+c.StoreRoot, details), nil
			})
		},
	}
}

func newDebugCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report a lightweight integrity summary of the CAS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				summary, err := c.Store.Doctor(ctx, false, 0.05)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px debug cache stats", map[string]any{
					"partials_swept":     summary.PartialsSwept,
					"verified":           summary.Verified,
					"corrupt_removed":    summary.CorruptRemoved,
					"missing_rows_added": summary.MissingRowsAdded,
				}), nil
			})
		},
	}
}

func newDebugCachePruneCmd() *cobra.Command {
	var grace time.Duration
	var maxSize int64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Reclaim zero-ref objects older than --grace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				summary, err := c.Store.GarbageCollect(ctx, grace, maxSize)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px debug cache prune", map[string]any{
					"objects_reclaimed":  summary.ObjectsReclaimed,
					"bytes_reclaimed":    summary.BytesReclaimed,
					"orphan_blobs_purged": summary.OrphanBlobsPurged,
					"orphan_rows_purged":  summary.OrphanRowsPurged,
				}), nil
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 7*24*time.Hour, "minimum age of a zero-ref object before it's reclaimed")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "evict further oldest-first until under this byte budget (0: no limit)")
	return cmd
}

func newDebugCachePrefetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch",
		Short: "Warm the CAS with this project's resolved dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				p, err := c.NewProject(ctx, root)
				if err != nil {
					return outcome{}, err
				}
				res, err := p.Sync(ctx, project.SyncOptions{})
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px debug cache prefetch: "+res.State.String(), syncDetails(res)), nil
			})
		},
	}
}

func newDebugCacheTidyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tidy",
		Short: "Run a full (non-sampled) CAS integrity pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCmd(cmd, func(ctx context.Context, c *pxctx.Context, root string) (outcome, error) {
				summary, err := c.Store.Doctor(ctx, true, 1.0)
				if err != nil {
					return outcome{}, err
				}
				return okOutcome("px debug cache tidy", map[string]any{
					"partials_swept":     summary.PartialsSwept,
					"verified":           summary.Verified,
					"corrupt_removed":    summary.CorruptRemoved,
					"index_rebuilt":      summary.IndexRebuilt,
					"missing_rows_added": summary.MissingRowsAdded,
				}), nil
			})
		},
	}
}
