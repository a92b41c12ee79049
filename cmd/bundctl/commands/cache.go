package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtzx/Fork-webpack-sub002/pkg/cache"
	"github.com/xtzx/Fork-webpack-sub002/pkg/config"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the build cache",
	}

	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCachePruneCommand())

	return cmd
}

// openProjectCache opens the persistent cache configured by the project.
func openProjectCache(ctx context.Context) (*cache.SQLiteCache, error) {
	project, cfgErrs, err := config.NewLoader().Load(configPath)
	if err != nil {
		return nil, err
	}
	if len(cfgErrs) > 0 {
		return nil, fmt.Errorf("config %s is invalid (%d errors)", configPath, len(cfgErrs))
	}
	if !project.Cache.Enabled {
		return nil, fmt.Errorf("project %s has no persistent cache configured", project.Name)
	}

	c, err := cache.NewSQLiteCache(cache.Config{Path: project.Cache.Path})
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show build cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := openProjectCache(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("entries: %d\n", stats.Entries)
			fmt.Printf("total size: %d bytes\n", stats.TotalSize)
			return nil
		},
	}
}

func newCachePruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale cache entries",
		Example: `  # Remove entries not touched in the last week
  bundctl cache prune --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := openProjectCache(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			removed, err := c.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			fmt.Printf("pruned %d entries\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "prune entries not accessed within this duration")

	return cmd
}
