package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/xtzx/Fork-webpack-sub002/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build and rebuild on file changes",
		Long: `Build the project, then observe the configured paths and rebuild when
files change. Change bursts are debounced so one save of many files
triggers a single rebuild; unchanged modules are served from the cache.`,
		Example: `  # Watch the project in the current directory
  bundctl watch

  # Watch a specific project
  bundctl watch -c web/bundctl.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newBuildEnv(ctx, configPath)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			log := env.tel.Logger

			// Failed builds stay in watch mode; the next change retries.
			if _, err := env.runOnce(ctx); err != nil {
				log.WithError(err).Error("initial build failed")
			}

			w, err := watch.New(watch.Options{
				Paths:    env.project.Watch.Paths,
				Debounce: env.project.Watch.Debounce,
				Ignore:   append([]string{env.project.Build.OutputDir, ".bundcache"}, env.project.Watch.Ignore...),
				Logger:   log.Zerolog(),
			})
			if err != nil {
				return err
			}

			log.Infof("watching %d paths", len(env.project.Watch.Paths))

			err = w.Run(ctx, func(cs *watch.ChangeSet) {
				_ = env.tel.Events.PublishWatchTriggered(cs.Paths())
				log.Infof("rebuilding after %d changes", cs.Len())
				if _, err := env.runOnce(ctx); err != nil {
					log.WithError(err).Error("rebuild failed")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	return cmd
}
