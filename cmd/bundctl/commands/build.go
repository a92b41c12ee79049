package commands

import (
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	var (
		bail     bool
		fastPath bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project once",
		Long: `Build the project: discover the dependency graph from the configured
entries, seal it into output groups, and write the artifacts.

The build:
  - Resolves and builds every reachable module
  - Reuses cached builds when files are unchanged
  - Extracts units shared across entries into common groups
  - Writes content-hashed bundles to the output directory`,
		Example: `  # Build using bundctl.cue in the current directory
  bundctl build

  # Build a specific project, stopping at the first error
  bundctl build -c web/bundctl.cue --bail

  # Opt into fast-path reuse of prior-run resolutions
  bundctl build --fast`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newBuildEnv(ctx, configPath)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			if bail {
				env.project.Build.Bail = true
			}
			if fastPath {
				env.project.Build.FastPathCache = true
			}

			_, err = env.runOnce(ctx)
			return err
		},
	}

	cmd.Flags().BoolVar(&bail, "bail", false, "stop at the first error")
	cmd.Flags().BoolVar(&fastPath, "fast", false, "reuse remembered resolutions from a prior run")

	return cmd
}
