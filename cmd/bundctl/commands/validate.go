package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtzx/Fork-webpack-sub002/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project configuration",
		Long: `Parse and validate the project configuration without building.

Checks:
  - CUE/YAML syntax
  - Required fields and value constraints
  - Entry name uniqueness and depend_on targets`,
		Example: `  # Validate bundctl.cue in the current directory
  bundctl validate

  # Validate a specific config and print the parsed form
  bundctl validate -c web/bundctl.cue --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, cfgErrs, err := config.NewLoader().Load(configPath)
			if err != nil {
				return err
			}

			if len(cfgErrs) > 0 {
				for _, e := range cfgErrs {
					if e.Line > 0 {
						fmt.Fprintf(os.Stderr, "%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
					} else {
						fmt.Fprintf(os.Stderr, "%s: %s: %s\n", e.File, e.Path, e.Message)
					}
				}
				return fmt.Errorf("config %s is invalid (%d errors)", configPath, len(cfgErrs))
			}

			if jsonOutput {
				out, err := json.MarshalIndent(project, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("%s is valid: project %q with %d entries\n", configPath, project.Name, len(project.Entries))
			for _, e := range project.Entries {
				fmt.Printf("  entry %s: %d references, %d includes\n", e.Name, len(e.References), len(e.Includes))
			}
			return nil
		},
	}

	return cmd
}
