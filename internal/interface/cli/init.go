package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/app"
	infraConfig "github.com/stagehand-dev/stagehand/internal/infra/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the stagehand home directory and a default setting.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := app.ResolvePathsIn(Config().Home())

			for _, dir := range []string{paths.Home, paths.Etc, paths.Cache, paths.Artifacts, paths.Var} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			if _, err := os.Stat(paths.Setting); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "setting.json already exists at %s (use --force to overwrite)\n", paths.Setting)
				return nil
			}
			if err := os.WriteFile(paths.Setting, infraConfig.CreateDefaultSettings(), 0644); err != nil {
				return fmt.Errorf("write setting.json: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", paths.Home)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing setting.json")
	return cmd
}
