package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/app/config"
	infraConfig "github.com/stagehand-dev/stagehand/internal/infra/config"
	"github.com/stagehand-dev/stagehand/internal/interface/cli/run"
)

// globalConfig and globalLog are loaded once in PersistentPreRunE and read
// by every command
var (
	globalConfig config.Config
	globalLog    app.Logger = app.NopLogger{}
)

func Config() config.Config { return globalConfig }
func Log() app.Logger       { return globalLog }

func NewRoot() *cobra.Command {
	var (
		homeFlag string
		verbose  bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:           "stagehand",
		Short:         "Stagehand drives content work items through the staged pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: --home flag > STAGEHAND_HOME > default
			baseDir := ".stagehand"
			if home := os.Getenv("STAGEHAND_HOME"); home != "" {
				baseDir = home
			}
			if homeFlag != "" {
				baseDir = homeFlag
			}

			cfg, err := infraConfig.LoadSettings(baseDir)
			if err != nil {
				return err
			}
			globalConfig = cfg

			level := app.ParseLevel(cfg.StderrLevel())
			if verbose {
				level = app.LevelDebug
			}
			if quiet {
				level = app.LevelError
			}
			globalLog = app.NewLogger(os.Stderr, level)
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}

	cmd.PersistentFlags().StringVar(&homeFlag, "home", "", "stagehand home directory (default .stagehand)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "errors only")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(run.NewRunCmd(Config, Log))
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
