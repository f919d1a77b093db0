package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/veil/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     *slog.Logger

	// Persistent flags
	cfgFile string
	dbURL   string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "veil",
	Short: "PostgreSQL data masking",
	Long: `veil - PostgreSQL data masking

Veil rewrites the queries of labelled roles so that every read of a labelled
column returns its masking expression instead of the stored value.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		switch {
		case quiet:
			cfg.Log.Level = "error"
		case verbose > 0:
			cfg.Log.Level = "debug"
		}
		logger, err = cfg.Logger(os.Stderr)
		if err != nil {
			return cli.ConfigError("configuring logger", err)
		}
		slog.SetDefault(logger)

		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupMasking = "masking"
	groupUtility = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover veil.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database URL")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	// Define command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: groupMasking, Title: "Masking:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	// Masking commands
	rewriteCmd.GroupID = groupMasking
	labelCmd.GroupID = groupMasking
	doctorCmd.GroupID = groupMasking
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(doctorCmd)

	// Utility commands
	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN() (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}
