package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/printer"
)

// ErrNothingToDo is returned by commands that found no work. It maps to
// exit code 2.
var ErrNothingToDo = errors.New("nothing to do")

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pmodel",
	Short: "pmodel - protomodel search over experimental results",
	Long: `pmodel searches for the particle-physics protomodels that best explain a
catalog of experimental results.

Many independent walkers hill-climb through model space. Each candidate is
scored by the most significant combination of analyses that may be combined,
and the best models are collected into crash-safe hiscore files that a
consolidator merges and trims.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// Errors are printed by the printer package, not by cobra
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil && !printer.IsRendered(err) && !errors.Is(err, ErrNothingToDo) {
		printer.Error("Error", err.Error(), nil)
	}
	return err
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNothingToDo):
		return 2
	default:
		return 1
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pmodel.yml", "Path of the run configuration")
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		return nil, printer.Error(
			"configuration not found",
			fmt.Sprintf("No configuration file at %s.", abs),
			[]string{
				"Create one in this directory:\n  pmodel init",
				"Point to an existing one:\n  pmodel --config path/to/pmodel.yml ...",
			},
		)
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": abs},
			[]string{"Fix the configuration and try again."},
		)
	}
	return cfg, nil
}

// absConfigPath returns --config as an absolute path.
func absConfigPath() (string, error) {
	return filepath.Abs(configPath)
}
