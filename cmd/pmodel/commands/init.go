package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/scaffold"
)

var (
	forceInit   bool
	initRunName string
	initSeed    int64
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a new protomodels run",
	Long: `Initialize a new run with a default configuration and example inputs.

Creates:
  • pmodel.yml  - Run configuration
  • catalog.yml - Example analysis catalog
  • policy.yml  - Example combination policy

Use --force to reinitialize an existing run (WARNING: overwrites existing configuration).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite existing pmodel.yml, catalog.yml and policy.yml")
	initCmd.Flags().StringVar(&initRunName, "run-name", "protomodels", "Run name (DNS-compatible)")
	initCmd.Flags().Int64Var(&initSeed, "seed", 0, "Base random seed")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	opts := scaffold.Options{RunName: initRunName, Seed: initSeed, Force: forceInit}
	if err := scaffold.Initialize(dir, opts); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess(dir)
	return nil
}
