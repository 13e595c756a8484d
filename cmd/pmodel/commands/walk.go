package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/internal/printer"
)

var (
	walkWorkers string
	walkResume  []string
	walkSteps   int
	walkSeed    int64
)

var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Run walkers in this process",
	Long: `Run one or more walkers in the current process until they reach their
step limit or are interrupted. Interrupted walkers flush their history and
snapshot before exiting, so they can be resumed.

Examples:
  # One walker, worker id 0
  pmodel walk

  # Four walkers resuming from the global hiscore file
  pmodel walk --workers 0-3 --resume output/hiscore.json`,
	RunE: runWalk,
}

func init() {
	walkCmd.Flags().StringVarP(&walkWorkers, "workers", "w", "0", "Worker id or inclusive range (e.g. 0-3)")
	walkCmd.Flags().StringSliceVar(&walkResume, "resume", nil, "Snapshot or hiscore files to resume from (repeatable)")
	walkCmd.Flags().IntVar(&walkSteps, "steps", 0, "Override walk.max_steps")
	walkCmd.Flags().Int64Var(&walkSeed, "seed", 0, "Override the base seed")
	rootCmd.AddCommand(walkCmd)
}

func runWalk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if walkSteps > 0 {
		cfg.Walk.MaxSteps = walkSteps
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = walkSeed
	}

	first, last, err := workerRangeFlag(walkWorkers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, err := planJobs(ctx, first, last, walkResume)
	if err != nil {
		return err
	}

	runner, err := orchestrator.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up walkers: %w", err)
	}
	defer runner.Close()

	printer.Step("Walking %d workers for %d steps into %s\n", len(jobs), cfg.Walk.MaxSteps, cfg.RunDir())
	if err := runner.Run(ctx, jobs); err != nil {
		if errors.Is(err, context.Canceled) {
			printer.Warning("Interrupted: walker state has been flushed\n")
		}
		return err
	}

	printer.Success("Walk complete. Merge the results with 'pmodel consolidate'\n")
	return nil
}

// planJobs plans a worker range, resolving resume paths against the working
// directory. An unreadable snapshot is reported before anything starts.
func planJobs(ctx context.Context, first, last int, resume []string) ([]orchestrator.Job, error) {
	snapshots := make([]string, 0, len(resume))
	for _, p := range resume {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		snapshots = append(snapshots, abs)
	}

	jobs, err := orchestrator.Plan(ctx, first, last, snapshots)
	if errors.Is(err, orchestrator.ErrSnapshot) {
		return nil, printer.Error(
			"cannot resume",
			err.Error(),
			[]string{"Check the --resume files, or start fresh walkers without --resume."},
		)
	}
	return jobs, err
}
