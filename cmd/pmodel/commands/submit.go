package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/internal/printer"
	"github.com/dyluth/protomodels/internal/scheduler"
)

var (
	submitWorkers string
	submitResume  []string
	submitSeed    int64
	submitWait    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit walker jobs to the configured scheduler",
	Long: `Plan a range of workers and submit them to the scheduler named in
pmodel.yml. Workers are grouped into jobs of scheduler.workers_per_job.

When resuming, every model of every --resume file is a start point and the
start points are dealt to the workers round-robin. An unreadable file fails
the submission before any job starts.

Examples:
  pmodel submit --workers 0-15
  pmodel submit --workers 0-15 --resume output/hiscore.json`,
	RunE: runSubmit,
}

var (
	resubmitWorkers string
	resubmitResume  []string
)

var resubmitCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Resubmit workers that left no hiscore file",
	Long: `Find the workers of a range that have no hiscore file in the run
directory and submit them again. Exits with status 2 when every worker has
reported.`,
	RunE: runResubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitWorkers, "workers", "w", "", "Worker id or inclusive range (e.g. 0-15)")
	submitCmd.Flags().StringSliceVar(&submitResume, "resume", nil, "Snapshot or hiscore files to resume from (repeatable)")
	submitCmd.Flags().Int64Var(&submitSeed, "seed", 0, "Override the base seed of the workers")
	submitCmd.Flags().BoolVar(&submitWait, "wait", true, "Wait for local jobs to finish")
	submitCmd.MarkFlagRequired("workers")
	rootCmd.AddCommand(submitCmd)

	resubmitCmd.Flags().StringVarP(&resubmitWorkers, "workers", "w", "", "Worker range that was submitted (e.g. 0-15)")
	resubmitCmd.Flags().StringSliceVar(&resubmitResume, "resume", nil, "Snapshot or hiscore files to resume from (repeatable)")
	resubmitCmd.MarkFlagRequired("workers")
	rootCmd.AddCommand(resubmitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	first, last, err := workerRangeFlag(submitWorkers)
	if err != nil {
		return err
	}

	ctx := context.Background()
	jobs, err := planJobs(ctx, first, last, submitResume)
	if err != nil {
		return err
	}

	var seed *int64
	if cmd.Flags().Changed("seed") {
		seed = &submitSeed
	}
	return submitJobs(ctx, cfg, jobs, seed, submitWait)
}

func runResubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	first, last, err := workerRangeFlag(resubmitWorkers)
	if err != nil {
		return err
	}

	missing, err := orchestrator.MissingWorkers(cfg.RunDir(), first, last)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		printer.Success("All workers %d-%d have reported, nothing to resubmit\n", first, last)
		return ErrNothingToDo
	}

	ctx := context.Background()
	planned, err := planJobs(ctx, first, last, resubmitResume)
	if err != nil {
		return err
	}
	jobs := selectWorkers(planned, missing)

	ids := make([]string, len(missing))
	for i, id := range missing {
		ids[i] = fmt.Sprint(id)
	}
	printer.Step("Resubmitting %d workers: %s\n", len(missing), strings.Join(ids, ", "))
	return submitJobs(ctx, cfg, jobs, nil, true)
}

// selectWorkers keeps the jobs of the given worker ids.
func selectWorkers(jobs []orchestrator.Job, ids []int) []orchestrator.Job {
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []orchestrator.Job
	for _, j := range jobs {
		if keep[j.WorkerID] {
			out = append(out, j)
		}
	}
	return out
}

func submitJobs(ctx context.Context, cfg *config.Config, jobs []orchestrator.Job, seed *int64, wait bool) error {
	path, err := absConfigPath()
	if err != nil {
		return err
	}

	s, err := scheduler.New(ctx, cfg.Scheduler.Kind, scheduler.Options{
		Binary:  cfg.Scheduler.WorkerBinary,
		LogDir:  orchestrator.LogDir(cfg.RunDir()),
		Env:     cfg.Scheduler.Environment,
		Image:   cfg.Scheduler.Image,
		Network: cfg.Scheduler.Network,
		HostDir: filepath.Dir(path),
	})
	if err != nil {
		return printer.Error(
			"scheduler unavailable",
			err.Error(),
			[]string{fmt.Sprintf("Check scheduler.kind (%s) in %s", cfg.Scheduler.Kind, path)},
		)
	}

	runID := scheduler.GenerateRunID()
	n, err := orchestrator.Submit(ctx, s, jobs, orchestrator.SubmitOptions{
		RunName:       cfg.RunName,
		RunID:         runID,
		ConfigPath:    path,
		Seed:          seed,
		RedisURL:      cfg.Feed.RedisURL,
		WorkersPerJob: cfg.Scheduler.WorkersPerJob,
	})
	if err != nil {
		if n > 0 {
			printer.Warning("%d jobs were started before the failure and keep running\n", n)
		}
		return err
	}
	printer.Success("Submitted %d workers in %d jobs (run id %s)\n", len(jobs), n, runID)

	if !wait || cfg.Scheduler.Kind != config.SchedulerLocal {
		return nil
	}
	printer.Step("Waiting for local jobs, logs in %s\n", orchestrator.LogDir(cfg.RunDir()))
	if err := s.Wait(); err != nil {
		return fmt.Errorf("walker job failed: %w", err)
	}
	printer.Success("All jobs finished\n")
	return nil
}
