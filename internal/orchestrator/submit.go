package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/protomodels/internal/scheduler"
)

// SubmitOptions describe the run the jobs belong to.
type SubmitOptions struct {
	RunName       string
	RunID         string
	ConfigPath    string
	Seed          *int64
	RedisURL      string
	WorkersPerJob int
}

// Submit groups jobs into processes of at most WorkersPerJob workers and
// submits each to s. It returns the number of processes started; on error
// the processes started before the failure keep running.
func Submit(ctx context.Context, s scheduler.Scheduler, jobs []Job, opts SubmitOptions) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	submitted := 0
	for _, batch := range Split(jobs, opts.WorkersPerJob) {
		workers := make([]string, len(batch))
		for i, j := range batch {
			workers[i] = j.String()
		}
		sj := scheduler.Job{
			RunName:    opts.RunName,
			RunID:      opts.RunID,
			Name:       scheduler.JobName(batch[0].WorkerID, batch[len(batch)-1].WorkerID),
			ConfigPath: opts.ConfigPath,
			Workers:    workers,
			Seed:       opts.Seed,
			RedisURL:   opts.RedisURL,
		}
		if err := s.Submit(ctx, sj); err != nil {
			return submitted, fmt.Errorf("failed to submit %s: %w", sj.Name, err)
		}
		submitted++
	}

	log.Printf("[Orchestrator] Submitted %d workers in %d jobs (run %s, id %s)",
		len(jobs), submitted, opts.RunName, opts.RunID)
	return submitted, nil
}
