// Package scheduler launches walker processes for a run, either as local
// child processes or as Docker containers.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/protomodels/internal/config"
)

// Job is one walker process. Workers holds the worker assignments the
// process runs, in their string form (e.g. "3" or "3@snap.json#1").
type Job struct {
	RunName    string
	RunID      string
	Name       string
	ConfigPath string
	Workers    []string
	Seed       *int64
	RedisURL   string
}

// Validate checks that the job can be launched.
func (j Job) Validate() error {
	if j.RunName == "" {
		return fmt.Errorf("job has no run name")
	}
	if j.Name == "" {
		return fmt.Errorf("job has no name")
	}
	if j.ConfigPath == "" {
		return fmt.Errorf("job %s has no config path", j.Name)
	}
	if len(j.Workers) == 0 {
		return fmt.Errorf("job %s has no workers", j.Name)
	}
	for _, w := range j.Workers {
		if strings.Contains(w, ";") {
			return fmt.Errorf("job %s: invalid worker assignment '%s'", j.Name, w)
		}
	}
	return nil
}

// Env returns the worker environment of the job.
func (j Job) Env() *config.WorkerEnv {
	return &config.WorkerEnv{
		ConfigPath:  j.ConfigPath,
		RunID:       j.RunID,
		Assignments: j.Workers,
		Seed:        j.Seed,
		RedisURL:    j.RedisURL,
	}
}

// Scheduler launches jobs.
type Scheduler interface {
	// Submit launches the job and returns once it is started.
	Submit(ctx context.Context, job Job) error
	// Wait blocks until every submitted job has finished, when the
	// scheduler can observe that. It returns the first job failure.
	Wait() error
}

// Options configures New.
type Options struct {
	// local
	Binary string
	Args   []string
	LogDir string
	Env    []string

	// docker
	Image   string
	Network string
	HostDir string
}

// New returns the scheduler of the given kind.
func New(ctx context.Context, kind string, opts Options) (Scheduler, error) {
	switch kind {
	case config.SchedulerLocal:
		return NewLocal(opts.Binary, opts.Args, opts.LogDir, opts.Env), nil
	case config.SchedulerDocker:
		cli, err := NewDockerClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewDocker(cli, opts.Image, opts.Network, opts.HostDir, opts.Env), nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind '%s'", kind)
	}
}
