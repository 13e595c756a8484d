package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Local runs each job as a child process of the worker binary. Output of a
// job goes to <LogDir>/<job>.log.
type Local struct {
	binary string
	args   []string
	logDir string
	env    []string

	group errgroup.Group
}

// NewLocal creates a local scheduler. env is added to the environment of
// every child on top of the current process environment.
func NewLocal(binary string, args []string, logDir string, env []string) *Local {
	return &Local{binary: binary, args: args, logDir: logDir, env: env}
}

// Submit starts the job. The process is not bound to ctx: it keeps running
// when the submitting command returns, unless the caller waits.
func (l *Local) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	binary, err := exec.LookPath(l.binary)
	if err != nil {
		return fmt.Errorf("worker binary '%s' not found: %w", l.binary, err)
	}

	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(l.logDir, job.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open job log: %w", err)
	}

	cmd := exec.Command(binary, l.args...)
	cmd.Env = append(append(os.Environ(), l.env...), job.Env().Environ()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = filepath.Dir(job.ConfigPath)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start job %s: %w", job.Name, err)
	}

	log.Printf("[Scheduler] Started job %s (pid %d, workers %s, log %s)",
		job.Name, cmd.Process.Pid, strings.Join(job.Workers, ","), logPath)

	l.group.Go(func() error {
		defer logFile.Close()
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("job %s failed: %w (see %s)", job.Name, err, logPath)
		}
		return nil
	})
	return nil
}

// Wait blocks until every started job has exited.
func (l *Local) Wait() error {
	return l.group.Wait()
}
