// Command walker runs the walkers of one scheduled job. It is configured
// through PMODEL_* environment variables so that schedulers can launch it
// without flags.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/internal/walker"
)

func main() {
	os.Exit(run())
}

// run contains the main logic and returns an exit code.
func run() int {
	configPath := flag.String("config", "", "Path of pmodel.yml (overrides PMODEL_CONFIG)")
	assignments := flag.String("workers", "", "Semicolon-separated worker assignments (overrides PMODEL_ASSIGNMENTS)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("PMODEL_CONFIG", *configPath)
	}
	if *assignments != "" {
		os.Setenv("PMODEL_ASSIGNMENTS", *assignments)
	}

	env, err := config.LoadWorkerEnv()
	if err != nil {
		log.Printf("[ERROR] Configuration error: %v", err)
		return 1
	}

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		log.Printf("[ERROR] Failed to load %s: %v", env.ConfigPath, err)
		return 1
	}
	env.Apply(cfg)

	jobs, err := orchestrator.ParseJobs(env.Assignments)
	if err != nil {
		log.Printf("[ERROR] Invalid worker assignments: %v", err)
		return 1
	}

	runner, err := orchestrator.NewRunner(cfg)
	if err != nil {
		log.Printf("[ERROR] Failed to set up walkers: %v", err)
		return 1
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Printf("[ERROR] Error closing feed client: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[INFO] Walker job starting for run='%s' id='%s' with %d workers", cfg.RunName, env.RunID, len(jobs))
	if err := runner.Run(ctx, jobs); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("[INFO] Walker job interrupted, state flushed")
			return 1
		}
		if errors.Is(err, walker.ErrTimeouts) {
			log.Printf("[ERROR] Adapter keeps timing out: %v", err)
			return 1
		}
		log.Printf("[ERROR] Walker job failed: %v", err)
		return 1
	}

	log.Printf("[INFO] Walker job finished")
	return 0
}
