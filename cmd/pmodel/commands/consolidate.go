package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/combine"
	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/internal/printer"
)

var (
	consolidateWatch      bool
	consolidateNoTrim     bool
	consolidateHealthAddr string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge worker hiscore files into the global hiscore file",
	Long: `Merge every hiscore-<id>.json of the run directory into hiscore.json and
trim the best models. Missing, corrupt or locked worker files are skipped
and reported.

With --watch the merge repeats every consolidation.interval until
interrupted, and --health-addr serves GET /healthz for the loop.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateWatch, "watch", false, "Repeat every consolidation.interval until interrupted")
	consolidateCmd.Flags().BoolVar(&consolidateNoTrim, "no-trim", false, "Merge without trimming")
	consolidateCmd.Flags().StringVar(&consolidateHealthAddr, "health-addr", "", "Serve /healthz on this address while watching (e.g. :8080)")
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var scorer *combine.Scorer
	if !consolidateNoTrim {
		scorer, err = orchestrator.NewScorer(cfg)
		if err != nil {
			return fmt.Errorf("failed to set up trimming: %w", err)
		}
	}
	c := orchestrator.NewConsolidator(cfg, scorer)

	if !consolidateWatch {
		files, err := orchestrator.WorkerFiles(c.Dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			printer.Warning("No worker hiscore files in %s\n", c.Dir)
			return ErrNothingToDo
		}

		report, err := c.RunOnce(context.Background())
		if err != nil {
			return err
		}
		for _, s := range report.Skipped {
			printer.Warning("Skipped %s (%s)\n", s.Path, s.Reason)
		}
		printer.Success("Merged %d of %d worker files into %s (%d models)\n",
			len(report.Merged), len(files), c.Global.Path(), report.Entries)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if consolidateHealthAddr != "" {
		var pinger orchestrator.Pinger
		if url := cfg.Feed.RedisURL; url != "" {
			client, err := feed.Dial(url, cfg.RunName)
			if err != nil {
				return err
			}
			defer client.Close()
			pinger = client
		}
		health := orchestrator.NewHealthServer(consolidateHealthAddr, c, pinger)
		if err := health.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			health.Shutdown(shutdownCtx)
		}()
		printer.Step("Serving health checks on %s/healthz\n", consolidateHealthAddr)
	}

	return c.Run(ctx)
}
