package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/printer"
	"github.com/dyluth/protomodels/internal/watch"
)

var (
	watchOutputFormat string
	watchWorker       int
	watchMinZ         float64
	watchRedisURL     string

	watchFile      string
	watchThreshold float64
	watchTimeout   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor walker progress in real time",
	Long: `Stream accepted steps and walker terminations from the step feed.

With --file, poll a hiscore file instead until its best model exceeds
--threshold. Exits with status 2 if that does not happen within --timeout.

Output Formats:
  default - Human-readable output with timestamps and emojis
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Watch every walker of the run
  pmodel watch

  # Only worker 3, only steps above Z=2
  pmodel watch --worker 3 --min-z 2

  # Wait up to an hour for a model above Z=3
  pmodel watch --file output/hiscore.json --threshold 3 --timeout 1h`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	watchCmd.Flags().IntVar(&watchWorker, "worker", -1, "Only show this worker (-1 = all)")
	watchCmd.Flags().Float64Var(&watchMinZ, "min-z", 0, "Only show steps with at least this Z")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis", "", "Redis URL (default: feed.redis_url)")
	watchCmd.Flags().StringVarP(&watchFile, "file", "f", "", "Poll this hiscore file instead of the feed")
	watchCmd.Flags().Float64Var(&watchThreshold, "threshold", 0, "With --file: Z to wait for")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 10*time.Minute, "With --file: how long to wait")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchFile != "" {
		return pollHiscore(ctx, cmd)
	}

	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	client, err := dialFeed()
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.SubscribeSteps(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to step events: %w", err)
	}
	defer sub.Close()

	filter := watch.Filter{Worker: watchWorker, MinZ: watchMinZ}
	return watch.StreamSteps(ctx, sub, filter, watch.NewFormatter(format, cmd.OutOrStdout()), cmd.ErrOrStderr())
}

func pollHiscore(ctx context.Context, cmd *cobra.Command) error {
	store := hiscore.NewStore(watchFile, hiscore.DefaultMaxEntries, hiscore.DefaultLockTimeout)
	printer.Step("Waiting up to %v for Z > %.3f in %s\n", watchTimeout, watchThreshold, watchFile)

	best, err := watch.PollForImprovement(ctx, store, watchThreshold, watchTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, watch.ErrNoImprovement) {
			printer.Warning("%v\n", err)
			return ErrNothingToDo
		}
		return err
	}

	hiscore.FormatTable(cmd.OutOrStdout(), []hiscore.Entry{*best}, watchFile)
	return nil
}

// dialFeed connects to the step feed named by --redis or the configuration.
func dialFeed() (*feed.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	url := watchRedisURL
	if url == "" {
		url = cfg.Feed.RedisURL
	}
	if url == "" {
		return nil, printer.Error(
			"no step feed configured",
			"The run has no feed.redis_url, so walkers do not publish their steps.",
			[]string{
				"Set feed.redis_url in pmodel.yml before submitting",
				"Pass a Redis URL:\n  pmodel watch --redis redis://localhost:6379",
				"Poll the hiscore file instead:\n  pmodel watch --file output/hiscore.json",
			},
		)
	}

	client, err := feed.Dial(url, cfg.RunName)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", url),
			map[string]string{"Error": err.Error()},
			[]string{"Check that Redis is running and reachable from this host."},
		)
	}
	return client, nil
}
