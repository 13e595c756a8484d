package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/printer"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every walker of the run",
	Long: `Show the last known step, Z and status of every walker.

The state comes from the step feed when one is configured, otherwise from
the walker snapshots in the run directory. Exits with status 2 when no
walker has reported yet.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&watchRedisURL, "redis", "", "Redis URL (default: feed.redis_url)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var walkers []*feed.StepEvent
	source := ""
	if watchRedisURL != "" || cfg.Feed.RedisURL != "" {
		client, err := dialFeed()
		if err != nil {
			return err
		}
		defer client.Close()

		walkers, err = client.ListWalkers(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list walkers: %w", err)
		}
		source = "step feed"
	} else {
		walkers, err = walkersFromSnapshots(cfg)
		if err != nil {
			return err
		}
		source = cfg.RunDir()
	}

	if len(walkers) == 0 {
		printer.Warning("No walkers have reported for run '%s'\n", cfg.RunName)
		return ErrNothingToDo
	}
	formatWalkers(cmd.OutOrStdout(), walkers, source)
	return nil
}

// walkersFromSnapshots reads the last snapshot of every worker. Snapshots
// carry no status, so walkers are shown without one.
func walkersFromSnapshots(cfg *config.Config) ([]*feed.StepEvent, error) {
	paths, err := filepath.Glob(filepath.Join(cfg.RunDir(), "walker-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var walkers []*feed.StepEvent
	for _, path := range paths {
		idPart := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "walker-"), ".json")
		id, err := strconv.Atoi(idPart)
		if err != nil {
			continue
		}
		snap, err := protomodel.ReadSnapshot(path)
		if err != nil {
			printer.Warning("Skipping %s: %v\n", path, err)
			continue
		}
		if len(snap.Models) == 0 {
			continue
		}
		m := protomodel.FromState(snap.Models[0])
		e := &feed.StepEvent{Worker: id, Step: m.Step, Z: m.Z, Masses: make(map[int]float64)}
		for _, pid := range m.ActiveParticles() {
			e.Masses[pid] = m.Mass(pid)
		}
		if m.Combination != nil {
			e.Analyses = m.Combination.AnalysisIDs()
		}
		walkers = append(walkers, e)
	}
	return walkers, nil
}

func formatWalkers(w io.Writer, walkers []*feed.StepEvent, source string) {
	sort.Slice(walkers, func(i, j int) bool { return walkers[i].Worker < walkers[j].Worker })

	fmt.Fprintf(w, "Walkers from %s:\n\n", source)
	fmt.Fprintf(w, "%-6s %-7s %-7s %-10s %-8s %s\n", "WORKER", "STEP", "Z", "STATUS", "AGE", "MASSES")
	fmt.Fprintf(w, "%-6s %-7s %-7s %-10s %-8s %s\n", "------", "-------", "-------", "----------", "--------", "----------------------------------------")
	best := walkers[0]
	for _, e := range walkers {
		status := e.Status
		if status == "" {
			status = "-"
		}
		age := "-"
		if e.TimestampMs > 0 {
			age = time.Since(time.UnixMilli(e.TimestampMs)).Truncate(time.Second).String()
		}
		masses := e.MassSummary()
		if masses == "" {
			masses = "-"
		}
		fmt.Fprintf(w, "%-6d %-7d %-7.3f %-10s %-8s %s\n", e.Worker, e.Step, e.Z, status, age, masses)
		if e.Z > best.Z {
			best = e
		}
	}
	fmt.Fprintf(w, "\n%d walkers, best Z=%.3f (worker %d)\n", len(walkers), best.Z, best.Worker)
}
