package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/protomodels/internal/hiscore"
)

// Consolidator periodically merges the per-worker hiscore files of a run
// directory into the global hiscore file and trims the best models.
type Consolidator struct {
	Dir      string
	Global   *hiscore.Store
	Score    hiscore.ScoreFunc // nil disables trimming
	MaxLoss  float64
	TrimTop  int
	Interval time.Duration

	mu       sync.RWMutex
	lastPass time.Time
	lastErr  error
}

// WorkerFiles returns the per-worker hiscore files in dir.
func WorkerFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "hiscore-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list worker hiscore files: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// RunOnce performs a single merge and trim pass. Unreadable worker files are
// reported in the result, not returned as errors.
func (c *Consolidator) RunOnce(ctx context.Context) (*hiscore.MergeReport, error) {
	report, err := c.runOnce(ctx)

	c.mu.Lock()
	c.lastPass = time.Now()
	c.lastErr = err
	c.mu.Unlock()

	return report, err
}

func (c *Consolidator) runOnce(ctx context.Context) (*hiscore.MergeReport, error) {
	sources, err := WorkerFiles(c.Dir)
	if err != nil {
		return nil, err
	}

	report, err := c.Global.Merge(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to merge hiscores: %w", err)
	}
	for _, s := range report.Skipped {
		log.Printf("[Consolidator] Skipped %s: %s", s.Path, s.Reason)
	}

	trimmed := 0
	if c.Score != nil && c.TrimTop > 0 && report.Entries > 0 {
		trimmed, err = c.Global.Trim(ctx, c.Score, c.MaxLoss, c.TrimTop)
		if err != nil {
			return report, fmt.Errorf("failed to trim hiscores: %w", err)
		}
	}

	logEvent("consolidation_complete", map[string]interface{}{
		"sources": len(sources),
		"merged":  len(report.Merged),
		"skipped": len(report.Skipped),
		"entries": report.Entries,
		"trimmed": trimmed,
	})
	return report, nil
}

// Run consolidates every Interval until ctx is cancelled. Failed passes
// are logged and retried on the next tick.
func (c *Consolidator) Run(ctx context.Context) error {
	if c.Interval <= 0 {
		return fmt.Errorf("consolidation interval must be positive")
	}

	log.Printf("[Consolidator] Consolidating %s every %v", c.Dir, c.Interval)
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Consolidator] Pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Printf("[Consolidator] Stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// LastPass returns when the last pass finished and its error.
func (c *Consolidator) LastPass() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPass, c.lastErr
}

// logEvent emits one structured JSON log line.
func logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
