package hiscore

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
)

// FormatTable writes entries as a formatted table to the provided writer.
// The table includes columns: RANK, Z, STEP, WORKER, AGE, ID, ANALYSES and MASSES.
// Returns the number of entries formatted.
func FormatTable(w io.Writer, entries []Entry, title string) int {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No models found in %s\n", title)
		return 0
	}

	fmt.Fprintf(w, "Models in %s:\n\n", title)

	fmt.Fprintf(w, "%-4s %-7s %-7s %-6s %-8s %-8s %-24s %s\n",
		"#", "Z", "STEP", "WORKER", "AGE", "ID", "ANALYSES", "MASSES")
	fmt.Fprintf(w, "%-4s %-7s %-7s %-6s %-8s %-8s %-24s %s\n",
		"----", "-------", "-------", "------", "--------", "--------", "------------------------", "----------------------------------------")

	for i, e := range entries {
		fmt.Fprintf(w, "%-4d %-7.3f %-7d %-6d %-8s %-8s %-24s %s\n",
			i+1,
			e.Z,
			e.Step,
			e.Worker,
			formatTimestamp(e.CreatedAtMs),
			shortID(e.Fingerprint),
			formatAnalyses(e),
			formatMasses(e),
		)
	}

	countMsg := "model"
	if len(entries) != 1 {
		countMsg = "models"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), countMsg)

	return len(entries)
}

// FormatJSONL writes entries as line-delimited JSON (JSONL) to the provided writer.
func FormatJSONL(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// Summary describes the Z distribution of a list.
type Summary struct {
	Count  int
	Max    float64
	Mean   float64
	Median float64
	StdDev float64
}

// Summarize computes Z statistics over entries.
func Summarize(entries []Entry) (Summary, error) {
	if len(entries) == 0 {
		return Summary{}, nil
	}
	zs := make([]float64, len(entries))
	for i, e := range entries {
		zs[i] = e.Z
	}

	s := Summary{Count: len(zs)}
	var err error
	if s.Max, err = stats.Max(zs); err != nil {
		return Summary{}, fmt.Errorf("failed to compute max: %w", err)
	}
	if s.Mean, err = stats.Mean(zs); err != nil {
		return Summary{}, fmt.Errorf("failed to compute mean: %w", err)
	}
	if s.Median, err = stats.Median(zs); err != nil {
		return Summary{}, fmt.Errorf("failed to compute median: %w", err)
	}
	if s.StdDev, err = stats.StandardDeviation(zs); err != nil {
		return Summary{}, fmt.Errorf("failed to compute stddev: %w", err)
	}
	return s, nil
}

// FormatSummary writes a one-line Z summary.
func FormatSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "Z over %d models: max %.3f, mean %.3f, median %.3f, stddev %.3f\n",
		s.Count, s.Max, s.Mean, s.Median, s.StdDev)
}

// formatAnalyses lists the combined analysis ids, truncated for display.
func formatAnalyses(e Entry) string {
	if e.Combination == nil || len(e.Combination.Analyses) == 0 {
		return "-"
	}
	ids := strings.Join(e.Combination.AnalysisIDs(), ",")
	if len(ids) > 24 {
		return ids[:21] + "..."
	}
	return ids
}

// formatMasses shows the active particles with their masses.
func formatMasses(e Entry) string {
	desc := e.ToModel().Describe()
	if desc == "" {
		return "-"
	}
	if len(desc) > 60 {
		return desc[:57] + "..."
	}
	return desc
}

// formatTimestamp formats Unix timestamp in milliseconds as relative time.
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
