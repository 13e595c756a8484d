package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/internal/printer"
	"github.com/dyluth/protomodels/internal/watch"
)

var (
	hiscoreFile    string
	hiscoreTop     int
	hiscoreTrimmed bool
	hiscoreStats   bool
	hiscoreOutput  string
	hiscoreSince   string
	hiscoreUntil   string
	hiscoreWorker  int
	hiscoreMinZ    float64
	hiscoreGlob    string

	mergeInto string

	trimTop     int
	trimMaxLoss float64
)

var hiscoreCmd = &cobra.Command{
	Use:   "hiscore",
	Short: "Inspect and maintain hiscore files",
}

var hiscorePrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the models of a hiscore file",
	Long: `Print the ranked models of a hiscore file, by default the global
hiscore.json of the run.

Output Formats:
  default - Human-readable table
  jsonl   - One JSON entry per line

Filters are applied before --top:
  --since/--until  creation time, as a duration ago ("2h") or RFC3339
  --worker         models found by one worker
  --min-z          models with at least this Z
  --analysis       models whose combination uses a matching analysis (glob)

Examples:
  pmodel hiscore print --top 5 --stats
  pmodel hiscore print --since 1h --analysis 'CMS-*'
  pmodel hiscore print --file output/hiscore-3.json --output jsonl`,
	RunE: runHiscorePrint,
}

var hiscoreShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one model of a hiscore file in full",
	Long: `Show the full record of the model whose fingerprint starts with <id>.
The ID column of 'pmodel hiscore print' is a valid prefix. At least 6
characters are required.`,
	Args: cobra.ExactArgs(1),
	RunE: runHiscoreShow,
}

var hiscoreMergeCmd = &cobra.Command{
	Use:   "merge [files...]",
	Short: "Merge hiscore files",
	Long: `Merge hiscore files into one. Without arguments the worker files of the
run directory are merged into the global hiscore file. Unreadable sources are
skipped and reported.`,
	RunE: runHiscoreMerge,
}

var hiscoreTrimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Trim the best models of the global hiscore file",
	Long: `Rescore the best models of the global hiscore file with unnecessary
particles, decay channels and multipliers removed, keeping each removal only
while Z stays within --max-loss of the untrimmed model. Results go to the
trimmed list; the raw list is not changed.`,
	RunE: runHiscoreTrim,
}

func init() {
	hiscorePrintCmd.Flags().StringVarP(&hiscoreFile, "file", "f", "", "Hiscore file (default: global hiscore of the run)")
	hiscorePrintCmd.Flags().IntVarP(&hiscoreTop, "top", "n", 0, "Show only the best N models (0 = all)")
	hiscorePrintCmd.Flags().BoolVar(&hiscoreTrimmed, "trimmed", false, "Show the trimmed list instead of the raw list")
	hiscorePrintCmd.Flags().BoolVar(&hiscoreStats, "stats", false, "Print a Z summary")
	hiscorePrintCmd.Flags().StringVarP(&hiscoreOutput, "output", "o", "default", "Output format (default or jsonl)")
	hiscorePrintCmd.Flags().StringVar(&hiscoreSince, "since", "", "Only models created after this time")
	hiscorePrintCmd.Flags().StringVar(&hiscoreUntil, "until", "", "Only models created before this time")
	hiscorePrintCmd.Flags().IntVar(&hiscoreWorker, "worker", -1, "Only models from this worker (-1 = all)")
	hiscorePrintCmd.Flags().Float64Var(&hiscoreMinZ, "min-z", 0, "Only models with at least this Z")
	hiscorePrintCmd.Flags().StringVar(&hiscoreGlob, "analysis", "", "Only models combining a matching analysis")

	hiscoreShowCmd.Flags().StringVarP(&hiscoreFile, "file", "f", "", "Hiscore file (default: global hiscore of the run)")
	hiscoreShowCmd.Flags().BoolVar(&hiscoreTrimmed, "trimmed", false, "Search the trimmed list instead of the raw list")

	hiscoreMergeCmd.Flags().StringVar(&mergeInto, "into", "", "Destination file (default: global hiscore of the run)")

	hiscoreTrimCmd.Flags().IntVar(&trimTop, "top", 0, "Models to trim (default: hiscore.trim_top)")
	hiscoreTrimCmd.Flags().Float64Var(&trimMaxLoss, "max-loss", 0, "Allowed fractional Z loss (default: hiscore.max_loss)")

	hiscoreCmd.AddCommand(hiscorePrintCmd, hiscoreShowCmd, hiscoreMergeCmd, hiscoreTrimCmd)
	rootCmd.AddCommand(hiscoreCmd)
}

// storeFor returns the store of path, or the run's global store when path
// is empty. The configuration is only loaded when needed.
func storeFor(path string) (*hiscore.Store, error) {
	if path != "" {
		return hiscore.NewStore(path, hiscore.DefaultMaxEntries, hiscore.DefaultLockTimeout), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return orchestrator.GlobalStore(cfg), nil
}

func runHiscorePrint(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(hiscoreOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	since, until, err := hiscore.ParseTimeRange(hiscoreSince, hiscoreUntil)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like '2h' or an RFC3339 timestamp like '2026-01-02T15:04:05Z'",
		})
	}
	criteria := hiscore.Criteria{
		SinceMs:      since,
		UntilMs:      until,
		Worker:       hiscoreWorker,
		MinZ:         hiscoreMinZ,
		AnalysisGlob: hiscoreGlob,
	}

	entries, title, err := loadEntries()
	if err != nil {
		return err
	}
	entries = criteria.Select(entries)
	if hiscoreTop > 0 && len(entries) > hiscoreTop {
		entries = entries[:hiscoreTop]
	}

	out := cmd.OutOrStdout()
	if format == watch.OutputFormatJSONL {
		return hiscore.FormatJSONL(out, entries)
	}

	hiscore.FormatTable(out, entries, title)
	if hiscoreStats && len(entries) > 0 {
		summary, err := hiscore.Summarize(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		hiscore.FormatSummary(out, summary)
	}
	return nil
}

// loadEntries reads the raw or trimmed list of the selected hiscore file.
func loadEntries() ([]hiscore.Entry, string, error) {
	store, err := storeFor(hiscoreFile)
	if err != nil {
		return nil, "", err
	}
	f, err := store.Load(context.Background())
	if err != nil {
		return nil, "", printer.ErrorWithContext(
			"cannot read hiscore file",
			err.Error(),
			map[string]string{"File": store.Path()},
			[]string{"The file may be held by a running consolidator; try again shortly."},
		)
	}
	if hiscoreTrimmed {
		return f.Trimmed, store.Path() + " (trimmed)", nil
	}
	return f.Raw, store.Path(), nil
}

func runHiscoreShow(cmd *cobra.Command, args []string) error {
	entries, title, err := loadEntries()
	if err != nil {
		return err
	}

	e, err := hiscore.Resolve(entries, args[0])
	if err != nil {
		var amb *hiscore.AmbiguousError
		var nf *hiscore.NotFoundError
		switch {
		case errors.As(err, &amb):
			return printer.Error("ambiguous model id", amb.Error()+":\n"+amb.Describe(), []string{"Use a longer prefix."})
		case errors.As(err, &nf):
			return printer.Error("model not found", fmt.Sprintf("No model in %s has an id starting with '%s'.", title, nf.Prefix),
				[]string{"List the ids with 'pmodel hiscore print'"})
		}
		return printer.Error("invalid model id", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model %s (worker %d, step %d, Z=%.3f)\n", e.Fingerprint, e.Worker, e.Step, e.Z)
	fmt.Fprintf(out, "Particles: %s\n\n", e.ToModel().Describe())
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runHiscoreMerge(cmd *cobra.Command, args []string) error {
	sources := args
	into := mergeInto
	if len(sources) == 0 || into == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			if sources, err = orchestrator.WorkerFiles(cfg.RunDir()); err != nil {
				return err
			}
		}
		if into == "" {
			into = orchestrator.GlobalStore(cfg).Path()
		}
	}
	if len(sources) == 0 {
		printer.Warning("No hiscore files to merge\n")
		return ErrNothingToDo
	}

	store := hiscore.NewStore(into, hiscore.DefaultMaxEntries, hiscore.DefaultLockTimeout)
	report, err := store.Merge(context.Background(), sources)
	if err != nil {
		return err
	}
	for _, s := range report.Skipped {
		printer.Warning("Skipped %s (%s)\n", s.Path, s.Reason)
	}
	printer.Success("Merged %d of %d files into %s (%d models)\n", len(report.Merged), len(sources), into, report.Entries)
	return nil
}

func runHiscoreTrim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	top := cfg.Hiscore.TrimTop
	if trimTop > 0 {
		top = trimTop
	}
	maxLoss := cfg.Hiscore.MaxLoss
	if cmd.Flags().Changed("max-loss") {
		maxLoss = trimMaxLoss
	}

	store := orchestrator.GlobalStore(cfg)
	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		printer.Warning("No global hiscore file at %s; run 'pmodel consolidate' first\n", store.Path())
		return ErrNothingToDo
	}

	scorer, err := orchestrator.NewScorer(cfg)
	if err != nil {
		return err
	}
	n, err := store.Trim(context.Background(), scorer.Fixed(cfg.Seed), maxLoss, top)
	if err != nil {
		return err
	}
	if n == 0 {
		printer.Warning("No models to trim in %s\n", store.Path())
		return ErrNothingToDo
	}
	printer.Success("Trimmed %d models in %s\n", n, store.Path())
	return nil
}
