package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dyluth/protomodels/internal/catalog"
	"github.com/dyluth/protomodels/internal/combine"
	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/mutate"
	"github.com/dyluth/protomodels/internal/predict"
	"github.com/dyluth/protomodels/internal/walker"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// HistoryPath returns the history file of a worker.
func HistoryPath(dir string, worker int) string {
	return filepath.Join(dir, fmt.Sprintf("history-%d.jsonl", worker))
}

// SnapshotPath returns the snapshot file of a worker.
func SnapshotPath(dir string, worker int) string {
	return filepath.Join(dir, fmt.Sprintf("walker-%d.json", worker))
}

// LogDir returns the directory of job logs of a run.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// NewScorer builds the adapter and optimizer described by cfg.
func NewScorer(cfg *config.Config) (*combine.Scorer, error) {
	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}

	var policy *catalog.Policy
	if path := cfg.PolicyPath(); path != "" {
		policy, err = catalog.LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		if err := policy.Check(cat); err != nil {
			return nil, fmt.Errorf("policy does not match catalog: %w", err)
		}
	} else {
		log.Printf("[Orchestrator] No combination policy configured: analyses will not be combined")
	}

	adapter := predict.NewSimplified(cat, predict.SimplifiedConfig{
		SignalNorm:    cfg.Adapter.SignalNorm,
		ReferenceMass: cfg.Adapter.ReferenceMass,
		Smearing:      cfg.Adapter.Smearing,
	})
	optimizer := combine.NewOptimizer(policy,
		combine.BranchAndBound{MaxExpansions: cfg.Combination.MaxExpansions},
		combine.Config{
			TopK:  cfg.Combination.TopK,
			MuMax: cfg.Combination.MuMax,
			MaxR:  cfg.Critic.MaxR,
		})
	return &combine.Scorer{Adapter: adapter, Optimizer: optimizer}, nil
}

// MutatorConfig converts the configured mutator section.
func MutatorConfig(cfg *config.Config) mutate.Config {
	mc := mutate.Config{
		Weights:         make(map[mutate.Kind]float64, len(cfg.Mutator.Weights)),
		MassSigma:       cfg.Mutator.MassSigma,
		MaxMass:         cfg.Mutator.MaxMass,
		BranchingSigma:  cfg.Mutator.BranchingSigma,
		MultiplierSigma: cfg.Mutator.MultiplierSigma,
		Particles:       cfg.Particles,
	}
	for kind, w := range cfg.Mutator.Weights {
		mc.Weights[mutate.Kind(kind)] = w
	}
	return mc
}

// GlobalStore returns the global hiscore store of the run.
func GlobalStore(cfg *config.Config) *hiscore.Store {
	return hiscore.NewStore(hiscore.GlobalPath(cfg.RunDir()), cfg.Hiscore.MaxEntries, cfg.Hiscore.LockTimeoutDuration())
}

// NewConsolidator returns the consolidator of the run. Trimming rescores
// with a fixed seed so that repeated passes agree; scorer may be nil to
// merge without trimming.
func NewConsolidator(cfg *config.Config, scorer *combine.Scorer) *Consolidator {
	c := &Consolidator{
		Dir:      cfg.RunDir(),
		Global:   GlobalStore(cfg),
		MaxLoss:  cfg.Hiscore.MaxLoss,
		TrimTop:  cfg.Hiscore.TrimTop,
		Interval: cfg.Consolidation.IntervalDuration(),
	}
	if scorer != nil {
		c.Score = scorer.Fixed(cfg.Seed)
	}
	return c
}

// Runner runs worker jobs in-process.
type Runner struct {
	Config *config.Config
	Scorer *combine.Scorer
	Feed   walker.Publisher // optional
}

// NewRunner builds the shared collaborators of the run's walkers.
func NewRunner(cfg *config.Config) (*Runner, error) {
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	r := &Runner{Config: cfg, Scorer: scorer}

	if url := cfg.Feed.RedisURL; url != "" {
		client, err := feed.Dial(url, cfg.RunName)
		if err != nil {
			return nil, err
		}
		r.Feed = client
	}
	return r, nil
}

// Close releases the feed connection.
func (r *Runner) Close() error {
	if c, ok := r.Feed.(*feed.Client); ok {
		return c.Close()
	}
	return nil
}

// Run runs the walkers of jobs concurrently until all terminate. A failing
// walker does not stop the others; all failures are returned joined.
func (r *Runner) Run(ctx context.Context, jobs []Job) error {
	dir := r.Config.RunDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	var g errgroup.Group
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			errs[i] = r.runJob(ctx, dir, job)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) runJob(ctx context.Context, dir string, job Job) error {
	cfg := r.Config
	rng := rand.New(rand.NewSource(cfg.Seed + int64(job.WorkerID)))

	history, err := walker.OpenHistory(HistoryPath(dir, job.WorkerID))
	if err != nil {
		return err
	}

	deps := walker.Deps{
		Mutator:      mutate.New(MutatorConfig(cfg), rng),
		Scorer:       r.Scorer,
		RNG:          rng,
		Store:        hiscore.NewStore(hiscore.WorkerPath(dir, job.WorkerID), cfg.Hiscore.MaxEntries, cfg.Hiscore.LockTimeoutDuration()),
		History:      history,
		SnapshotPath: SnapshotPath(dir, job.WorkerID),
		Feed:         r.Feed,
	}
	wcfg := walker.Config{
		WorkerID:               job.WorkerID,
		MaxSteps:               cfg.Walk.MaxSteps,
		MutationsPerStep:       cfg.Walk.MutationsPerStep,
		FlushEvery:             cfg.Walk.FlushEvery,
		PredictTimeout:         cfg.Walk.PredictTimeoutDuration(),
		MaxConsecutiveTimeouts: cfg.Walk.MaxConsecutiveTimeouts,
	}

	var w *walker.Walker
	if job.ResumeFrom != "" {
		models, err := LoadResumeModels(ctx, cfg.ResolvePath(job.ResumeFrom))
		if err != nil {
			return fmt.Errorf("worker %d: %w", job.WorkerID, err)
		}
		snap := &protomodel.Snapshot{Version: protomodel.SnapshotVersion, Models: models}
		w, err = walker.Resume(wcfg, snap, job.ResumeIndex, deps)
		if err != nil {
			return fmt.Errorf("worker %d: %w", job.WorkerID, err)
		}
	} else {
		w, err = walker.New(wcfg, cfg.Particles, deps)
		if err != nil {
			return fmt.Errorf("worker %d: %w", job.WorkerID, err)
		}
	}

	if err := w.Run(ctx); err != nil {
		return err
	}
	return nil
}
