package walker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/internal/catalog"
	"github.com/dyluth/protomodels/internal/combine"
	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/mutate"
	"github.com/dyluth/protomodels/internal/predict"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

const stop = 1000006

func stopExcess(id string, excess float64) catalog.Analysis {
	return catalog.Analysis{
		ID: id, Kind: protomodel.DataKindLikelihood, Particles: []int{stop},
		FinalState: 6, MinMass: 201, MaxMass: 2400, ObservedExcess: excess, Uncertainty: 4,
	}
}

func newScorer(t *testing.T, policy *catalog.Policy, analyses ...catalog.Analysis) *combine.Scorer {
	t.Helper()
	c, err := catalog.New(analyses)
	require.NoError(t, err)
	return &combine.Scorer{
		Adapter:   predict.NewSimplified(c, predict.DefaultSimplifiedConfig()),
		Optimizer: combine.NewOptimizer(policy, nil, combine.DefaultConfig()),
	}
}

func unfreezeOnly(maxMass float64) mutate.Config {
	cfg := mutate.DefaultConfig()
	cfg.Weights = map[mutate.Kind]float64{mutate.KindUnfreeze: 1}
	cfg.MaxMass = maxMass
	cfg.Particles = []int{stop, protomodel.LSP}
	return cfg
}

func depsFor(seed int64, mcfg mutate.Config, scorer Scorer) Deps {
	rng := rand.New(rand.NewSource(seed))
	return Deps{Mutator: mutate.New(mcfg, rng), Scorer: scorer, RNG: rng}
}

// lspSnapshot returns a snapshot whose LSP sits at lspMass with the stop frozen.
func lspSnapshot(lspMass float64) *protomodel.Snapshot {
	m := protomodel.Baseline([]int{stop, protomodel.LSP})
	m.Masses[protomodel.LSP] = lspMass
	return &protomodel.Snapshot{Version: protomodel.SnapshotVersion, Models: []protomodel.State{m.State()}}
}

type scorerFunc func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error)

func (f scorerFunc) Score(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
	return f(ctx, m, rng)
}

type recordingFeed struct {
	events []feed.StepEvent
}

func (r *recordingFeed) PublishStep(ctx context.Context, e feed.StepEvent) error {
	r.events = append(r.events, e)
	return nil
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "proposing", StateProposing.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestNew_Validation(t *testing.T) {
	scorer := newScorer(t, nil, stopExcess("A", 12))

	_, err := New(Config{MaxSteps: 1}, protomodel.DefaultParticles, Deps{Scorer: scorer, RNG: rand.New(rand.NewSource(1))})
	assert.Error(t, err)

	d := depsFor(1, mutate.DefaultConfig(), scorer)
	_, err = New(Config{MaxSteps: -1}, protomodel.DefaultParticles, d)
	assert.Error(t, err)

	_, err = Resume(Config{MaxSteps: 1}, &protomodel.Snapshot{}, 0, d)
	assert.Error(t, err)
}

func TestWalker_UnfreezeAccepted(t *testing.T) {
	// With the LSP at 499 GeV and an upper bound of 500 GeV, unfreezing the
	// stop places it at exactly 500 GeV.
	d := depsFor(1, unfreezeOnly(500), newScorer(t, nil, stopExcess("EXCESS", 12)))
	w, err := Resume(Config{MaxSteps: 1}, lspSnapshot(499), 0, d)
	require.NoError(t, err)

	require.NoError(t, w.Step(context.Background()))
	assert.Equal(t, StateProposing, w.State())
	assert.Equal(t, 1, w.StepCount())

	best := w.Current()
	assert.Equal(t, 500.0, best.Mass(stop))
	assert.InDelta(t, 3.0, best.Z, 1e-3)
	require.NotNil(t, best.Combination)
	assert.Equal(t, []string{"EXCESS"}, best.Combination.AnalysisIDs())

	require.NoError(t, w.Step(context.Background()))
	assert.Equal(t, StateTerminated, w.State())
	assert.Equal(t, "max steps reached", w.Reason())
}

func TestWalker_IncompatiblePairKeepsHeavier(t *testing.T) {
	d := depsFor(1, unfreezeOnly(500), newScorer(t, catalog.NewPolicy(nil),
		stopExcess("WEAK", 6), stopExcess("STRONG", 12)))
	w, err := Resume(Config{MaxSteps: 1}, lspSnapshot(499), 0, d)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	best := w.Current()
	require.NotNil(t, best.Combination)
	assert.Equal(t, []string{"STRONG"}, best.Combination.AnalysisIDs())
	assert.InDelta(t, 3.0, best.Z, 1e-3)
}

func TestWalker_StrictImprovement(t *testing.T) {
	calls := 0
	scorer := scorerFunc(func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
		calls++
		return protomodel.Combination{Z: 1}, nil, nil
	})
	d := depsFor(3, mutate.DefaultConfig(), scorer)
	feedLog := &recordingFeed{}
	d.Feed = feedLog

	w, err := New(Config{MaxSteps: 5}, protomodel.DefaultParticles, d)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, w.StepCount(), "rejected steps still advance the counter")
	assert.Equal(t, 1, w.Current().Step, "only the first candidate improves on Z=1")

	require.Len(t, feedLog.events, 2)
	assert.Equal(t, feed.StatusRunning, feedLog.events[0].Status)
	assert.Equal(t, feed.StatusTerminated, feedLog.events[1].Status)
	assert.Equal(t, "max steps reached", feedLog.events[1].Reason)
}

func TestWalker_Deterministic(t *testing.T) {
	run := func() (*Walker, []Record) {
		dir := t.TempDir()
		d := depsFor(42, mutate.DefaultConfig(), newScorer(t, nil,
			stopExcess("A", 12),
			catalog.Analysis{ID: "B", Kind: protomodel.DataKindUpperLimit, Particles: []int{1000021, stop}, UpperLimit: 30},
		))
		h, err := OpenHistory(filepath.Join(dir, "history.jsonl"))
		require.NoError(t, err)
		d.History = h

		w, err := New(Config{MaxSteps: 40, FlushEvery: 3}, protomodel.DefaultParticles, d)
		require.NoError(t, err)
		require.NoError(t, w.Run(context.Background()))

		records, err := ReadHistory(h.Path())
		require.NoError(t, err)
		for i := range records {
			records[i].TimestampMs = 0
		}
		return w, records
	}

	w1, h1 := run()
	w2, h2 := run()
	assert.Equal(t, w1.Current().Fingerprint(), w2.Current().Fingerprint())
	assert.Equal(t, w1.Current().Z, w2.Current().Z)
	assert.Equal(t, w1.StepCount(), w2.StepCount())
	assert.Equal(t, h1, h2)
}

func TestWalker_ResumeNeverGoesBackwards(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "walker-0.json")
	scorer := newScorer(t, nil, stopExcess("A", 12))

	d := depsFor(7, mutate.DefaultConfig(), scorer)
	d.SnapshotPath = snapPath
	w, err := New(Config{MaxSteps: 12}, protomodel.DefaultParticles, d)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 12, w.StepCount())

	snap, err := protomodel.ReadSnapshot(snapPath)
	require.NoError(t, err)
	require.Len(t, snap.Models, 1)
	assert.Equal(t, 12, snap.Models[0].Step)

	d2 := depsFor(8, mutate.DefaultConfig(), scorer)
	d2.SnapshotPath = snapPath
	resumed, err := Resume(Config{MaxSteps: 5}, snap, 0, d2)
	require.NoError(t, err)
	assert.Equal(t, 12, resumed.StepCount())
	assert.Equal(t, w.Current().Z, resumed.Current().Z)

	require.NoError(t, resumed.Run(context.Background()))
	assert.Equal(t, 17, resumed.StepCount())
	assert.GreaterOrEqual(t, resumed.Current().Z, w.Current().Z)
}

func TestWalker_TerminatesOnAdapterError(t *testing.T) {
	scorer := scorerFunc(func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
		return protomodel.Combination{}, nil, fmt.Errorf("%w: process exited", predict.ErrAdapter)
	})
	w, err := New(Config{MaxSteps: 10}, protomodel.DefaultParticles, depsFor(1, mutate.DefaultConfig(), scorer))
	require.NoError(t, err)

	err = w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, predict.ErrAdapter))
	assert.Equal(t, StateTerminated, w.State())
	assert.Equal(t, 1, w.StepCount())
}

func TestWalker_Timeouts(t *testing.T) {
	t.Run("partial timeouts are tolerated until they recur", func(t *testing.T) {
		scorer := scorerFunc(func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
			return protomodel.Combination{}, []predict.AnalysisFailure{{AnalysisID: "A", Err: predict.ErrAnalysisTimeout}}, nil
		})
		w, err := New(Config{MaxSteps: 100, MaxConsecutiveTimeouts: 3}, protomodel.DefaultParticles, depsFor(1, mutate.DefaultConfig(), scorer))
		require.NoError(t, err)

		err = w.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTimeouts))
		assert.Equal(t, 3, w.StepCount())
	})

	t.Run("a good step resets the count", func(t *testing.T) {
		n := 0
		scorer := scorerFunc(func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
			n++
			if n%2 == 0 {
				return protomodel.Combination{}, nil, nil
			}
			return protomodel.Combination{}, []predict.AnalysisFailure{{AnalysisID: "A", Err: predict.ErrAnalysisTimeout}}, nil
		})
		w, err := New(Config{MaxSteps: 10, MaxConsecutiveTimeouts: 2}, protomodel.DefaultParticles, depsFor(1, mutate.DefaultConfig(), scorer))
		require.NoError(t, err)
		require.NoError(t, w.Run(context.Background()))
		assert.Equal(t, "max steps reached", w.Reason())
	})

	t.Run("whole-call deadline rejects the step", func(t *testing.T) {
		scorer := scorerFunc(func(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
			<-ctx.Done()
			return protomodel.Combination{}, nil, ctx.Err()
		})
		cfg := Config{MaxSteps: 10, PredictTimeout: time.Millisecond, MaxConsecutiveTimeouts: 2}
		w, err := New(cfg, protomodel.DefaultParticles, depsFor(1, mutate.DefaultConfig(), scorer))
		require.NoError(t, err)

		require.NoError(t, w.Step(context.Background()))
		assert.Equal(t, StateProposing, w.State())
		assert.Equal(t, 0.0, w.Current().Z)

		err = w.Step(context.Background())
		assert.True(t, errors.Is(err, ErrTimeouts))
		assert.Equal(t, StateTerminated, w.State())
	})
}

func TestWalker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w, err := New(Config{MaxSteps: 10}, protomodel.DefaultParticles,
		depsFor(1, mutate.DefaultConfig(), newScorer(t, nil, stopExcess("A", 12))))
	require.NoError(t, err)

	err = w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", w.Reason())
	assert.Equal(t, 0, w.StepCount())
}

func TestWalker_OffersToHiscore(t *testing.T) {
	dir := t.TempDir()
	store := hiscore.NewStore(hiscore.WorkerPath(dir, 4), 10, time.Second)

	d := depsFor(1, unfreezeOnly(500), newScorer(t, nil, stopExcess("EXCESS", 12)))
	d.Store = store
	w, err := Resume(Config{WorkerID: 4, MaxSteps: 3}, lspSnapshot(499), 0, d)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	top, err := store.TopN(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 4, top[0].Worker)
	assert.Equal(t, 1, top[0].Step)
	assert.InDelta(t, 3.0, top[0].Z, 1e-3)
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.jsonl")
	h, err := OpenHistory(path)
	require.NoError(t, err)

	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Masses[stop] = 500
	m.Decays[stop] = mutate.DefaultDecays(stop)
	m.Step = 3
	m.Z = 2.5

	require.NoError(t, h.Append(newRecord(m, "unfreeze", 1000)))
	assert.Equal(t, 1, h.Pending())

	records, err := ReadHistory(path)
	require.NoError(t, err)
	assert.Empty(t, records, "nothing is written before a flush")

	require.NoError(t, h.Flush())
	assert.Equal(t, 0, h.Pending())

	// A torn line from a killed worker is skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"step":4,"Z":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err = ReadHistory(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Step)
	assert.Equal(t, 500.0, records[0].Masses[stop])
	assert.Equal(t, "unfreeze", records[0].Kind)
	assert.NotContains(t, records[0].Masses, 1000021, "frozen particles are not recorded")

	missing, err := ReadHistory(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistory_ResumeAfterTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history-0.jsonl")
	h, err := OpenHistory(path)
	require.NoError(t, err)

	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Step = 1
	require.NoError(t, h.Append(newRecord(m, "init", 1000)))
	require.NoError(t, h.Flush())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"step":2,"Z":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	resumed, err := OpenHistory(path)
	require.NoError(t, err)
	m.Step = 3
	require.NoError(t, resumed.Append(newRecord(m, "mass", 2000)))
	require.NoError(t, resumed.Flush())

	records, err := ReadHistory(path)
	require.NoError(t, err)
	steps := make([]int, 0, len(records))
	for _, r := range records {
		steps = append(steps, r.Step)
	}
	assert.Equal(t, []int{1, 3}, steps)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
