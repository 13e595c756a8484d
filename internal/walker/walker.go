// Package walker implements the hill-climbing search of a single worker.
//
// A walker repeatedly mutates its best model, scores the candidate, and keeps
// it only when the combined significance strictly improves. Accepted steps are
// recorded to an append-only history, a resumable snapshot, the worker's
// hiscore file and, when configured, the Redis step feed.
package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/dyluth/protomodels/internal/feed"
	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/mutate"
	"github.com/dyluth/protomodels/internal/predict"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// ErrTimeouts is returned when the adapter timed out too many times in a row.
var ErrTimeouts = errors.New("too many consecutive adapter timeouts")

// State is the position of a walker in its step cycle.
type State int

const (
	StateProposing State = iota
	StateScoring
	StateDeciding
	StateRecording
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateProposing:
		return "proposing"
	case StateScoring:
		return "scoring"
	case StateDeciding:
		return "deciding"
	case StateRecording:
		return "recording"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the walk parameters of one worker.
type Config struct {
	WorkerID               int
	MaxSteps               int // steps to run in this session
	MutationsPerStep       int
	FlushEvery             int
	PredictTimeout         time.Duration
	MaxConsecutiveTimeouts int
}

func (c *Config) applyDefaults() {
	if c.MutationsPerStep <= 0 {
		c.MutationsPerStep = 1
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 10
	}
	if c.MaxConsecutiveTimeouts <= 0 {
		c.MaxConsecutiveTimeouts = 5
	}
}

// Scorer evaluates a candidate model.
type Scorer interface {
	Score(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error)
}

// Offerer receives accepted models.
type Offerer interface {
	Offer(ctx context.Context, e hiscore.Entry) (bool, error)
}

// Publisher receives step events.
type Publisher interface {
	PublishStep(ctx context.Context, e feed.StepEvent) error
}

// Deps are the collaborators of a walker. Mutator and RNG must share one
// seeded generator for a walk to be reproducible. Store, History,
// SnapshotPath and Feed are optional.
type Deps struct {
	Mutator      *mutate.Mutator
	Scorer       Scorer
	RNG          *rand.Rand
	Store        Offerer
	History      *History
	SnapshotPath string
	Feed         Publisher
}

// Walker is a single-threaded hill climber. It is not safe for concurrent use.
type Walker struct {
	cfg  Config
	deps Deps

	state     State
	current   *protomodel.Model
	step      int
	startStep int
	timeouts  int
	reason    string

	candidate *protomodel.Model
	kind      string
}

// New creates a walker starting from the baseline model of particles.
func New(cfg Config, particles []int, deps Deps) (*Walker, error) {
	return newWalker(cfg, protomodel.Baseline(particles), deps)
}

// Resume creates a walker continuing from a snapshot. Workers pick their
// model with index, modulo the number of models. The step counter continues
// from the snapshot and never goes backwards.
func Resume(cfg Config, snap *protomodel.Snapshot, index int, deps Deps) (*Walker, error) {
	if snap == nil || len(snap.Models) == 0 {
		return nil, fmt.Errorf("snapshot contains no models")
	}
	if index < 0 {
		index = -index
	}
	m := protomodel.FromState(snap.Models[index%len(snap.Models)])
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot model %d is invalid: %w", index%len(snap.Models), err)
	}
	return newWalker(cfg, m, deps)
}

func newWalker(cfg Config, start *protomodel.Model, deps Deps) (*Walker, error) {
	if deps.Mutator == nil {
		return nil, fmt.Errorf("walker requires a mutator")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("walker requires a scorer")
	}
	if deps.RNG == nil {
		return nil, fmt.Errorf("walker requires a random generator")
	}
	if cfg.MaxSteps < 0 {
		return nil, fmt.Errorf("max steps must be non-negative, got %d", cfg.MaxSteps)
	}
	cfg.applyDefaults()

	return &Walker{
		cfg:       cfg,
		deps:      deps,
		state:     StateProposing,
		current:   start,
		step:      start.Step,
		startStep: start.Step,
	}, nil
}

// State returns the current state.
func (w *Walker) State() State {
	return w.state
}

// Current returns a copy of the best model so far.
func (w *Walker) Current() *protomodel.Model {
	return w.current.Clone()
}

// StepCount returns the step counter, including steps of earlier sessions.
func (w *Walker) StepCount() int {
	return w.step
}

// Reason returns why the walker terminated, or "" while it runs.
func (w *Walker) Reason() string {
	return w.reason
}

// Run steps until the walker terminates or ctx is cancelled. Buffered
// history is flushed and the snapshot written on every exit path.
func (w *Walker) Run(ctx context.Context) error {
	log.Printf("[Walker] Worker %d starting at step %d (Z=%.3f, max steps %d)",
		w.cfg.WorkerID, w.step, w.current.Z, w.cfg.MaxSteps)

	var runErr error
	for w.state != StateTerminated {
		if err := w.Step(ctx); err != nil {
			runErr = err
			break
		}
	}
	if w.state != StateTerminated {
		w.terminate(ctx, "stopped")
	}

	if err := w.flush(); err != nil && runErr == nil {
		runErr = err
	}
	log.Printf("[Walker] Worker %d terminated at step %d: %s (best Z=%.3f)",
		w.cfg.WorkerID, w.step, w.reason, w.current.Z)
	return runErr
}

// Step runs one full cycle from Proposing back to Proposing, or into
// Terminated. A rejected candidate still advances the step counter.
func (w *Walker) Step(ctx context.Context) error {
	if w.state == StateTerminated {
		return nil
	}
	if err := ctx.Err(); err != nil {
		w.terminate(ctx, "cancelled")
		return err
	}
	if w.step-w.startStep >= w.cfg.MaxSteps {
		w.terminate(ctx, "max steps reached")
		return nil
	}

	w.propose()

	w.state = StateScoring
	comb, err := w.score(ctx)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		w.terminate(ctx, reason)
		return err
	}
	if comb == nil {
		w.reject()
		return nil
	}
	w.candidate.Combination = comb
	w.candidate.Z = comb.Z

	w.state = StateDeciding
	if w.candidate.Z <= w.current.Z {
		w.reject()
		return nil
	}

	w.state = StateRecording
	if err := w.record(ctx); err != nil {
		w.terminate(ctx, err.Error())
		return err
	}
	w.state = StateProposing
	return nil
}

func (w *Walker) propose() {
	w.state = StateProposing
	w.step++

	candidate := w.current
	var kinds []string
	for i := 0; i < w.cfg.MutationsPerStep; i++ {
		var kind mutate.Kind
		candidate, kind = w.deps.Mutator.Mutate(candidate)
		if kind != mutate.KindNone {
			kinds = append(kinds, string(kind))
		}
	}
	candidate.Step = w.step
	w.candidate = candidate
	w.kind = strings.Join(kinds, "+")
}

// score calls the scorer under the per-call timeout. A nil combination with
// a nil error means the call timed out as a whole and the step is rejected.
// Partial predictions of a call that lost some analyses to the timeout
// still count.
func (w *Walker) score(ctx context.Context) (*protomodel.Combination, error) {
	callCtx := ctx
	if w.cfg.PredictTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.cfg.PredictTimeout)
		defer cancel()
	}

	comb, failures, err := w.deps.Scorer.Score(callCtx, w.candidate, w.deps.RNG)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	timedOut := false
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("worker %d step %d: %w", w.cfg.WorkerID, w.step, err)
		}
		timedOut = true
	}
	for _, f := range failures {
		if errors.Is(f.Err, predict.ErrAnalysisTimeout) {
			timedOut = true
			continue
		}
		log.Printf("[Walker] Worker %d step %d: dropping analysis %s: %v", w.cfg.WorkerID, w.step, f.AnalysisID, f.Err)
	}

	if !timedOut {
		w.timeouts = 0
		return &comb, nil
	}
	w.timeouts++
	log.Printf("[Walker] Worker %d step %d: adapter timed out (%d/%d consecutive)",
		w.cfg.WorkerID, w.step, w.timeouts, w.cfg.MaxConsecutiveTimeouts)
	if w.timeouts >= w.cfg.MaxConsecutiveTimeouts {
		return nil, fmt.Errorf("worker %d: %w (%d)", w.cfg.WorkerID, ErrTimeouts, w.timeouts)
	}
	if err != nil {
		return nil, nil
	}
	return &comb, nil
}

func (w *Walker) reject() {
	w.logEvent("step_rejected", map[string]interface{}{
		"step":   w.step,
		"Z":      w.candidate.Z,
		"best_Z": w.current.Z,
		"kind":   w.kind,
	})
	w.candidate = nil
	w.state = StateProposing
}

func (w *Walker) record(ctx context.Context) error {
	w.current = w.candidate
	w.candidate = nil

	w.logEvent("step_accepted", map[string]interface{}{
		"step":     w.step,
		"Z":        w.current.Z,
		"best_Z":   w.current.Z,
		"kind":     w.kind,
		"masses":   w.current.Describe(),
		"analyses": w.analyses(),
	})

	if w.deps.History != nil {
		if err := w.deps.History.Append(newRecord(w.current, w.kind, time.Now().UnixMilli())); err != nil {
			return err
		}
		if w.deps.History.Pending() >= w.cfg.FlushEvery {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}

	if err := w.writeSnapshot(); err != nil {
		return err
	}

	if w.deps.Store != nil {
		if _, err := w.deps.Store.Offer(ctx, hiscore.NewEntry(w.current, w.cfg.WorkerID)); err != nil {
			log.Printf("[Walker] Warning: worker %d failed to offer step %d to hiscore: %v", w.cfg.WorkerID, w.step, err)
		}
	}

	w.publish(ctx, feed.StatusRunning, "")
	return nil
}

func (w *Walker) terminate(ctx context.Context, reason string) {
	if w.state == StateTerminated {
		return
	}
	w.state = StateTerminated
	w.reason = reason
	w.candidate = nil
	w.logEvent("walker_terminated", map[string]interface{}{
		"step":   w.step,
		"best_Z": w.current.Z,
		"reason": reason,
	})
	// The run context may already be cancelled; the final status still goes out.
	w.publish(context.WithoutCancel(ctx), feed.StatusTerminated, reason)
}

// flush writes buffered history and the snapshot.
func (w *Walker) flush() error {
	if w.deps.History != nil {
		if err := w.deps.History.Flush(); err != nil {
			return fmt.Errorf("worker %d: %w", w.cfg.WorkerID, err)
		}
	}
	return w.writeSnapshot()
}

// writeSnapshot stores the best model with the current step counter, so a
// resumed walker continues counting from here.
func (w *Walker) writeSnapshot() error {
	if w.deps.SnapshotPath == "" {
		return nil
	}
	snap := w.current.Clone()
	snap.Step = w.step
	if err := protomodel.WriteSnapshot(w.deps.SnapshotPath, snap); err != nil {
		return fmt.Errorf("worker %d: failed to write snapshot: %w", w.cfg.WorkerID, err)
	}
	return nil
}

func (w *Walker) publish(ctx context.Context, status, reason string) {
	if w.deps.Feed == nil {
		return
	}
	masses := make(map[int]float64)
	for _, pid := range w.current.ActiveParticles() {
		masses[pid] = w.current.Mass(pid)
	}
	e := feed.StepEvent{
		Worker:      w.cfg.WorkerID,
		Step:        w.step,
		Z:           w.current.Z,
		Kind:        w.kind,
		Status:      status,
		Reason:      reason,
		Masses:      masses,
		Analyses:    w.analyses(),
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := w.deps.Feed.PublishStep(ctx, e); err != nil {
		log.Printf("[Walker] Warning: worker %d failed to publish step %d: %v", w.cfg.WorkerID, w.step, err)
	}
}

func (w *Walker) analyses() []string {
	if w.current.Combination == nil {
		return nil
	}
	return w.current.Combination.AnalysisIDs()
}

// logEvent emits one structured JSON log line.
func (w *Walker) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "walker"
	data["event_type"] = eventType
	data["worker"] = w.cfg.WorkerID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Walker] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
