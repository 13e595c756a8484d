package hiscore

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/dyluth/protomodels/internal/mutate"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// zTolerance absorbs the numerical noise of refitting an unchanged likelihood.
const zTolerance = 1e-6

// ScoreFunc scores a model. Trim assumes it is deterministic.
type ScoreFunc func(ctx context.Context, m *protomodel.Model) (protomodel.Combination, error)

// TrimModel greedily removes content from m that its significance does not
// need: frozen entries, whole particles, decay channels and multiplier
// entries, in that order. A removal is kept only while the score stays within
// [z0*(1-maxLoss), z0] where z0 is the score of the untrimmed model, so
// trimming never raises Z. The input model is not modified.
func TrimModel(ctx context.Context, m *protomodel.Model, score ScoreFunc, maxLoss float64) (*protomodel.Model, error) {
	ref, err := score(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to score untrimmed model: %w", err)
	}
	z0 := ref.Z
	lower := z0 * (1 - math.Max(0, maxLoss))

	cur := m.Clone()
	mutate.DropFrozen(cur)
	cur.Z = z0
	cur.Combination = &ref
	if z0 <= 0 {
		return cur, nil
	}

	// try keeps trial when its score stays inside the window.
	try := func(trial *protomodel.Model) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		comb, err := score(ctx, trial)
		if err != nil {
			return err
		}
		if comb.Z < lower || comb.Z > z0*(1+zTolerance) {
			return nil
		}
		trial.Z = comb.Z
		trial.Combination = &comb
		cur = trial
		return nil
	}

	for _, pid := range cur.ActiveParticles() {
		trial := cur.Clone()
		if !mutate.Freeze(trial, pid) {
			continue
		}
		mutate.DropFrozen(trial)
		if err := try(trial); err != nil {
			return nil, err
		}
	}

	for _, pid := range cur.ActiveParticles() {
		for _, ch := range cur.Decays[pid].Channels() {
			table := cur.Decays[pid]
			if len(table) < 2 {
				break
			}
			if _, ok := table[ch]; !ok {
				continue
			}
			trial := cur.Clone()
			removeChannel(trial.Decays[pid], ch)
			if err := try(trial); err != nil {
				return nil, err
			}
		}
	}

	for _, pair := range sortedPairs(cur.Multipliers) {
		trial := cur.Clone()
		delete(trial.Multipliers, pair)
		if err := try(trial); err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// removeChannel deletes ch and rescales the remaining channels so that the
// total fraction is unchanged.
func removeChannel(table protomodel.DecayTable, ch protomodel.Channel) {
	total := table.Total()
	delete(table, ch)
	rest := table.Total()
	if rest <= 0 {
		return
	}
	for c := range table {
		table[c] *= total / rest
	}
}

func sortedPairs(ms map[protomodel.Pair]float64) []protomodel.Pair {
	out := make([]protomodel.Pair, 0, len(ms))
	for p := range ms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Trim trims the top raw entries and replaces the trimmed list with the
// results, so trimmed copies only exist for models still in the raw top.
// Scoring happens outside the lock; the raw list is never modified.
func (s *Store) Trim(ctx context.Context, score ScoreFunc, maxLoss float64, top int) (int, error) {
	raw, err := s.TopN(ctx, top)
	if err != nil {
		return 0, err
	}

	var trimmed []Entry
	for _, e := range raw {
		m, err := TrimModel(ctx, e.ToModel(), score, maxLoss)
		if err != nil {
			return 0, fmt.Errorf("failed to trim entry %s: %w", e.Fingerprint, err)
		}
		t := NewEntry(m, e.Worker)
		t.Step = e.Step
		trimmed = append(trimmed, t)
		log.Printf("[Hiscore] Trimmed %s: Z %.3f -> %.3f, %d -> %d active particles",
			shortID(e.Fingerprint), e.Z, t.Z, len(e.ToModel().ActiveParticles()), len(m.ActiveParticles()))
	}
	if len(trimmed) == 0 {
		return 0, nil
	}

	err = WithLock(ctx, s.path, true, s.lockTimeout, func() error {
		f, err := readFile(s.path, true)
		if err != nil {
			return err
		}
		f.Trimmed = mergeLists(s.maxEntries, trimmed)
		return writeFile(s.path, f)
	})
	if err != nil {
		return 0, err
	}
	return len(trimmed), nil
}

func shortID(fingerprint string) string {
	if len(fingerprint) > 8 {
		return fingerprint[:8]
	}
	return fingerprint
}
