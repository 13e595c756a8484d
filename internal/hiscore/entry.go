// Package hiscore maintains ranked lists of the best models found.
//
// Every walker writes its own hiscore file; a consolidator merges them into
// a global one. All reads and writes go through WithLock and writes replace
// the file atomically, so a reader never sees a partial file and a crashed
// writer never corrupts one.
package hiscore

import (
	"errors"
	"sort"
	"time"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

var (
	// ErrLocked means the file lock could not be acquired in time.
	ErrLocked = errors.New("hiscore file is locked")

	// ErrCorrupt means a hiscore file could not be parsed.
	ErrCorrupt = errors.New("hiscore file is corrupt")
)

// Entry is one ranked model. It is a value copy, independent of any live Model.
type Entry struct {
	Model       protomodel.State        `json:"model"`
	Z           float64                 `json:"Z"`
	Step        int                     `json:"step"`
	Worker      int                     `json:"worker"`
	Combination *protomodel.Combination `json:"combination,omitempty"`
	Fingerprint string                  `json:"fingerprint,omitempty"`
	CreatedAtMs int64                   `json:"created_at_ms,omitempty"`
}

// NewEntry captures the current state of m.
func NewEntry(m *protomodel.Model, worker int) Entry {
	state := m.State()
	comb := state.Combination
	state.Z = 0
	state.Combination = nil
	return Entry{
		Model:       state,
		Z:           m.Z,
		Step:        m.Step,
		Worker:      worker,
		Combination: comb,
		Fingerprint: m.Fingerprint(),
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// ToModel rebuilds the model of the entry.
func (e Entry) ToModel() *protomodel.Model {
	m := protomodel.FromState(e.Model)
	m.Z = e.Z
	m.Step = e.Step
	if e.Combination != nil {
		c := e.Combination.Clone()
		m.Combination = &c
	}
	return m
}

func (e *Entry) ensureFingerprint() {
	if e.Fingerprint == "" {
		e.Fingerprint = protomodel.FromState(e.Model).Fingerprint()
	}
}

// less orders entries by descending Z, ties broken deterministically so that
// the ranking never depends on insertion order.
func less(a, b Entry) bool {
	if a.Z != b.Z {
		return a.Z > b.Z
	}
	if a.Fingerprint != b.Fingerprint {
		return a.Fingerprint < b.Fingerprint
	}
	if a.Worker != b.Worker {
		return a.Worker < b.Worker
	}
	if a.Step != b.Step {
		return a.Step < b.Step
	}
	return a.CreatedAtMs < b.CreatedAtMs
}

// mergeLists combines lists into one ranked list without duplicate models,
// truncated to limit entries (0 keeps all). For a fingerprint seen more than
// once the best ranked entry wins, so the result does not depend on the
// order of the lists.
func mergeLists(limit int, lists ...[]Entry) []Entry {
	best := make(map[string]Entry)
	for _, list := range lists {
		for _, e := range list {
			e.ensureFingerprint()
			if cur, ok := best[e.Fingerprint]; !ok || less(e, cur) {
				best[e.Fingerprint] = e
			}
		}
	}
	out := make([]Entry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
