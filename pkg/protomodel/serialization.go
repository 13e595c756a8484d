package protomodel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotVersion is the current snapshot file format version.
const SnapshotVersion = 1

// State is the serialized form of a Model.
type State struct {
	Masses      map[int]float64    `json:"masses"`
	Decays      map[int]DecayTable `json:"decays,omitempty"`
	Multipliers map[Pair]float64   `json:"ssmultipliers,omitempty"`
	Step        int                `json:"step"`
	Z           float64            `json:"Z,omitempty"`
	Combination *Combination       `json:"combination,omitempty"`
}

// State returns the serializable form of the model.
func (m *Model) State() State {
	c := m.Clone()
	return State{
		Masses:      c.Masses,
		Decays:      c.Decays,
		Multipliers: c.Multipliers,
		Step:        c.Step,
		Z:           c.Z,
		Combination: c.Combination,
	}
}

// FromState rebuilds a Model. Missing maps are treated as empty.
func FromState(s State) *Model {
	m := &Model{
		Masses:      s.Masses,
		Decays:      s.Decays,
		Multipliers: s.Multipliers,
		Step:        s.Step,
		Z:           s.Z,
		Combination: s.Combination,
	}
	if m.Masses == nil {
		m.Masses = make(map[int]float64)
	}
	if m.Decays == nil {
		m.Decays = make(map[int]DecayTable)
	}
	if m.Multipliers == nil {
		m.Multipliers = make(map[Pair]float64)
	}
	return m.Clone()
}

// fingerprintView is the identity of a model: its physics content only.
type fingerprintView struct {
	Masses      map[int]float64    `json:"masses"`
	Decays      map[int]DecayTable `json:"decays"`
	Multipliers map[Pair]float64   `json:"ssmultipliers"`
}

// Fingerprint returns a stable hash of the model's physics content.
// Step, score and frozen particles do not affect it.
func (m *Model) Fingerprint() string {
	view := fingerprintView{
		Masses:      make(map[int]float64),
		Decays:      make(map[int]DecayTable),
		Multipliers: make(map[Pair]float64),
	}
	for _, pid := range m.ActiveParticles() {
		view.Masses[pid] = m.Mass(pid)
		if table, ok := m.Decays[pid]; ok && len(table) > 0 {
			view.Decays[pid] = table
		}
	}
	for pair, v := range m.Multipliers {
		a, b := pair.Particles()
		if m.IsFrozen(a) || m.IsFrozen(b) {
			continue
		}
		view.Multipliers[pair] = v
	}
	// encoding/json sorts map keys, so the output is canonical.
	data, err := json.Marshal(view)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Snapshot is the on-disk list of models a worker can resume from.
type Snapshot struct {
	Version int     `json:"version"`
	Models  []State `json:"models"`
}

// WriteSnapshot writes models to path atomically.
func WriteSnapshot(path string, models ...*Model) error {
	snap := Snapshot{Version: SnapshotVersion, Models: make([]State, 0, len(models))}
	for _, m := range models {
		snap.Models = append(snap.Models, m.State())
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// ReadSnapshot loads a snapshot file.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", path, snap.Version)
	}
	return &snap, nil
}

// WriteFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
