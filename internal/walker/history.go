package walker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Record is one accepted step in the history file.
type Record struct {
	Step        int                           `json:"step"`
	Z           float64                       `json:"Z"`
	Kind        string                        `json:"kind"`
	Masses      map[int]float64               `json:"masses"`
	Decays      map[int]protomodel.DecayTable `json:"decays,omitempty"`
	Multipliers map[protomodel.Pair]float64   `json:"ssmultipliers,omitempty"`
	Analyses    []string                      `json:"analyses,omitempty"`
	TimestampMs int64                         `json:"timestamp_ms"`
}

func newRecord(m *protomodel.Model, kind string, timestampMs int64) Record {
	r := Record{
		Step:        m.Step,
		Z:           m.Z,
		Kind:        kind,
		Masses:      make(map[int]float64),
		Decays:      make(map[int]protomodel.DecayTable),
		Multipliers: make(map[protomodel.Pair]float64),
		TimestampMs: timestampMs,
	}
	for _, pid := range m.ActiveParticles() {
		r.Masses[pid] = m.Mass(pid)
		if table := m.Decays[pid]; len(table) > 0 {
			r.Decays[pid] = table.Clone()
		}
	}
	for pair, v := range m.Multipliers {
		r.Multipliers[pair] = v
	}
	if m.Combination != nil {
		r.Analyses = m.Combination.AnalysisIDs()
	}
	return r
}

// History is an append-only JSON-lines log of accepted steps. Records are
// buffered and written on Flush, so a crash loses at most the unflushed tail.
type History struct {
	path    string
	pending [][]byte
}

// OpenHistory prepares the history file at path, creating it if needed.
// Existing records are kept; new ones are appended.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close history %s: %w", path, err)
	}
	return &History{path: path}, nil
}

// Path returns the file path of the history.
func (h *History) Path() string {
	return h.path
}

// Append buffers a record.
func (h *History) Append(r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode history record: %w", err)
	}
	h.pending = append(h.pending, line)
	return nil
}

// Pending returns the number of buffered records.
func (h *History) Pending() int {
	return len(h.pending)
}

// Flush appends buffered records to the file and syncs it.
func (h *History) Flush() error {
	if len(h.pending) == 0 {
		return nil
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history %s: %w", h.path, err)
	}

	var buf bytes.Buffer
	torn, err := tornTail(f)
	if err != nil {
		f.Close()
		return err
	}
	if torn {
		// Terminate the partial line so the first new record stays readable.
		buf.WriteByte('\n')
	}
	for _, line := range h.pending {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync history: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	h.pending = h.pending[:0]
	return nil
}

// tornTail reports whether a non-empty file lacks a trailing newline.
func tornTail(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat history: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("failed to read history tail: %w", err)
	}
	return last[0] != '\n', nil
}

// ReadHistory loads every record of a history file. A malformed line, such
// as the torn tail of a killed worker, is skipped with a warning.
func ReadHistory(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			log.Printf("[Walker] Warning: skipping malformed history line %d in %s: %v", lineNo, path, err)
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to read history %s: %w", path, err)
	}
	return records, nil
}
