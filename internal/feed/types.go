package feed

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Status values of a walker.
const (
	StatusRunning    = "running"
	StatusTerminated = "terminated"
)

// StepEvent is the public record of one accepted step.
type StepEvent struct {
	Worker      int             `json:"worker"`
	Step        int             `json:"step"`
	Z           float64         `json:"Z"`
	Kind        string          `json:"kind,omitempty"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Masses      map[int]float64 `json:"masses,omitempty"`
	Analyses    []string        `json:"analyses,omitempty"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// Validate checks the fields every event must carry.
func (e *StepEvent) Validate() error {
	if e.Worker < 0 {
		return fmt.Errorf("worker id must be non-negative, got %d", e.Worker)
	}
	if e.Step < 0 {
		return fmt.Errorf("step must be non-negative, got %d", e.Step)
	}
	switch e.Status {
	case StatusRunning, StatusTerminated:
	default:
		return fmt.Errorf("invalid status '%s'", e.Status)
	}
	return nil
}

// MassSummary renders the masses as "pid:mass" pairs sorted by particle id.
func (e *StepEvent) MassSummary() string {
	pids := make([]int, 0, len(e.Masses))
	for pid := range e.Masses {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid) + ":" + strconv.FormatFloat(e.Masses[pid], 'f', 0, 64)
	}
	return strings.Join(parts, " ")
}
