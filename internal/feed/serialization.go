package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StepToHash converts a StepEvent to a Redis hash. Map and list fields are
// JSON-encoded into single hash fields.
func StepToHash(e *StepEvent) (map[string]interface{}, error) {
	massesJSON, err := json.Marshal(e.Masses)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal masses: %w", err)
	}
	analysesJSON, err := json.Marshal(e.Analyses)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyses: %w", err)
	}

	return map[string]interface{}{
		"worker":       e.Worker,
		"step":         e.Step,
		"z":            strconv.FormatFloat(e.Z, 'g', -1, 64),
		"kind":         e.Kind,
		"status":       e.Status,
		"reason":       e.Reason,
		"masses":       string(massesJSON),
		"analyses":     string(analysesJSON),
		"timestamp_ms": e.TimestampMs,
	}, nil
}

// HashToStep converts a Redis hash back to a StepEvent.
func HashToStep(hash map[string]string) (*StepEvent, error) {
	worker, err := strconv.Atoi(hash["worker"])
	if err != nil {
		return nil, fmt.Errorf("invalid worker field: %w", err)
	}
	step, err := strconv.Atoi(hash["step"])
	if err != nil {
		return nil, fmt.Errorf("invalid step field: %w", err)
	}
	z, err := strconv.ParseFloat(hash["z"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid z field: %w", err)
	}

	var ts int64
	if raw := hash["timestamp_ms"]; raw != "" {
		ts, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp_ms field: %w", err)
		}
	}

	var masses map[int]float64
	if raw := hash["masses"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &masses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal masses: %w", err)
		}
	}
	var analyses []string
	if raw := hash["analyses"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &analyses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analyses: %w", err)
		}
	}

	return &StepEvent{
		Worker:      worker,
		Step:        step,
		Z:           z,
		Kind:        hash["kind"],
		Status:      hash["status"],
		Reason:      hash["reason"],
		Masses:      masses,
		Analyses:    analyses,
		TimestampMs: ts,
	}, nil
}
