package protomodel

// DataKind distinguishes what a result provides.
type DataKind string

const (
	// DataKindUpperLimit results only carry an upper limit on the signal.
	DataKindUpperLimit DataKind = "upper-limit"

	// DataKindLikelihood results expose a likelihood of the signal strength.
	DataKindLikelihood DataKind = "likelihood"
)

// AnalysisRef is a value copy of one prediction used in a combination.
type AnalysisRef struct {
	AnalysisID string   `json:"analysis_id"`
	DatasetID  string   `json:"dataset_id,omitempty"`
	Kind       DataKind `json:"kind"`
	Weight     float64  `json:"weight,omitempty"`
	Signal     float64  `json:"signal"`
	UpperLimit float64  `json:"upper_limit,omitempty"`
	R          float64  `json:"r,omitempty"`
}

// Combination is the selected subset of mutually combinable analyses and its
// joint significance.
type Combination struct {
	Analyses []AnalysisRef `json:"analyses"`
	Z        float64       `json:"Z"`
	MuHat    float64       `json:"muhat"`

	// Fallback is the most constraining upper-limit-only analysis.
	Fallback *AnalysisRef `json:"fallback,omitempty"`

	// Excluded is set when an upper limit rules the model out.
	Excluded bool `json:"excluded,omitempty"`
}

// Clone returns a deep copy.
func (c Combination) Clone() Combination {
	out := c
	out.Analyses = append([]AnalysisRef(nil), c.Analyses...)
	if c.Fallback != nil {
		fb := *c.Fallback
		out.Fallback = &fb
	}
	return out
}

// AnalysisIDs returns the ids of the selected analyses in order.
func (c Combination) AnalysisIDs() []string {
	ids := make([]string, len(c.Analyses))
	for i, a := range c.Analyses {
		ids[i] = a.AnalysisID
	}
	return ids
}

// Empty reports whether no analysis contributed.
func (c Combination) Empty() bool {
	return len(c.Analyses) == 0
}
