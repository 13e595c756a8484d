// Package predict turns a candidate model into per-analysis predictions.
//
// The Adapter interface is the boundary to the theory-prediction machinery.
// Predictions are recomputed every step and never persisted; only value
// copies of their summaries end up in a protomodel.Combination.
package predict

import (
	"context"
	"errors"
	"math/rand"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

var (
	// ErrAdapter means the adapter could not produce predictions at all.
	// A walker terminates when it sees it.
	ErrAdapter = errors.New("theory prediction adapter failed")

	// ErrAnalysisTimeout marks an analysis skipped because the call ran out of time.
	ErrAnalysisTimeout = errors.New("analysis prediction timed out")

	// ErrAnalysisUnavailable marks an analysis whose data cannot be used.
	ErrAnalysisUnavailable = errors.New("analysis data unavailable")
)

// Likelihood is a likelihood function of the signal strength mu.
type Likelihood interface {
	// NLL returns -ln L(mu) up to a constant.
	NLL(mu float64) float64
}

// Prediction is the predicted signal of a model in one analysis.
type Prediction struct {
	AnalysisID string
	DatasetID  string
	Kind       protomodel.DataKind
	Signal     float64
	UpperLimit float64

	// Likelihood is nil for upper-limit-only results.
	Likelihood Likelihood
}

// HasLikelihood reports whether the prediction can enter a combination.
func (p Prediction) HasLikelihood() bool {
	return p.Likelihood != nil
}

// R is the ratio of predicted signal to the upper limit, 0 when no limit.
func (p Prediction) R() float64 {
	if p.UpperLimit <= 0 {
		return 0
	}
	return p.Signal / p.UpperLimit
}

// Ref returns the value copy stored in combinations.
func (p Prediction) Ref() protomodel.AnalysisRef {
	return protomodel.AnalysisRef{
		AnalysisID: p.AnalysisID,
		DatasetID:  p.DatasetID,
		Kind:       p.Kind,
		Signal:     p.Signal,
		UpperLimit: p.UpperLimit,
		R:          p.R(),
	}
}

// AnalysisFailure records an analysis that produced no prediction this step.
type AnalysisFailure struct {
	AnalysisID string
	Err        error
}

// Result is the outcome of one adapter call.
type Result struct {
	Predictions []Prediction
	Failures    []AnalysisFailure
}

// TimedOut reports whether any analysis was skipped for lack of time.
func (r Result) TimedOut() bool {
	for _, f := range r.Failures {
		if errors.Is(f.Err, ErrAnalysisTimeout) {
			return true
		}
	}
	return false
}

// Adapter computes predictions for a model. Stochastic adapters draw from
// rng only, so that a walk is reproducible from its seed.
type Adapter interface {
	Predict(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (Result, error)
}
