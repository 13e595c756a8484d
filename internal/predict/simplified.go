package predict

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/dyluth/protomodels/internal/catalog"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// SimplifiedConfig tunes the built-in adapter.
type SimplifiedConfig struct {
	// SignalNorm is the yield (events) of one particle at ReferenceMass with
	// unit multiplier, fraction and efficiency.
	SignalNorm    float64
	ReferenceMass float64

	// Smearing is the relative stddev of a Monte Carlo-like fluctuation
	// applied to every yield. Zero disables it.
	Smearing float64
}

// DefaultSimplifiedConfig returns the adapter defaults.
func DefaultSimplifiedConfig() SimplifiedConfig {
	return SimplifiedConfig{SignalNorm: 20, ReferenceMass: 500}
}

// Simplified is a fast built-in adapter. Yields fall with the fourth power of
// the mass and scale with the pair multiplier, the visible fraction and the
// analysis efficiency.
type Simplified struct {
	catalog *catalog.Catalog
	cfg     SimplifiedConfig
}

// NewSimplified creates the adapter over a catalog.
func NewSimplified(c *catalog.Catalog, cfg SimplifiedConfig) *Simplified {
	if cfg.SignalNorm <= 0 {
		cfg.SignalNorm = DefaultSimplifiedConfig().SignalNorm
	}
	if cfg.ReferenceMass <= 0 {
		cfg.ReferenceMass = DefaultSimplifiedConfig().ReferenceMass
	}
	return &Simplified{catalog: c, cfg: cfg}
}

// Predict implements Adapter. Analyses the model is not sensitive to get no
// prediction. Analyses left when ctx expires are reported as timed out.
func (s *Simplified) Predict(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (Result, error) {
	if m == nil {
		return Result{}, fmt.Errorf("%w: nil model", ErrAdapter)
	}
	if err := m.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	var res Result
	for i := range s.catalog.Analyses {
		a := &s.catalog.Analyses[i]
		if ctx.Err() != nil {
			res.Failures = append(res.Failures, AnalysisFailure{AnalysisID: a.ID, Err: ErrAnalysisTimeout})
			continue
		}
		if a.Unavailable {
			res.Failures = append(res.Failures, AnalysisFailure{AnalysisID: a.ID, Err: ErrAnalysisUnavailable})
			continue
		}

		signal := s.yield(m, a)
		if signal <= 0 {
			continue
		}
		if s.cfg.Smearing > 0 {
			signal *= math.Max(0, 1+s.cfg.Smearing*rng.NormFloat64())
		}
		if math.IsNaN(signal) || math.IsInf(signal, 0) {
			res.Failures = append(res.Failures, AnalysisFailure{
				AnalysisID: a.ID,
				Err:        fmt.Errorf("non-finite signal %v", signal),
			})
			continue
		}

		p := Prediction{
			AnalysisID: a.ID,
			DatasetID:  a.Dataset,
			Kind:       a.Kind,
			Signal:     signal,
			UpperLimit: a.UpperLimit,
		}
		if a.Kind == protomodel.DataKindLikelihood {
			p.Likelihood = GaussianLikelihood{Signal: signal, Excess: a.ObservedExcess, Sigma: a.Uncertainty}
		}
		res.Predictions = append(res.Predictions, p)
	}
	return res, nil
}

func (s *Simplified) yield(m *protomodel.Model, a *catalog.Analysis) float64 {
	total := 0.0
	for _, pid := range m.ActiveParticles() {
		if pid == protomodel.LSP {
			continue
		}
		mass := m.Mass(pid)
		if mass <= 0 || !a.Sensitive(pid, mass) {
			continue
		}
		xsec := s.cfg.SignalNorm * math.Pow(s.cfg.ReferenceMass/mass, 4)
		total += xsec * m.Multiplier(pid, pid) * visibleFraction(m, pid, a.FinalState) * a.Efficiency
	}
	return total
}

// visibleFraction is the fraction of decays of pid the analysis can see.
func visibleFraction(m *protomodel.Model, pid, finalState int) float64 {
	table := m.Decays[pid]
	if len(table) == 0 {
		return 1
	}
	if finalState == 0 {
		return table.Total()
	}
	frac := 0.0
	for _, ch := range table.Channels() {
		if ch.Contains(finalState) {
			frac += table[ch]
		}
	}
	return frac
}
