package combine

import (
	"context"
	"math/rand"

	"github.com/dyluth/protomodels/internal/predict"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Scorer runs the adapter and the optimizer on a model.
type Scorer struct {
	Adapter   predict.Adapter
	Optimizer *Optimizer
}

// Score returns the best combination of m together with the analyses that
// failed this call. An adapter error is returned unchanged.
func (s *Scorer) Score(ctx context.Context, m *protomodel.Model, rng *rand.Rand) (protomodel.Combination, []predict.AnalysisFailure, error) {
	res, err := s.Adapter.Predict(ctx, m, rng)
	if err != nil {
		return protomodel.Combination{}, nil, err
	}
	return s.Optimizer.Combine(res.Predictions), res.Failures, nil
}

// Fixed returns a scoring function that reseeds the generator on every
// call, so that repeated evaluations of one model agree.
func (s *Scorer) Fixed(seed int64) func(ctx context.Context, m *protomodel.Model) (protomodel.Combination, error) {
	return func(ctx context.Context, m *protomodel.Model) (protomodel.Combination, error) {
		comb, _, err := s.Score(ctx, m, rand.New(rand.NewSource(seed)))
		return comb, err
	}
}
