package combine

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dyluth/protomodels/internal/predict"
)

const (
	// DefaultMuMax caps the signal strength searched by Profile.
	DefaultMuMax = 1e4

	gridPoints = 64
)

// ProfileResult is the maximum likelihood estimate of a joint likelihood.
type ProfileResult struct {
	MuHat  float64
	NLL0   float64
	NLLMin float64
}

// Z is the significance of the signal hypothesis against mu = 0.
func (r ProfileResult) Z() float64 {
	return math.Sqrt(2 * math.Max(0, r.NLL0-r.NLLMin))
}

// jointNLL sums the negative log-likelihoods of independent analyses.
func jointNLL(liks []predict.Likelihood, mu float64) float64 {
	total := 0.0
	for _, l := range liks {
		total += l.NLL(mu)
	}
	return total
}

// Profile finds mu in [0, muMax] minimizing the joint NLL. A doubling bracket
// and a coarse grid locate the basin, Nelder-Mead refines it.
func Profile(liks []predict.Likelihood, muMax float64) ProfileResult {
	if muMax <= 0 {
		muMax = DefaultMuMax
	}
	nll := func(mu float64) float64 { return jointNLL(liks, mu) }
	res := ProfileResult{NLL0: nll(0)}
	if len(liks) == 0 {
		return res
	}

	upper := 1.0
	for upper < muMax && nll(2*upper) < nll(upper) {
		upper *= 2
	}
	upper = math.Min(2*upper, muMax)

	bestMu, bestNLL := 0.0, res.NLL0
	step := upper / gridPoints
	for i := 1; i <= gridPoints; i++ {
		mu := float64(i) * step
		if v := nll(mu); v < bestNLL {
			bestMu, bestNLL = mu, v
		}
	}

	clamped := func(x []float64) float64 {
		mu := x[0]
		switch {
		case mu < 0:
			return nll(0) + mu*mu*1e3
		case mu > muMax:
			return nll(muMax) + (mu-muMax)*(mu-muMax)*1e3
		}
		return nll(mu)
	}
	result, err := optimize.Minimize(optimize.Problem{Func: clamped}, []float64{bestMu}, nil, &optimize.NelderMead{})
	if err == nil && result != nil && len(result.X) == 1 {
		mu := math.Min(math.Max(result.X[0], 0), muMax)
		if v := nll(mu); v < bestNLL {
			bestMu, bestNLL = mu, v
		}
	}

	res.MuHat = bestMu
	res.NLLMin = bestNLL
	return res
}

// Weight is the evidence of one likelihood for a positive signal:
// ln L(muhat) - ln L(0), with muhat restricted to mu >= 0. Never negative.
func Weight(l predict.Likelihood, muMax float64) (float64, ProfileResult) {
	pr := Profile([]predict.Likelihood{l}, muMax)
	return math.Max(0, pr.NLL0-pr.NLLMin), pr
}

// PValue converts a one-sided significance to a p-value.
func PValue(z float64) float64 {
	return distuv.UnitNormal.Survival(z)
}

// ZFromPValue converts a one-sided p-value to a significance.
func ZFromPValue(p float64) float64 {
	if p <= 0 {
		return math.Inf(1)
	}
	if p >= 1 {
		return math.Inf(-1)
	}
	return distuv.UnitNormal.Quantile(1 - p)
}
