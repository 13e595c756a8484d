package predict

// GaussianLikelihood models an observed excess over background with a
// Gaussian uncertainty: NLL(mu) = (mu*Signal - Excess)^2 / (2*Sigma^2).
type GaussianLikelihood struct {
	Signal float64
	Excess float64
	Sigma  float64
}

// NLL implements Likelihood.
func (g GaussianLikelihood) NLL(mu float64) float64 {
	if g.Sigma <= 0 {
		return 0
	}
	d := mu*g.Signal - g.Excess
	return d * d / (2 * g.Sigma * g.Sigma)
}

// LikelihoodFunc adapts a plain function to Likelihood.
type LikelihoodFunc func(mu float64) float64

// NLL implements Likelihood.
func (f LikelihoodFunc) NLL(mu float64) float64 {
	return f(mu)
}
