package combine

import (
	"sort"

	"github.com/dyluth/protomodels/internal/predict"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

const weightEpsilon = 1e-9

// Config tunes the optimizer.
type Config struct {
	// TopK is the number of candidate cliques requested from the finder.
	TopK int

	// MuMax bounds the signal strength fit.
	MuMax float64

	// MaxR excludes a model whose predicted signal exceeds an upper limit by
	// more than this ratio. Zero disables the check.
	MaxR float64
}

// DefaultConfig returns the optimizer defaults.
func DefaultConfig() Config {
	return Config{TopK: 3, MuMax: DefaultMuMax}
}

// Optimizer picks the most significant combination of compatible analyses.
type Optimizer struct {
	policy Policy
	finder CliqueFinder
	cfg    Config
}

// NewOptimizer creates an optimizer. A nil finder selects BranchAndBound.
func NewOptimizer(policy Policy, finder CliqueFinder, cfg Config) *Optimizer {
	if finder == nil {
		finder = BranchAndBound{}
	}
	if cfg.TopK < 1 {
		cfg.TopK = 1
	}
	if cfg.MuMax <= 0 {
		cfg.MuMax = DefaultMuMax
	}
	return &Optimizer{policy: policy, finder: finder, cfg: cfg}
}

type node struct {
	pred   predict.Prediction
	weight float64
}

// Combine selects the best combination from one step's predictions. The
// returned value holds no references to the predictions.
func (o *Optimizer) Combine(preds []predict.Prediction) protomodel.Combination {
	var comb protomodel.Combination

	// Only the strongest dataset of each analysis is a candidate node.
	best := make(map[string]node)
	for _, p := range preds {
		if !p.HasLikelihood() {
			o.considerFallback(&comb, p)
			continue
		}
		w, _ := Weight(p.Likelihood, o.cfg.MuMax)
		if w <= weightEpsilon {
			continue
		}
		if cur, ok := best[p.AnalysisID]; !ok || w > cur.weight {
			best[p.AnalysisID] = node{pred: p, weight: w}
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var selected []node
	switch len(ids) {
	case 0:
	case 1:
		selected = []node{best[ids[0]]}
	default:
		g := BuildGraph(ids, o.policy)
		weights := make([]float64, g.Len())
		for i, id := range g.IDs {
			weights[i] = best[id].weight
		}
		cliques := o.finder.FindBestCliques(weights, g.Compatible, o.cfg.TopK)
		if len(cliques) > 0 {
			for _, idx := range cliques[0] {
				selected = append(selected, best[g.IDs[idx]])
			}
		}
	}

	if len(selected) > 0 {
		sort.SliceStable(selected, func(i, j int) bool {
			if selected[i].weight != selected[j].weight {
				return selected[i].weight > selected[j].weight
			}
			return selected[i].pred.AnalysisID < selected[j].pred.AnalysisID
		})
		liks := make([]predict.Likelihood, len(selected))
		for i, n := range selected {
			liks[i] = n.pred.Likelihood
			ref := n.pred.Ref()
			ref.Weight = n.weight
			comb.Analyses = append(comb.Analyses, ref)
		}
		pr := Profile(liks, o.cfg.MuMax)
		comb.Z = pr.Z()
		comb.MuHat = pr.MuHat
	}

	if comb.Excluded {
		comb.Z = 0
	}
	return comb
}

func (o *Optimizer) considerFallback(comb *protomodel.Combination, p predict.Prediction) {
	r := p.R()
	if o.cfg.MaxR > 0 && r > o.cfg.MaxR {
		comb.Excluded = true
	}
	if comb.Fallback == nil || r > comb.Fallback.R {
		ref := p.Ref()
		comb.Fallback = &ref
	}
}
