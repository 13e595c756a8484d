package mutate

import (
	"math"
	"math/rand"
	"sort"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Kind identifies a mutation.
type Kind string

const (
	KindMassShift      Kind = "mass_shift"
	KindBranchingRatio Kind = "branching_ratio"
	KindMultiplier     Kind = "multiplier"
	KindFreeze         Kind = "freeze"
	KindUnfreeze       Kind = "unfreeze"

	// KindNone is returned when no mutation applies to a model.
	KindNone Kind = ""
)

// Kinds lists every mutation in draw order.
var Kinds = []Kind{KindMassShift, KindBranchingRatio, KindMultiplier, KindFreeze, KindUnfreeze}

const (
	maxMultiplier   = 10.0
	newChannelProb  = 0.3
	maxDrawAttempts = 20
)

// Config controls mutation probabilities and magnitudes.
type Config struct {
	Weights         map[Kind]float64 // relative draw weight per kind
	MassSigma       float64          // stddev of a mass shift (GeV)
	MaxMass         float64          // upper bound for active masses (GeV)
	BranchingSigma  float64          // log-normal jitter of branching fractions
	MultiplierSigma float64          // log-normal jitter of multipliers
	Particles       []int            // particles that may be unfrozen
}

// DefaultConfig returns the mutation settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Weights: map[Kind]float64{
			KindMassShift:      0.4,
			KindBranchingRatio: 0.2,
			KindMultiplier:     0.1,
			KindFreeze:         0.1,
			KindUnfreeze:       0.2,
		},
		MassSigma:       50,
		MaxMass:         2400,
		BranchingSigma:  0.3,
		MultiplierSigma: 0.3,
		Particles:       protomodel.DefaultParticles,
	}
}

// handler applies one mutation in place and reports whether it changed the model.
type handler func(m *protomodel.Model) bool

// Mutator applies random mutations drawn from a single seeded generator.
// It is not safe for concurrent use; each walker owns its own.
type Mutator struct {
	cfg      Config
	rng      *rand.Rand
	handlers map[Kind]handler
}

// New creates a mutator. The generator is shared with the caller so that a
// whole walk is reproducible from one seed.
func New(cfg Config, rng *rand.Rand) *Mutator {
	if len(cfg.Particles) == 0 {
		cfg.Particles = protomodel.DefaultParticles
	}
	mu := &Mutator{cfg: cfg, rng: rng}
	mu.handlers = map[Kind]handler{
		KindMassShift:      mu.shiftMass,
		KindBranchingRatio: mu.changeBranching,
		KindMultiplier:     mu.changeMultiplier,
		KindFreeze:         mu.freezeRandom,
		KindUnfreeze:       mu.unfreezeRandom,
	}
	return mu
}

// Mutate returns a mutated copy of m and the kind applied. The input model is
// never modified. When no mutation applies the copy is unchanged and the kind
// is KindNone.
func (mu *Mutator) Mutate(m *protomodel.Model) (*protomodel.Model, Kind) {
	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		kind := mu.drawKind()
		if kind == KindNone {
			break
		}
		candidate := m.Clone()
		if mu.handlers[kind](candidate) {
			candidate.Z = 0
			candidate.Combination = nil
			return candidate, kind
		}
	}
	return m.Clone(), KindNone
}

func (mu *Mutator) drawKind() Kind {
	total := 0.0
	for _, k := range Kinds {
		total += mu.cfg.Weights[k]
	}
	if total <= 0 {
		return KindNone
	}
	x := mu.rng.Float64() * total
	for _, k := range Kinds {
		w := mu.cfg.Weights[k]
		if w <= 0 {
			continue
		}
		if x < w {
			return k
		}
		x -= w
	}
	return Kinds[len(Kinds)-1]
}

func (mu *Mutator) pick(ids []int) int {
	return ids[mu.rng.Intn(len(ids))]
}

func unstable(m *protomodel.Model) []int {
	var out []int
	for _, pid := range m.ActiveParticles() {
		if pid != protomodel.LSP {
			out = append(out, pid)
		}
	}
	return out
}

// massBounds returns the allowed mass range for pid.
func (mu *Mutator) massBounds(m *protomodel.Model, pid int) (float64, float64) {
	if pid == protomodel.LSP {
		upper := mu.cfg.MaxMass
		for _, other := range unstable(m) {
			if mass := m.Mass(other) - 1; mass < upper {
				upper = mass
			}
		}
		return 1, upper
	}
	return m.Mass(protomodel.LSP) + 1, mu.cfg.MaxMass
}

func (mu *Mutator) shiftMass(m *protomodel.Model) bool {
	active := m.ActiveParticles()
	if len(active) == 0 {
		return false
	}
	pid := mu.pick(active)
	lo, hi := mu.massBounds(m, pid)
	if hi < lo {
		return false
	}
	mass := m.Mass(pid) + mu.rng.NormFloat64()*mu.cfg.MassSigma
	m.Masses[pid] = math.Min(math.Max(mass, lo), hi)

	CleanDecays(m)
	Canonicalize(m)
	return true
}

func (mu *Mutator) changeBranching(m *protomodel.Model) bool {
	candidates := unstable(m)
	if len(candidates) == 0 {
		return false
	}
	pid := mu.pick(candidates)
	table := m.Decays[pid]
	if table == nil {
		table = DefaultDecays(pid)
		m.Decays[pid] = table
	}

	if mu.rng.Float64() < newChannelProb {
		if ch, ok := mu.newChannel(m, pid); ok {
			table[ch] = mu.rng.Float64() * 0.5
		}
	}

	for _, ch := range table.Channels() {
		table[ch] *= math.Exp(mu.rng.NormFloat64() * mu.cfg.BranchingSigma)
	}
	if total := table.Total(); total > 1 {
		for ch := range table {
			table[ch] /= total
		}
	}
	return true
}

// newChannel picks a decay of pid into a lighter active particle that the
// table does not list yet.
func (mu *Mutator) newChannel(m *protomodel.Model, pid int) (protomodel.Channel, bool) {
	var options []protomodel.Channel
	for _, d := range unstable(m) {
		if d == pid || m.Mass(d) >= m.Mass(pid) {
			continue
		}
		ch := protomodel.NewChannel(d, protomodel.SMPartner(pid))
		if _, exists := m.Decays[pid][ch]; !exists {
			options = append(options, ch)
		}
	}
	if len(options) == 0 {
		return "", false
	}
	sort.Slice(options, func(i, j int) bool { return options[i] < options[j] })
	return options[mu.rng.Intn(len(options))], true
}

func (mu *Mutator) changeMultiplier(m *protomodel.Model) bool {
	candidates := unstable(m)
	if len(candidates) == 0 {
		return false
	}
	pid := mu.pick(candidates)
	pair := protomodel.NewPair(pid, pid)
	v := m.Multiplier(pid, pid) * math.Exp(mu.rng.NormFloat64()*mu.cfg.MultiplierSigma)
	m.Multipliers[pair] = math.Min(v, maxMultiplier)
	return true
}

func (mu *Mutator) freezeRandom(m *protomodel.Model) bool {
	candidates := unstable(m)
	if len(candidates) == 0 {
		return false
	}
	return Freeze(m, mu.pick(candidates))
}

func (mu *Mutator) unfreezeRandom(m *protomodel.Model) bool {
	var frozen []int
	for _, pid := range mu.cfg.Particles {
		if pid != protomodel.LSP && m.IsFrozen(pid) {
			frozen = append(frozen, pid)
		}
	}
	if len(frozen) == 0 {
		return false
	}
	sort.Ints(frozen)
	pid := mu.pick(frozen)
	lo, hi := m.Mass(protomodel.LSP)+1, mu.cfg.MaxMass
	if hi < lo {
		return false
	}
	m.Masses[pid] = lo + mu.rng.Float64()*(hi-lo)
	m.Decays[pid] = DefaultDecays(pid)

	CleanDecays(m)
	Canonicalize(m)
	return true
}
