package mutate

import (
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Canonicalize enforces the ordering convention of same-species pairs: the
// lower slot (1000000+k) always holds the lighter state. When it does not,
// the two slots are relabelled everywhere in the model. Idempotent.
func Canonicalize(m *protomodel.Model) {
	for _, pid := range m.Particles() {
		if pid < 1000000 || pid >= 2000000 {
			continue
		}
		upper, _ := protomodel.SameSpeciesPartner(pid)
		if !knows(m, upper) {
			continue
		}
		if m.Mass(pid) > m.Mass(upper) {
			relabel(m, map[int]int{pid: upper, upper: pid})
		}
	}
}

func knows(m *protomodel.Model, pid int) bool {
	if _, ok := m.Masses[pid]; ok {
		return true
	}
	_, ok := m.Decays[pid]
	return ok
}

// relabel renames particle ids through perm in masses, decay tables,
// daughter references and multiplier keys.
func relabel(m *protomodel.Model, perm map[int]int) {
	mapID := func(pid int) int {
		if to, ok := perm[pid]; ok {
			return to
		}
		return pid
	}

	masses := make(map[int]float64, len(m.Masses))
	for pid, mass := range m.Masses {
		masses[mapID(pid)] = mass
	}
	// A slot that had no explicit mass is frozen; keep it frozen after the swap.
	for from, to := range perm {
		if _, ok := m.Masses[from]; !ok {
			if _, set := masses[to]; !set {
				masses[to] = protomodel.DecoupledMass
			}
		}
	}

	decays := make(map[int]protomodel.DecayTable, len(m.Decays))
	for pid, table := range m.Decays {
		relabelled := make(protomodel.DecayTable, len(table))
		for ch, br := range table {
			relabelled[ch.Relabel(perm)] += br
		}
		decays[mapID(pid)] = relabelled
	}

	multipliers := make(map[protomodel.Pair]float64, len(m.Multipliers))
	for pair, v := range m.Multipliers {
		a, b := pair.Particles()
		multipliers[protomodel.NewPair(mapID(a), mapID(b))] = v
	}

	m.Masses = masses
	m.Decays = decays
	m.Multipliers = multipliers
}

// CleanDecays removes processes that are no longer kinematically possible:
// tables of frozen parents, channels into frozen or heavier daughters and
// multipliers of frozen particles. An active unstable particle left without
// channels decays fully to the LSP.
func CleanDecays(m *protomodel.Model) {
	for pid, table := range m.Decays {
		if pid == protomodel.LSP || m.IsFrozen(pid) {
			delete(m.Decays, pid)
			continue
		}
		parentMass := m.Mass(pid)
		for ch := range table {
			for _, d := range ch.Daughters() {
				if !protomodel.IsBSM(d) {
					continue
				}
				if m.IsFrozen(d) || m.Mass(d) >= parentMass {
					delete(table, ch)
					break
				}
			}
		}
	}

	for pair := range m.Multipliers {
		a, b := pair.Particles()
		if m.IsFrozen(a) || m.IsFrozen(b) {
			delete(m.Multipliers, pair)
		}
	}

	for _, pid := range m.ActiveParticles() {
		if pid == protomodel.LSP {
			continue
		}
		if len(m.Decays[pid]) == 0 {
			m.Decays[pid] = DefaultDecays(pid)
		}
	}
}

// DefaultDecays is the decay table of a freshly unfrozen particle.
func DefaultDecays(pid int) protomodel.DecayTable {
	return protomodel.DecayTable{
		protomodel.NewChannel(protomodel.LSP, protomodel.SMPartner(pid)): 1.0,
	}
}

// Freeze decouples pid and removes every process it takes part in.
// Freezing the LSP is a no-op and returns false.
func Freeze(m *protomodel.Model, pid int) bool {
	if pid == protomodel.LSP || m.IsFrozen(pid) {
		return false
	}
	m.Masses[pid] = protomodel.DecoupledMass
	delete(m.Decays, pid)
	CleanDecays(m)
	Canonicalize(m)
	return true
}

// DropFrozen removes frozen particles from the model entirely.
func DropFrozen(m *protomodel.Model) {
	for _, pid := range m.FrozenParticles() {
		delete(m.Masses, pid)
		delete(m.Decays, pid)
	}
	CleanDecays(m)
}
