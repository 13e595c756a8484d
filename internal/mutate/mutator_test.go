package mutate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

func newTestMutator(seed int64) *Mutator {
	return New(DefaultConfig(), rand.New(rand.NewSource(seed)))
}

func TestMutate_DoesNotAlterInput(t *testing.T) {
	mu := newTestMutator(7)
	m := protomodel.Baseline(protomodel.DefaultParticles)
	before := m.Fingerprint()

	for i := 0; i < 50; i++ {
		next, _ := mu.Mutate(m)
		require.NotNil(t, next)
		assert.Equal(t, before, m.Fingerprint())
	}
}

func TestMutate_FractionsStayBounded(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 42} {
		mu := newTestMutator(seed)
		m := protomodel.Baseline(protomodel.DefaultParticles)

		for i := 0; i < 500; i++ {
			m, _ = mu.Mutate(m)
			require.NoError(t, m.Validate(), "seed %d step %d", seed, i)
			for pid, table := range m.Decays {
				assert.LessOrEqual(t, table.Total(), 1+1e-9, "particle %d", pid)
			}
		}
	}
}

func TestMutate_LSPStaysLightest(t *testing.T) {
	mu := newTestMutator(11)
	m := protomodel.Baseline(protomodel.DefaultParticles)

	for i := 0; i < 500; i++ {
		m, _ = mu.Mutate(m)
		lsp := m.Mass(protomodel.LSP)
		assert.False(t, m.IsFrozen(protomodel.LSP))
		for _, pid := range m.ActiveParticles() {
			if pid != protomodel.LSP {
				assert.Greater(t, m.Mass(pid), lsp)
			}
		}
	}
}

func TestMutate_Deterministic(t *testing.T) {
	run := func() []string {
		mu := newTestMutator(5)
		m := protomodel.Baseline(protomodel.DefaultParticles)
		var trail []string
		for i := 0; i < 100; i++ {
			var kind Kind
			m, kind = mu.Mutate(m)
			trail = append(trail, string(kind)+":"+m.Fingerprint())
		}
		return trail
	}
	assert.Equal(t, run(), run())
}

func TestMutate_OnlyUnfreezeOnBaseline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[Kind]float64{KindUnfreeze: 1}
	cfg.Particles = []int{1000006, protomodel.LSP}
	mu := New(cfg, rand.New(rand.NewSource(1)))

	m, kind := mu.Mutate(protomodel.Baseline(cfg.Particles))
	assert.Equal(t, KindUnfreeze, kind)
	assert.Equal(t, []int{1000006, protomodel.LSP}, m.ActiveParticles())
	assert.Equal(t, DefaultDecays(1000006), m.Decays[1000006])

	// Nothing left to unfreeze.
	_, kind = mu.Mutate(m)
	assert.Equal(t, KindNone, kind)
}

func TestCanonicalize(t *testing.T) {
	t.Run("swaps heavier lower slot", func(t *testing.T) {
		m := protomodel.Baseline(protomodel.DefaultParticles)
		m.Masses[1000006] = 900
		m.Masses[2000006] = 600
		m.Decays[1000006] = protomodel.DecayTable{protomodel.NewChannel(2000006, 6): 0.4}
		m.Decays[2000006] = DefaultDecays(2000006)
		m.Multipliers[protomodel.NewPair(1000006, 1000006)] = 2.5

		Canonicalize(m)

		assert.Equal(t, 600.0, m.Mass(1000006))
		assert.Equal(t, 900.0, m.Mass(2000006))
		assert.Equal(t, 2.5, m.Multiplier(2000006, 2000006))
		assert.Equal(t, 1.0, m.Multiplier(1000006, 1000006))
		// The heavy state's decay into the light one is relabelled with it.
		assert.Equal(t, 0.4, m.Decays[2000006][protomodel.NewChannel(1000006, 6)])
	})

	t.Run("moves lone active state to lower slot", func(t *testing.T) {
		m := protomodel.Baseline(protomodel.DefaultParticles)
		m.Masses[2000005] = 700
		m.Decays[2000005] = DefaultDecays(2000005)

		Canonicalize(m)

		assert.Equal(t, 700.0, m.Mass(1000005))
		assert.True(t, m.IsFrozen(2000005))
	})

	t.Run("idempotent", func(t *testing.T) {
		mu := newTestMutator(3)
		m := protomodel.Baseline(protomodel.DefaultParticles)
		for i := 0; i < 200; i++ {
			m, _ = mu.Mutate(m)
			once := m.Clone()
			Canonicalize(once)
			twice := once.Clone()
			Canonicalize(twice)
			assert.Equal(t, once.Fingerprint(), twice.Fingerprint())
			for _, pid := range []int{1000005, 1000006} {
				upper, _ := protomodel.SameSpeciesPartner(pid)
				assert.LessOrEqual(t, once.Mass(pid), once.Mass(upper))
			}
		}
	})
}

func TestCleanDecays(t *testing.T) {
	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Masses[1000021] = 1500
	m.Masses[1000006] = 800
	m.Decays[1000021] = protomodel.DecayTable{
		protomodel.NewChannel(1000006, 6): 0.5,
		protomodel.NewChannel(1000005, 5): 0.3, // frozen daughter
	}
	m.Decays[1000011] = DefaultDecays(1000011) // frozen parent

	CleanDecays(m)

	assert.Len(t, m.Decays[1000021], 1)
	assert.NotContains(t, m.Decays, 1000011)
	assert.Equal(t, DefaultDecays(1000006), m.Decays[1000006], "active particle gets default decay")
}

func TestFreeze(t *testing.T) {
	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Masses[1000006] = 800
	m.Decays[1000006] = DefaultDecays(1000006)
	m.Multipliers[protomodel.NewPair(1000006, 1000006)] = 2

	assert.False(t, Freeze(m, protomodel.LSP))
	assert.True(t, Freeze(m, 1000006))
	assert.True(t, m.IsFrozen(1000006))
	assert.NotContains(t, m.Decays, 1000006)
	assert.Empty(t, m.Multipliers)
	assert.False(t, Freeze(m, 1000006), "already frozen")
}
