package combine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bruteForce enumerates every subset and returns the best clique weight.
func bruteForce(weights []float64, compat [][]bool) float64 {
	n := len(weights)
	best := 0.0
	for mask := 1; mask < 1<<n; mask++ {
		var nodes []int
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				nodes = append(nodes, i)
			}
		}
		if !IsClique(nodes, compat) {
			continue
		}
		if w := CliqueWeight(nodes, weights); w > best {
			best = w
		}
	}
	return best
}

func randomInstance(rng *rand.Rand, n int, density float64) ([]float64, [][]bool) {
	weights := make([]float64, n)
	compat := make([][]bool, n)
	for i := range weights {
		weights[i] = 0.1 + rng.Float64()*5
		compat[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ok := rng.Float64() < density
			compat[i][j] = ok
			compat[j][i] = ok
		}
	}
	return weights, compat
}

func TestBranchAndBound_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	finder := BranchAndBound{}

	for _, density := range []float64{0, 0.3, 0.6, 1} {
		for n := 1; n <= 8; n++ {
			for trial := 0; trial < 10; trial++ {
				weights, compat := randomInstance(rng, n, density)

				cliques := finder.FindBestCliques(weights, compat, 3)
				require.NotEmpty(t, cliques)
				assert.True(t, IsClique(cliques[0], compat))
				assert.InDelta(t, bruteForce(weights, compat), CliqueWeight(cliques[0], weights), 1e-9,
					"density %.1f n %d trial %d", density, n, trial)

				for i := 1; i < len(cliques); i++ {
					assert.True(t, IsClique(cliques[i], compat))
					assert.LessOrEqual(t, CliqueWeight(cliques[i], weights), CliqueWeight(cliques[i-1], weights))
				}
			}
		}
	}
}

func TestBranchAndBound_FullyConnected(t *testing.T) {
	weights := []float64{1, 2, 3, 4}
	compat := [][]bool{
		{false, true, true, true},
		{true, false, true, true},
		{true, true, false, true},
		{true, true, true, false},
	}
	cliques := BranchAndBound{}.FindBestCliques(weights, compat, 1)
	require.Len(t, cliques, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, cliques[0])
}

func TestBranchAndBound_AllIncompatible(t *testing.T) {
	weights := []float64{1.5, 4.2, 0.3, 2.8}
	compat := make([][]bool, len(weights))
	for i := range compat {
		compat[i] = make([]bool, len(weights))
	}

	cliques := BranchAndBound{}.FindBestCliques(weights, compat, 2)
	require.Len(t, cliques, 2)
	assert.Equal(t, []int{1}, cliques[0])
	assert.Equal(t, []int{3}, cliques[1])
}

func TestBranchAndBound_Empty(t *testing.T) {
	assert.Nil(t, BranchAndBound{}.FindBestCliques(nil, nil, 3))
}

func TestBranchAndBound_ExpansionCap(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	weights, compat := randomInstance(rng, 12, 0.5)

	cliques := BranchAndBound{MaxExpansions: 1}.FindBestCliques(weights, compat, 1)
	require.Len(t, cliques, 1)
	assert.True(t, IsClique(cliques[0], compat))
}
