// Package combine selects the most significant subset of mutually
// combinable analyses for a model and computes its joint significance.
//
// Analyses that share detector data cannot enter the same likelihood
// product. The Graph records which pairs may be combined; the best
// combination is a maximum-weight clique of that graph where each node's
// weight is the evidence its analysis alone gives for the signal.
package combine

import "sort"

// Policy answers whether two analyses use disjoint data.
type Policy interface {
	MayCombine(a, b string) bool
}

// Graph is the exclusivity graph over the analyses present in one step.
type Graph struct {
	IDs        []string
	Compatible [][]bool

	index map[string]int
}

// BuildGraph builds the symmetric compatibility matrix for ids. Duplicate ids
// are collapsed, the node order is sorted, the diagonal is false and ids the
// policy does not know are compatible with nothing.
func BuildGraph(ids []string, policy Policy) *Graph {
	seen := make(map[string]bool, len(ids))
	var unique []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	g := &Graph{
		IDs:        unique,
		Compatible: make([][]bool, len(unique)),
		index:      make(map[string]int, len(unique)),
	}
	for i, id := range unique {
		g.index[id] = i
		g.Compatible[i] = make([]bool, len(unique))
	}
	if policy == nil {
		return g
	}
	for i := range unique {
		for j := i + 1; j < len(unique); j++ {
			ok := policy.MayCombine(unique[i], unique[j]) || policy.MayCombine(unique[j], unique[i])
			g.Compatible[i][j] = ok
			g.Compatible[j][i] = ok
		}
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.IDs)
}

// Index returns the node index of an analysis id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// AreCompatible reports whether two analyses may be combined.
func (g *Graph) AreCompatible(a, b string) bool {
	i, ok := g.index[a]
	if !ok {
		return false
	}
	j, ok := g.index[b]
	if !ok {
		return false
	}
	return g.Compatible[i][j]
}

// IsClique reports whether every pair of nodes is compatible.
func IsClique(nodes []int, compat [][]bool) bool {
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if !compat[nodes[i]][nodes[j]] {
				return false
			}
		}
	}
	return true
}
