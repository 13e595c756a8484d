package combine

import (
	"container/heap"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// CliqueFinder searches for maximum-weight cliques. Implementations return up
// to topK cliques as sorted node index lists, best first.
type CliqueFinder interface {
	FindBestCliques(weights []float64, compat [][]bool, topK int) [][]int
}

// BranchAndBound is a best-first branch and bound search. Nodes are expanded
// in order of their weight bound, so the first complete clique popped with a
// bound no better than the K-th result ends the search.
type BranchAndBound struct {
	// MaxExpansions caps the number of expanded search nodes. Zero means no
	// cap. When the cap is hit the best cliques found so far are returned.
	MaxExpansions int
}

type searchNode struct {
	clique []int
	cands  []int
	weight float64
	bound  float64
	seq    int
}

type searchQueue []*searchNode

func (q searchQueue) Len() int { return len(q) }
func (q searchQueue) Less(i, j int) bool {
	if q[i].bound != q[j].bound {
		return q[i].bound > q[j].bound
	}
	if q[i].weight != q[j].weight {
		return q[i].weight > q[j].weight
	}
	return q[i].seq < q[j].seq
}
func (q searchQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *searchQueue) Push(x interface{}) { *q = append(*q, x.(*searchNode)) }
func (q *searchQueue) Pop() interface{} {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

type scoredClique struct {
	nodes  []int
	weight float64
}

// FindBestCliques implements CliqueFinder.
func (b BranchAndBound) FindBestCliques(weights []float64, compat [][]bool, topK int) [][]int {
	if len(weights) == 0 {
		return nil
	}
	if topK < 1 {
		topK = 1
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return weights[order[i]] > weights[order[j]] })

	boundOf := func(cands []int) float64 {
		ws := make([]float64, 0, len(cands))
		for _, c := range cands {
			if weights[c] > 0 {
				ws = append(ws, weights[c])
			}
		}
		return floats.Sum(ws)
	}

	var results []scoredClique
	kth := func() float64 {
		if len(results) < topK {
			return math.Inf(-1)
		}
		return results[topK-1].weight
	}
	record := func(nodes []int, weight float64) {
		sorted := append([]int(nil), nodes...)
		sort.Ints(sorted)
		results = append(results, scoredClique{nodes: sorted, weight: weight})
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].weight != results[j].weight {
				return results[i].weight > results[j].weight
			}
			return lexLess(results[i].nodes, results[j].nodes)
		})
		if len(results) > topK {
			results = results[:topK]
		}
	}

	seq := 0
	q := &searchQueue{{cands: order, bound: boundOf(order)}}
	expansions := 0
	for q.Len() > 0 {
		n := heap.Pop(q).(*searchNode)
		if len(results) == topK && n.bound <= kth() {
			break
		}
		if len(n.cands) == 0 {
			record(n.clique, n.weight)
			continue
		}
		if b.MaxExpansions > 0 && expansions >= b.MaxExpansions {
			break
		}
		expansions++

		for i, c := range n.cands {
			var next []int
			for _, other := range n.cands[i+1:] {
				if compat[c][other] {
					next = append(next, other)
				}
			}
			clique := append(append([]int(nil), n.clique...), c)
			weight := n.weight + weights[c]
			child := &searchNode{clique: clique, cands: next, weight: weight, bound: weight + boundOf(next)}
			if len(results) == topK && child.bound <= kth() {
				continue
			}
			seq++
			child.seq = seq
			heap.Push(q, child)
		}
	}

	if len(results) == 0 {
		nodes, weight := greedyClique(order, weights, compat)
		record(nodes, weight)
	}

	out := make([][]int, len(results))
	for i, r := range results {
		out[i] = r.nodes
	}
	return out
}

// greedyClique adds nodes in descending weight order while they stay compatible.
func greedyClique(order []int, weights []float64, compat [][]bool) ([]int, float64) {
	var nodes []int
	weight := 0.0
	for _, c := range order {
		ok := true
		for _, n := range nodes {
			if !compat[c][n] {
				ok = false
				break
			}
		}
		if ok {
			nodes = append(nodes, c)
			weight += weights[c]
		}
	}
	return nodes, weight
}

func lexLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CliqueWeight sums the weights of the nodes.
func CliqueWeight(nodes []int, weights []float64) float64 {
	total := 0.0
	for _, n := range nodes {
		total += weights[n]
	}
	return total
}
