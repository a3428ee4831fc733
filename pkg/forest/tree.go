package forest

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// node is one decision node. Leaves have Left == -1 and carry the class
// distribution of the training rows that reached them in Value.
type node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Value     []float64 `json:"v,omitempty"`
}

func (n *node) leaf() bool { return n.Left < 0 }

// tree is a CART classification tree stored as a flat node slice rooted at 0.
type tree struct {
	Nodes []node `json:"nodes"`
}

// depth is the number of edges on the longest root-to-leaf path.
func (t *tree) depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.leaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// distribution walks x down the tree and returns the leaf class distribution.
func (t *tree) distribution(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// sample is the view of the training data a tree is grown on.
type sample struct {
	rows    func(i int) []float64
	classes []int // class index per row
	k       int   // number of classes
	width   int
}

// grower builds a single tree. It is not shared between goroutines.
type grower struct {
	data        sample
	rng         *rand.Rand
	maxDepth    int
	minSplit    int
	maxFeatures int
	nodes       []node

	// scratch buffers reused across splits
	order []int
	left  []float64
	right []float64
}

func newGrower(data sample, p Params, rng *rand.Rand) *grower {
	return &grower{
		data:        data,
		rng:         rng,
		maxDepth:    p.MaxDepth,
		minSplit:    max(p.MinSamplesSplit, 2),
		maxFeatures: p.featuresPerSplit(data.width),
		left:        make([]float64, data.k),
		right:       make([]float64, data.k),
	}
}

// grow fits a tree on the rows listed in idx. idx may contain repeats when
// bootstrapping.
func (g *grower) grow(idx []int) *tree {
	g.nodes = g.nodes[:0]
	g.build(idx, 0)
	return &tree{Nodes: append([]node(nil), g.nodes...)}
}

func (g *grower) build(idx []int, depth int) int {
	counts := make([]float64, g.data.k)
	for _, i := range idx {
		counts[g.data.classes[i]]++
	}
	self := len(g.nodes)
	g.nodes = append(g.nodes, node{Left: -1, Right: -1})

	if g.isPure(counts) || len(idx) < g.minSplit || (g.maxDepth > 0 && depth >= g.maxDepth) {
		g.nodes[self].Value = normalize(counts)
		return self
	}

	feature, threshold, ok := g.bestSplit(idx)
	if !ok {
		g.nodes[self].Value = normalize(counts)
		return self
	}

	var lo, hi []int
	for _, i := range idx {
		if g.data.rows(i)[feature] <= threshold {
			lo = append(lo, i)
		} else {
			hi = append(hi, i)
		}
	}
	l := g.build(lo, depth+1)
	r := g.build(hi, depth+1)
	g.nodes[self] = node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

func (g *grower) isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// bestSplit searches a random subset of features for the threshold with the
// lowest weighted Gini impurity. Features constant over idx do not count
// toward the subset size, so a split is found whenever one exists.
func (g *grower) bestSplit(idx []int) (int, float64, bool) {
	bestScore := 0.0
	bestFeature, bestThreshold := -1, 0.0
	visited := 0

	for _, f := range g.rng.Perm(g.data.width) {
		if visited >= g.maxFeatures && bestFeature >= 0 {
			break
		}
		score, threshold, ok := g.scanFeature(idx, f)
		if !ok {
			continue
		}
		visited++
		if bestFeature < 0 || score < bestScore {
			bestScore, bestFeature, bestThreshold = score, f, threshold
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// scanFeature sorts idx by feature f and evaluates every boundary between
// distinct values. The score is sum over both sides of n - sum(c^2)/n, which
// is the Gini impurity weighted by side size.
func (g *grower) scanFeature(idx []int, f int) (float64, float64, bool) {
	g.order = append(g.order[:0], idx...)
	rows := g.data.rows
	sort.SliceStable(g.order, func(a, b int) bool {
		return rows(g.order[a])[f] < rows(g.order[b])[f]
	})

	n := len(g.order)
	first, last := rows(g.order[0])[f], rows(g.order[n-1])[f]
	if first == last {
		return 0, 0, false
	}

	for c := range g.left {
		g.left[c] = 0
		g.right[c] = 0
	}
	for _, i := range g.order {
		g.right[g.data.classes[i]]++
	}

	best, threshold, found := 0.0, 0.0, false
	for pos := 0; pos < n-1; pos++ {
		cls := g.data.classes[g.order[pos]]
		g.left[cls]++
		g.right[cls]--

		v, next := rows(g.order[pos])[f], rows(g.order[pos+1])[f]
		if v == next {
			continue
		}
		nl, nr := float64(pos+1), float64(n-pos-1)
		score := nl - floats.Dot(g.left, g.left)/nl + nr - floats.Dot(g.right, g.right)/nr
		if !found || score < best {
			best, found = score, true
			threshold = v + (next-v)/2
			if threshold >= next {
				threshold = v
			}
		}
	}
	return best, threshold, found
}

func normalize(counts []float64) []float64 {
	out := append([]float64(nil), counts...)
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}
