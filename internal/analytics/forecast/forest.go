package forecast

import (
	"math"
	"math/rand"
	"sort"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
)

// regNode is one node of a regression tree stored in a flat slice.
// Leaves have Feature == -1 and carry the mean target of their samples.
type regNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type regTree struct {
	Nodes []regNode `json:"nodes"`
}

// Forest is a bagged ensemble of CART regression trees.
type Forest struct {
	Trees    []regTree `json:"trees"`
	Features int       `json:"features"`
}

// FitForest grows trees on bootstrap samples of (x, y). Splits minimize the
// summed squared error of the children and every feature is considered at
// every node. The same seed always gives the same forest.
func FitForest(x features.Matrix, y []float64, trees int, seed int64) (*Forest, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, errs.InsufficientData("FitForest", "need matching training rows, got %d rows and %d targets", len(x), len(y))
	}
	if err := errs.CheckFinite("FitForest", y...); err != nil {
		return nil, err
	}
	if trees <= 0 {
		trees = DefaultTrees
	}

	rng := rand.New(rand.NewSource(seed))
	f := &Forest{Trees: make([]regTree, trees), Features: len(x[0])}
	n := len(x)
	for t := range f.Trees {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		tree := regTree{}
		tree.grow(x, y, idx)
		f.Trees[t] = tree
	}
	return f, nil
}

// Predict averages the tree predictions for one feature row.
func (f *Forest) Predict(row []float64) (float64, error) {
	var total float64
	for k := range f.Trees {
		total += f.Trees[k].predict(row)
	}
	v := total / float64(len(f.Trees))
	if err := errs.CheckFinite("Predict", v); err != nil {
		return 0, err
	}
	return v, nil
}

func (t *regTree) grow(x features.Matrix, y []float64, idx []int) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, regNode{Feature: -1, Value: meanOf(y, idx)})
	if len(idx) < 2 {
		return id
	}

	feature, threshold, ok := bestSplit(x, y, idx)
	if !ok {
		return id
	}
	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return id
	}
	l := t.grow(x, y, left)
	r := t.grow(x, y, right)
	t.Nodes[id].Feature = feature
	t.Nodes[id].Threshold = threshold
	t.Nodes[id].Left = l
	t.Nodes[id].Right = r
	return id
}

func (t *regTree) predict(row []float64) float64 {
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if row[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// bestSplit scans every feature for the threshold with the lowest child SSE.
// It reports false when no split reduces the error, which also covers nodes
// whose targets are all equal.
func bestSplit(x features.Matrix, y []float64, idx []int) (int, float64, bool) {
	var sum, sumSq float64
	for _, i := range idx {
		sum += y[i]
		sumSq += y[i] * y[i]
	}
	constant := true
	for _, i := range idx[1:] {
		if y[i] != y[idx[0]] {
			constant = false
			break
		}
	}
	if constant {
		return 0, 0, false
	}
	n := float64(len(idx))
	parent := sumSq - sum*sum/n

	best, bestFeature, bestThreshold := parent, -1, 0.0
	order := make([]int, len(idx))
	for feature := 0; feature < len(x[idx[0]]); feature++ {
		copy(order, idx)
		sort.SliceStable(order, func(a, b int) bool {
			return x[order[a]][feature] < x[order[b]][feature]
		})

		var lSum, lSq float64
		for k := 0; k < len(order)-1; k++ {
			v := y[order[k]]
			lSum += v
			lSq += v * v
			cur, next := x[order[k]][feature], x[order[k+1]][feature]
			if next <= cur {
				continue
			}
			ln := float64(k + 1)
			rn := n - ln
			rSum, rSq := sum-lSum, sumSq-lSq
			sse := (lSq - lSum*lSum/ln) + (rSq - rSum*rSum/rn)
			if sse < best-1e-12 {
				best = sse
				bestFeature = feature
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}
	if bestFeature < 0 || math.IsNaN(bestThreshold) {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

func meanOf(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += y[i]
	}
	return s / float64(len(idx))
}
