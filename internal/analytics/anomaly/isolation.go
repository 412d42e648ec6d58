package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
)

// ModelTypeIsolationForest is the registry model type of a fitted IsolationForest.
const ModelTypeIsolationForest = "isolation_forest"

const (
	DefaultContamination = 0.1
	DefaultTrees         = 100
	DefaultMaxSamples    = 256
	DefaultSeed          = 42

	eulerGamma = 0.5772156649
)

// ForestConfig configures an isolation forest.
type ForestConfig struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultForestConfig returns the configuration used when none is given.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         DefaultTrees,
		MaxSamples:    DefaultMaxSamples,
		Contamination: DefaultContamination,
		Seed:          DefaultSeed,
	}
}

// isoNode is one node of an isolation tree stored in a flat slice.
// Leaves have Feature == -1.
type isoNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"s"`
}

type isoTree struct {
	Nodes []isoNode `json:"nodes"`
}

// IsolationForest is an ensemble of random isolation trees fitted on a
// standardized feature matrix. Shorter average isolation paths mean a point
// is easier to separate and therefore more anomalous.
type IsolationForest struct {
	Trees      []isoTree        `json:"trees"`
	SampleSize int              `json:"sample_size"`
	Offset     float64          `json:"offset"`
	Scaler     *features.Scaler `json:"scaler"`
	Config     ForestConfig     `json:"config"`
}

// ModelType implements modelcache.Model.
func (f *IsolationForest) ModelType() string {
	return ModelTypeIsolationForest
}

// FitIsolationForest standardizes m, grows the forest and calibrates the
// decision offset so that roughly cfg.Contamination of m scores below zero.
func FitIsolationForest(m features.Matrix, cfg ForestConfig) (*IsolationForest, error) {
	if len(m) < 2 {
		return nil, errs.InsufficientData("FitIsolationForest", "need at least 2 transactions, got %d", len(m))
	}
	scaled, scaler, err := features.Standardize(m)
	if err != nil {
		return nil, err
	}

	if cfg.Trees <= 0 {
		cfg.Trees = DefaultTrees
	}
	sampleSize := cfg.MaxSamples
	if sampleSize <= 0 || sampleSize > len(scaled) {
		sampleSize = len(scaled)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	forest := &IsolationForest{
		Trees:      make([]isoTree, cfg.Trees),
		SampleSize: sampleSize,
		Scaler:     scaler,
		Config:     cfg,
	}
	for t := range forest.Trees {
		idx := rng.Perm(len(scaled))[:sampleSize]
		sample := make(features.Matrix, sampleSize)
		for k, i := range idx {
			sample[k] = scaled[i]
		}
		tree := isoTree{}
		tree.grow(sample, 0, maxDepth, rng)
		forest.Trees[t] = tree
	}

	scores := forest.rawScores(scaled)
	offset, err := percentile(scores, 100*cfg.Contamination)
	if err != nil {
		return nil, err
	}
	forest.Offset = offset
	return forest, nil
}

// grow appends the subtree for sample and returns its node index.
func (t *isoTree) grow(sample features.Matrix, depth, maxDepth int, rng *rand.Rand) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, isoNode{Feature: -1, Size: len(sample)})
	if depth >= maxDepth || len(sample) <= 1 {
		return id
	}

	cols := len(sample[0])
	for _, feature := range rng.Perm(cols) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range sample {
			lo = math.Min(lo, row[feature])
			hi = math.Max(hi, row[feature])
		}
		if hi <= lo {
			continue
		}
		threshold := lo + rng.Float64()*(hi-lo)
		var left, right features.Matrix
		for _, row := range sample {
			if row[feature] < threshold {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		l := t.grow(left, depth+1, maxDepth, rng)
		r := t.grow(right, depth+1, maxDepth, rng)
		t.Nodes[id].Feature = feature
		t.Nodes[id].Threshold = threshold
		t.Nodes[id].Left = l
		t.Nodes[id].Right = r
		return id
	}
	return id
}

func (t *isoTree) pathLength(x []float64) float64 {
	depth := 0
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] < n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.Size)
}

// rawScores returns the negated anomaly score of every row of an already
// standardized matrix, in (-1, 0); lower is more anomalous.
func (f *IsolationForest) rawScores(scaled features.Matrix) []float64 {
	norm := averagePathLength(f.SampleSize)
	out := make([]float64, len(scaled))
	for i, x := range scaled {
		var total float64
		for k := range f.Trees {
			total += f.Trees[k].pathLength(x)
		}
		mean := total / float64(len(f.Trees))
		if norm == 0 {
			out[i] = -0.5
			continue
		}
		out[i] = -math.Pow(2, -mean/norm)
	}
	return out
}

// DecisionFunction returns one score per row of m; negative scores are
// outliers.
func (f *IsolationForest) DecisionFunction(m features.Matrix) ([]float64, error) {
	raw := f.rawScores(f.Scaler.Transform(m))
	for i := range raw {
		raw[i] -= f.Offset
	}
	if err := errs.CheckFinite("DecisionFunction", raw...); err != nil {
		return nil, err
	}
	return raw, nil
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + eulerGamma
		return 2*h - 2*float64(n-1)/float64(n)
	}
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, errs.EmptyInput("percentile")
	}
	if !(p >= 0 && p <= 100) {
		return 0, errs.InvalidParameter("percentile", "percentile must be within [0, 100], got %v", p)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := rank - float64(lo)
	v := sorted[lo] + frac*(sorted[hi]-sorted[lo])
	if math.IsNaN(v) {
		return 0, errs.Computation("percentile", fmt.Errorf("interpolation produced NaN"))
	}
	return v, nil
}
