package cluster

import (
	"math"
	"math/rand"

	"github.com/dvloznov/finance-analytics/internal/analytics/features"
)

// KMeansConfig controls Lloyd's algorithm and its restarts.
type KMeansConfig struct {
	Restarts  int
	MaxIter   int
	Tolerance float64
	Seed      int64
}

// DefaultKMeansConfig returns the settings used when none are given.
func DefaultKMeansConfig() KMeansConfig {
	return KMeansConfig{Restarts: 10, MaxIter: 300, Tolerance: 1e-4, Seed: 42}
}

// kmeansResult is the best labelling found across restarts.
type kmeansResult struct {
	labels    []int
	centroids features.Matrix
	inertia   float64
}

// kmeans partitions the rows of x into k groups. Every row receives exactly
// one label in [0, k).
func kmeans(x features.Matrix, k int, cfg KMeansConfig) kmeansResult {
	if cfg.Restarts <= 0 {
		cfg.Restarts = 1
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 300
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	best := kmeansResult{inertia: math.Inf(1)}
	for r := 0; r < cfg.Restarts; r++ {
		res := lloyd(x, seedCentroids(x, k, rng), cfg)
		if res.inertia < best.inertia {
			best = res
		}
	}
	return best
}

// seedCentroids picks k initial centroids with k-means++: each next centroid
// is drawn with probability proportional to its squared distance from the
// nearest centroid chosen so far.
func seedCentroids(x features.Matrix, k int, rng *rand.Rand) features.Matrix {
	centroids := make(features.Matrix, 0, k)
	centroids = append(centroids, clone(x[rng.Intn(len(x))]))

	dist := make([]float64, len(x))
	for i := range x {
		dist[i] = sqDist(x[i], centroids[0])
	}
	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
				next = i
			}
		} else {
			next = rng.Intn(len(x))
		}
		c := clone(x[next])
		centroids = append(centroids, c)
		for i := range x {
			if d := sqDist(x[i], c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

func lloyd(x features.Matrix, centroids features.Matrix, cfg KMeansConfig) kmeansResult {
	k := len(centroids)
	dims := len(x[0])
	labels := make([]int, len(x))

	for iter := 0; iter < cfg.MaxIter; iter++ {
		assign(x, centroids, labels)

		sums := make(features.Matrix, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, row := range x {
			counts[labels[i]]++
			for j, v := range row {
				sums[labels[i]][j] += v
			}
		}

		var shift float64
		for c := range centroids {
			// An empty cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			shift += sqDist(sums[c], centroids[c])
			centroids[c] = sums[c]
		}
		if shift <= cfg.Tolerance {
			break
		}
	}

	inertia := assign(x, centroids, labels)
	return kmeansResult{labels: labels, centroids: centroids, inertia: inertia}
}

// assign labels every row with its nearest centroid and returns the total
// squared distance.
func assign(x features.Matrix, centroids features.Matrix, labels []int) float64 {
	var inertia float64
	for i, row := range x {
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(row, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return inertia
}

func sqDist(a, b []float64) float64 {
	var s float64
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
