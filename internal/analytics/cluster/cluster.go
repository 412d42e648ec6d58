// Package cluster groups transactions into behavioral segments with k-means
// over the standardized feature vectors.
package cluster

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

const (
	MinClusters = 2

	topLabels  = 3
	sampleSize = 5
)

// Cluster partitions records into at most nClusters groups. nClusters is
// capped at the number of records. Every record belongs to exactly one
// returned cluster; clusters that end up empty are omitted.
func Cluster(records []domain.TransactionRecord, nClusters int, cfg KMeansConfig) ([]domain.Cluster, error) {
	if len(records) == 0 {
		return nil, errs.EmptyInput("Cluster")
	}
	if nClusters < MinClusters {
		return nil, errs.InvalidParameter("Cluster", "n_clusters must be at least %d, got %d", MinClusters, nClusters)
	}
	k := nClusters
	if k > len(records) {
		k = len(records)
	}

	batch, err := features.Extract(records)
	if err != nil {
		return nil, err
	}
	scaled, _, err := features.Standardize(batch.Matrix())
	if err != nil {
		return nil, err
	}

	res := kmeans(scaled, k, cfg)
	if err := errs.CheckFinite("Cluster", res.inertia); err != nil {
		return nil, err
	}

	members := make([][]int, k)
	for i, label := range res.labels {
		members[label] = append(members[label], i)
	}

	out := make([]domain.Cluster, 0, k)
	for label, idx := range members {
		if len(idx) == 0 {
			continue
		}
		c, err := summarize(label, idx, records, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func summarize(label int, idx []int, records []domain.TransactionRecord, batch *features.Batch) (domain.Cluster, error) {
	c := domain.Cluster{
		ID:         label,
		Count:      len(idx),
		Percentage: 100 * float64(len(idx)) / float64(len(records)),
		MemberIDs:  make([]string, len(idx)),
	}

	amounts := make(stats.Float64Data, len(idx))
	weekdays := make(map[string]int)
	months := make(map[string]int)
	categories := newCounter()
	merchants := newCounter()
	for k, i := range idx {
		r := records[i]
		c.MemberIDs[k] = r.ID
		amounts[k] = batch.Vectors[i].Amount
		weekdays[features.WeekdayName(batch.Vectors[i].DayOfWeek)]++
		months[time.Month(batch.Vectors[i].Month).String()]++
		categories.add(r.CategoryID)
		merchants.add(r.Merchant)
		if len(c.Sample) < sampleSize {
			c.Sample = append(c.Sample, r)
		}
	}

	var err error
	if c.AmountMean, err = amounts.Mean(); err != nil {
		return domain.Cluster{}, errs.Computation("Cluster", err)
	}
	if c.AmountMedian, err = amounts.Median(); err != nil {
		return domain.Cluster{}, errs.Computation("Cluster", err)
	}
	if len(amounts) > 1 {
		if c.AmountStd, err = amounts.StandardDeviationSample(); err != nil {
			return domain.Cluster{}, errs.Computation("Cluster", err)
		}
	}
	if err := errs.CheckFinite("Cluster", c.AmountMean, c.AmountMedian, c.AmountStd); err != nil {
		return domain.Cluster{}, err
	}

	c.DominantWeekday = mode(weekdays)
	c.DominantMonth = mode(months)
	c.TopCategories = categories.top(topLabels)
	c.TopMerchants = merchants.top(topLabels)
	return c, nil
}

// mode returns the most frequent key; ties go to the alphabetically first.
func mode(counts map[string]int) string {
	best, bestCount := "", math.MinInt
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best
}

// counter counts non-empty labels and remembers first-seen order for ties.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	if label == "" {
		return
	}
	if _, ok := c.counts[label]; !ok {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

func (c *counter) top(n int) []domain.LabelCount {
	out := make([]domain.LabelCount, 0, len(c.order))
	for _, label := range c.order {
		out = append(out, domain.LabelCount{Label: label, Count: c.counts[label]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
