// Package anomaly implements the statistical and density-based transaction
// anomaly detectors.
package anomaly

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

const (
	MinThreshold = 1.0
	MaxThreshold = 5.0

	// HighZScore is the |Z| at which a statistical finding becomes high severity.
	HighZScore = 3.0

	// A conditioning group is used only when it has more members than this.
	minCategoryGroup = 5
	minWeekdayGroup  = 5
	minMerchantGroup = 3
)

// groupStats is the amount distribution of one conditioning group.
type groupStats struct {
	mean float64
	std  float64
}

// zScorer computes z-scores of amount magnitudes within groups of
// transactions that share a key.
type zScorer struct {
	dim     domain.DetectionType
	minSize int
	key     func(i int) (string, bool)
}

// Detect flags transactions whose amount is unusual globally or within their
// category, weekday or merchant group. Each transaction appears at most once.
func Detect(records []domain.TransactionRecord, threshold float64) ([]domain.AnomalyFinding, error) {
	if !(threshold >= MinThreshold && threshold <= MaxThreshold) {
		return nil, errs.InvalidParameter("Detect", "threshold must be between %.1f and %.1f, got %v", MinThreshold, MaxThreshold, threshold)
	}
	batch, err := features.Extract(records)
	if err != nil {
		return nil, err
	}
	amounts := batch.Amounts()

	scorers := []zScorer{
		{dim: domain.DetectionAmount, minSize: 1, key: func(int) (string, bool) { return "all", true }},
		{dim: domain.DetectionCategory, minSize: minCategoryGroup, key: func(i int) (string, bool) {
			return records[i].CategoryID, records[i].CategoryID != ""
		}},
		{dim: domain.DetectionTiming, minSize: minWeekdayGroup, key: func(i int) (string, bool) {
			return features.WeekdayName(batch.Vectors[i].DayOfWeek), true
		}},
		{dim: domain.DetectionMerchant, minSize: minMerchantGroup, key: func(i int) (string, bool) {
			return records[i].Merchant, records[i].Merchant != ""
		}},
	}

	hits := make(map[string]*domain.AnomalyFinding)
	var order []string

	for _, s := range scorers {
		groups := make(map[string][]int)
		for i := range records {
			if k, ok := s.key(i); ok {
				groups[k] = append(groups[k], i)
			}
		}
		described := make(map[string]groupStats, len(groups))
		for k, members := range groups {
			if g, ok := describeGroup(amounts, members, s.minSize); ok {
				described[k] = g
			}
		}

		for i, r := range records {
			k, ok := s.key(i)
			if !ok {
				continue
			}
			g, ok := described[k]
			if !ok {
				continue
			}
			z := (amounts[i] - g.mean) / g.std
			if math.Abs(z) <= threshold {
				continue
			}
			f, seen := hits[r.ID]
			if !seen {
				f = newFinding(r, batch.Vectors[i])
				hits[r.ID] = f
				order = append(order, r.ID)
			}
			if _, dup := f.Context.ZScores[s.dim]; !dup {
				f.Dimensions = append(f.Dimensions, s.dim)
			}
			f.Context.ZScores[s.dim] = z
			if math.Abs(z) > f.Score {
				f.Score = math.Abs(z)
				f.Type = s.dim
				f.Context.ExpectedAmount = g.mean
			}
		}
	}

	findings := make([]domain.AnomalyFinding, 0, len(order))
	for _, id := range order {
		f := hits[id]
		f.Severity = domain.SeverityMedium
		if f.Score >= HighZScore {
			f.Severity = domain.SeverityHigh
		}
		findings = append(findings, *f)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Score > findings[j].Score
	})
	return findings, nil
}

// describeGroup returns the mean and sample standard deviation of the group,
// or false when the group is too small or has no spread.
func describeGroup(amounts []float64, members []int, minSize int) (groupStats, bool) {
	if len(members) <= minSize || len(members) < 2 {
		return groupStats{}, false
	}
	data := make(stats.Float64Data, len(members))
	for k, i := range members {
		data[k] = amounts[i]
	}
	mean, err := data.Mean()
	if err != nil {
		return groupStats{}, false
	}
	std, err := data.StandardDeviationSample()
	if err != nil || std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return groupStats{}, false
	}
	return groupStats{mean: mean, std: std}, true
}

func newFinding(r domain.TransactionRecord, v features.Vector) *domain.AnomalyFinding {
	return &domain.AnomalyFinding{
		TransactionID: r.ID,
		Amount:        r.AmountFloat(),
		Date:          r.Date,
		Description:   r.Description,
		Context: domain.FindingContext{
			Category:  r.CategoryID,
			Merchant:  r.Merchant,
			DayOfWeek: features.WeekdayName(v.DayOfWeek),
			ZScores:   make(map[domain.DetectionType]float64),
		},
	}
}
