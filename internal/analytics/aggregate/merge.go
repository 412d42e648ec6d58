// Package aggregate combines detector outputs into a single finding list.
package aggregate

import (
	"math"
	"sort"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

// Merge concatenates the lists, keeps the first finding seen for each
// transaction id and orders the result by severity, then score magnitude.
func Merge(lists ...[]domain.AnomalyFinding) []domain.AnomalyFinding {
	var total int
	for _, l := range lists {
		total += len(l)
	}
	out := make([]domain.AnomalyFinding, 0, total)
	seen := make(map[string]struct{}, total)
	for _, l := range lists {
		for _, f := range l {
			if _, ok := seen[f.TransactionID]; ok {
				continue
			}
			seen[f.TransactionID] = struct{}{}
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return math.Abs(out[i].Score) > math.Abs(out[j].Score)
	})
	return out
}
