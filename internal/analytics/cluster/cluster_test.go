package cluster

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

var start = time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC)

func randomRecords(n int, seed int64) []domain.TransactionRecord {
	rng := rand.New(rand.NewSource(seed))
	categories := []string{"food", "rent", "fun", ""}
	merchants := []string{"Tesco", "Landlord", "Cinema", ""}
	records := make([]domain.TransactionRecord, n)
	for i := range records {
		k := rng.Intn(len(categories))
		records[i] = domain.TransactionRecord{
			ID:         fmt.Sprintf("tx-%d", i),
			Amount:     decimal.NewFromFloat(-(5 + rng.Float64()*300)),
			Date:       start.AddDate(0, 0, rng.Intn(120)),
			CategoryID: categories[k],
			Merchant:   merchants[k],
		}
	}
	return records
}

func TestCluster_Partition(t *testing.T) {
	tests := []struct {
		name string
		n    int
		k    int
	}{
		{"typical", 120, 4},
		{"many clusters", 40, 8},
		{"capped at record count", 3, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := randomRecords(tt.n, int64(tt.n))
			clusters, err := Cluster(records, tt.k, DefaultKMeansConfig())
			require.NoError(t, err)
			assert.LessOrEqual(t, len(clusters), min(tt.k, tt.n))

			seen := make(map[string]int)
			var total int
			var pct float64
			for _, c := range clusters {
				total += c.Count
				pct += c.Percentage
				assert.Len(t, c.MemberIDs, c.Count)
				assert.LessOrEqual(t, len(c.Sample), 5)
				assert.LessOrEqual(t, len(c.TopCategories), 3)
				assert.NotEmpty(t, c.DominantWeekday)
				for _, id := range c.MemberIDs {
					seen[id]++
				}
			}
			assert.Equal(t, tt.n, total)
			assert.InDelta(t, 100, pct, 1e-9)
			assert.Len(t, seen, tt.n)
			for id, n := range seen {
				assert.Equal(t, 1, n, "transaction %s in %d clusters", id, n)
			}
		})
	}
}

func TestCluster_SeparatesObviousGroups(t *testing.T) {
	var records []domain.TransactionRecord
	for i := 0; i < 20; i++ {
		records = append(records, domain.TransactionRecord{
			ID: fmt.Sprintf("coffee-%d", i), Amount: decimal.NewFromFloat(-3.5),
			Date: start, CategoryID: "coffee", Merchant: "Cafe",
		})
		records = append(records, domain.TransactionRecord{
			ID: fmt.Sprintf("rent-%d", i), Amount: decimal.NewFromInt(-1500),
			Date: start.AddDate(0, 0, 25), CategoryID: "rent", Merchant: "Landlord",
		})
	}

	clusters, err := Cluster(records, 2, DefaultKMeansConfig())
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	for _, c := range clusters {
		assert.Equal(t, 20, c.Count)
		require.Len(t, c.TopCategories, 1)
		assert.Equal(t, 20, c.TopCategories[0].Count)
		assert.InDelta(t, 0, c.AmountStd, 1e-9)
		assert.InDelta(t, 50, c.Percentage, 1e-9)
	}
}

func TestCluster_Deterministic(t *testing.T) {
	records := randomRecords(80, 9)
	a, err := Cluster(records, 3, DefaultKMeansConfig())
	require.NoError(t, err)
	b, err := Cluster(records, 3, DefaultKMeansConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCluster_Errors(t *testing.T) {
	_, err := Cluster(nil, 3, DefaultKMeansConfig())
	assert.True(t, errors.Is(err, errs.ErrEmptyInput))

	_, err = Cluster(randomRecords(10, 1), 1, DefaultKMeansConfig())
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter))
}

func TestMode(t *testing.T) {
	assert.Equal(t, "Friday", mode(map[string]int{"Monday": 2, "Friday": 2, "Sunday": 1}))
	assert.Equal(t, "", mode(map[string]int{}))
}
