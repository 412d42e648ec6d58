package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/metrics"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

var day0 = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

func outflow(id string, amount float64, date time.Time) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:     id,
		Amount: decimal.NewFromFloat(-amount),
		Date:   date,
	}
}

func monthly(months int, amount float64) []domain.TransactionRecord {
	start := time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC)
	records := make([]domain.TransactionRecord, months)
	for i := range records {
		records[i] = outflow(fmt.Sprintf("m-%d", i), amount, start.AddDate(0, i, 0))
	}
	return records
}

func mixed(n int, seed int64) []domain.TransactionRecord {
	rng := rand.New(rand.NewSource(seed))
	categories := []string{"food", "transport", "bills"}
	records := make([]domain.TransactionRecord, 0, n+1)
	for i := 0; i < n; i++ {
		r := outflow(fmt.Sprintf("tx-%d", i), 50+rng.Float64()*10-5, day0.AddDate(0, 0, rng.Intn(28)))
		r.CategoryID = categories[i%len(categories)]
		records = append(records, r)
	}
	extreme := outflow("extreme", 5000, day0.AddDate(0, 0, 10))
	extreme.CategoryID = "food"
	return append(records, extreme)
}

func newTestEngine() (*Engine, *modelcache.Registry) {
	m := metrics.New()
	registry := modelcache.New(nil, m)
	return NewEngine(registry, m, DefaultConfig()), registry
}

func TestEngine_DetectAnomalies(t *testing.T) {
	e, _ := newTestEngine()
	var records []domain.TransactionRecord
	for i, a := range []float64{10, 12, 11, 9, 10, 500} {
		records = append(records, outflow(fmt.Sprintf("tx-%d", i), a, day0.AddDate(0, 0, i)))
	}

	res := e.DetectAnomalies(context.Background(), "org-1", records, 2.0)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "tx-5", res.Data[0].TransactionID)
	assert.Equal(t, "found 1 anomalous transactions", res.Message)
	assert.Empty(t, res.ErrorKind)
}

func TestEngine_NoAnomalies(t *testing.T) {
	e, _ := newTestEngine()
	var records []domain.TransactionRecord
	for i := 0; i < 10; i++ {
		records = append(records, outflow(fmt.Sprintf("tx-%d", i), 50, day0.AddDate(0, 0, i)))
	}

	res := e.DetectAnomalies(context.Background(), "org-1", records, 2.5)
	require.True(t, res.Success)
	assert.Equal(t, NoAnomaliesMessage, res.Message)
	assert.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
}

func TestEngine_FailuresBecomeResults(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func() (bool, string, errs.Kind)
		kind    errs.Kind
		message string
	}{
		{
			name: "invalid threshold",
			run: func() (bool, string, errs.Kind) {
				r := e.DetectAnomalies(ctx, "org-1", mixed(10, 1), 0.5)
				return r.Success, r.Message, r.ErrorKind
			},
			kind: errs.KindInvalidParameter,
		},
		{
			name: "short spending history",
			run: func() (bool, string, errs.Kind) {
				r := e.ForecastSpending(ctx, "org-1", monthly(5, 100), 3)
				return r.Success, r.Message, r.ErrorKind
			},
			kind:    errs.KindInsufficientData,
			message: "need at least 6 months of history, got 5",
		},
		{
			name: "empty cluster input",
			run: func() (bool, string, errs.Kind) {
				r := e.Cluster(ctx, nil, 3)
				return r.Success, r.Message, r.ErrorKind
			},
			kind: errs.KindEmptyInput,
		},
		{
			name: "contamination out of range",
			run: func() (bool, string, errs.Kind) {
				r := e.DetectMultivariate(ctx, "org-1", mixed(20, 1), 0.9)
				return r.Success, r.Message, r.ErrorKind
			},
			kind: errs.KindInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg, kind := tt.run()
			assert.False(t, ok)
			assert.Equal(t, tt.kind, kind)
			assert.NotEmpty(t, msg)
			if tt.message != "" {
				assert.Equal(t, tt.message, msg)
			}
		})
	}
}

func TestEngine_FailureJSON(t *testing.T) {
	e, _ := newTestEngine()
	res := e.Cluster(context.Background(), nil, 3)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"no transactions to analyze","error_kind":"empty_input","data":null}`, string(data))
	assert.ErrorIs(t, res.Err(), errs.ErrEmptyInput)
}

func TestEngine_ForecastCachesModel(t *testing.T) {
	e, registry := newTestEngine()
	records := monthly(12, 1000)

	first := e.ForecastSpending(context.Background(), "org-1", records, 3)
	require.True(t, first.Success, first.Message)
	require.Len(t, first.Data, 3)
	assert.Equal(t, 1, registry.Len())

	second := e.ForecastSpending(context.Background(), "org-1", records, 3)
	require.True(t, second.Success)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, registry.Len())

	other := e.ForecastSpending(context.Background(), "org-2", records, 3)
	require.True(t, other.Success)
	assert.Equal(t, 2, registry.Len())
}

// stallingStore holds every Load until release is closed.
type stallingStore struct {
	release chan struct{}
}

func (s *stallingStore) Load(ctx context.Context, key modelcache.Key) ([]byte, error) {
	<-s.release
	return nil, modelcache.ErrNotFound
}

func (s *stallingStore) Save(ctx context.Context, key modelcache.Key, data []byte) error {
	return nil
}

func TestEngine_CancelledCallerKeepsContextError(t *testing.T) {
	store := &stallingStore{release: make(chan struct{})}
	t.Cleanup(func() { close(store.release) })
	e := NewEngine(modelcache.New(store, nil), nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.ForecastSpending(ctx, "org-1", monthly(12, 1000), 3)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestEngine_ForecastCashFlow(t *testing.T) {
	e, _ := newTestEngine()
	res := e.ForecastCashFlow(context.Background(), "org-1", monthly(11, 400), 2)
	assert.False(t, res.Success)
	assert.Equal(t, errs.KindInsufficientData, res.ErrorKind)

	res = e.ForecastCashFlow(context.Background(), "org-1", monthly(12, 400), 2)
	require.True(t, res.Success, res.Message)
	assert.Len(t, res.Data, 2)
}

func TestEngine_DetectMultivariateCachesForest(t *testing.T) {
	e, registry := newTestEngine()
	records := mixed(80, 5)

	first := e.DetectMultivariate(context.Background(), "org-1", records, 0.1)
	require.True(t, first.Success, first.Message)
	require.NotEmpty(t, first.Data)
	assert.Equal(t, "extreme", first.Data[0].TransactionID)
	assert.Equal(t, 1, registry.Len())

	second := e.DetectMultivariate(context.Background(), "org-1", records, 0.1)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, registry.Len())

	e.DetectMultivariate(context.Background(), "org-1", records, 0.2)
	assert.Equal(t, 2, registry.Len())
}

func TestEngine_DetectAll(t *testing.T) {
	e := NewEngine(nil, nil, DefaultConfig())
	res := e.DetectAll(context.Background(), "org-1", mixed(80, 7), 2.5, 0.1)
	require.True(t, res.Success, res.Message)
	require.NotEmpty(t, res.Data)
	assert.Equal(t, "extreme", res.Data[0].TransactionID)
	assert.Equal(t, domain.SeverityHigh, res.Data[0].Severity)

	seen := make(map[string]bool)
	for i, f := range res.Data {
		assert.False(t, seen[f.TransactionID], "duplicate %s", f.TransactionID)
		seen[f.TransactionID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, res.Data[i-1].Severity, f.Severity)
		}
	}
}

func TestEngine_DetectAllFailsOnInvalidThreshold(t *testing.T) {
	e := NewEngine(nil, nil, DefaultConfig())
	res := e.DetectAll(context.Background(), "org-1", mixed(20, 7), 9, 0.1)
	assert.False(t, res.Success)
	assert.Equal(t, errs.KindInvalidParameter, res.ErrorKind)
	assert.Nil(t, res.Data)
}

func TestEngine_Cluster(t *testing.T) {
	e, _ := newTestEngine()
	res := e.Cluster(context.Background(), mixed(30, 2), 3)
	require.True(t, res.Success, res.Message)

	var total int
	for _, c := range res.Data {
		total += c.Count
	}
	assert.Equal(t, 31, total)
}
