package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-analytics/internal/analytics"
	"github.com/dvloznov/finance-analytics/internal/domain"
	"github.com/dvloznov/finance-analytics/internal/infra/bigquery"
	"github.com/dvloznov/finance-analytics/internal/jobs"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

type mockTransactions struct {
	records []domain.TransactionRecord
	err     error
	scope   domain.Scope
}

func (m *mockTransactions) FetchTransactions(ctx context.Context, scope domain.Scope) ([]domain.TransactionRecord, error) {
	m.scope = scope
	return m.records, m.err
}

type mockCategories struct {
	rows []bigquery.CategoryRow
	err  error
}

func (m *mockCategories) ListActiveCategories(ctx context.Context) ([]bigquery.CategoryRow, error) {
	return m.rows, m.err
}

var day0 = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

func scenario() []domain.TransactionRecord {
	var records []domain.TransactionRecord
	for i, a := range []float64{10, 12, 11, 9, 10, 500} {
		records = append(records, domain.TransactionRecord{
			ID:         fmt.Sprintf("tx-%d", i),
			Amount:     decimal.NewFromFloat(-a),
			Date:       day0.AddDate(0, 0, i),
			CategoryID: "groceries",
		})
	}
	return records
}

func categories() *mockCategories {
	return &mockCategories{rows: []bigquery.CategoryRow{
		{CategoryID: "food", Name: "Food"},
		{CategoryID: "groceries", Name: "Groceries", ParentCategoryID: bq.NullString{StringVal: "food", Valid: true}},
	}}
}

type findingsResult struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Data    []domain.AnomalyFinding `json:"data"`
}

func TestHandle_DetectAnomalies(t *testing.T) {
	txs := &mockTransactions{records: scenario()}
	svc := NewService(txs, categories(), analytics.NewEngine(nil, nil, analytics.DefaultConfig()))

	job := &jobs.AnalysisJob{
		JobID:  "job-1",
		Type:   jobs.JobTypeDetectAnomalies,
		Scope:  domain.Scope{OrganizationID: "org-1"},
		Params: jobs.Params{Threshold: 2},
	}
	if err := svc.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if txs.scope.OrganizationID != "org-1" {
		t.Errorf("scope not passed to store: %+v", txs.scope)
	}

	var res findingsResult
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !res.Success || len(res.Data) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := res.Data[0].Context.CategoryName; got != "Food / Groceries" {
		t.Errorf("CategoryName = %q, want %q", got, "Food / Groceries")
	}
}

func TestHandle_AnalysisFailureCompletesJob(t *testing.T) {
	svc := NewService(&mockTransactions{records: scenario()}, nil, analytics.NewEngine(nil, nil, analytics.DefaultConfig()))

	job := &jobs.AnalysisJob{Type: jobs.JobTypeForecastSpending}
	if err := svc.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var res struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		ErrorKind string `json:"error_kind"`
	}
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.ErrorKind != "insufficient_data" {
		t.Errorf("ErrorKind = %q", res.ErrorKind)
	}
	if res.Message != "need at least 6 months of history, got 1" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestHandle_Errors(t *testing.T) {
	engine := analytics.NewEngine(nil, nil, analytics.DefaultConfig())

	tests := []struct {
		name string
		txs  *mockTransactions
		job  *jobs.AnalysisJob
	}{
		{
			name: "store failure",
			txs:  &mockTransactions{err: errors.New("bigquery: quota exceeded")},
			job:  &jobs.AnalysisJob{Type: jobs.JobTypeCluster},
		},
		{
			name: "unknown type",
			txs:  &mockTransactions{records: scenario()},
			job:  &jobs.AnalysisJob{Type: "predict_lottery"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.txs, nil, engine)
			if err := svc.Handle(context.Background(), tt.job); err == nil {
				t.Error("expected error")
			}
			if tt.job.Result != nil {
				t.Error("expected no result on error")
			}
		})
	}
}

func TestRun_ClusterNamesAndDefaults(t *testing.T) {
	cats := categories()
	svc := NewService(nil, cats, analytics.NewEngine(nil, nil, analytics.DefaultConfig()))

	out, err := svc.Run(context.Background(), jobs.JobTypeCluster, "org-1", scenario(), jobs.Params{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, ok := out.(analytics.Result[[]domain.Cluster])
	if !ok {
		t.Fatalf("unexpected result type %T", out)
	}
	if !res.Success {
		t.Fatalf("cluster failed: %s", res.Message)
	}

	total := 0
	for _, c := range res.Data {
		total += c.Count
		for _, lc := range c.TopCategories {
			if lc.Name != "Food / Groceries" {
				t.Errorf("label %s named %q", lc.Label, lc.Name)
			}
		}
	}
	if total != 6 {
		t.Errorf("clusters cover %d transactions, want 6", total)
	}
}

func TestRun_CategoryLookupFailure(t *testing.T) {
	cats := &mockCategories{err: errors.New("table not found")}
	svc := NewService(nil, cats, analytics.NewEngine(nil, nil, analytics.DefaultConfig()))

	out, err := svc.Run(context.Background(), jobs.JobTypeDetectAnomalies, "org-1", scenario(), jobs.Params{Threshold: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := out.(analytics.Result[[]domain.AnomalyFinding])
	if len(res.Data) != 1 || res.Data[0].Context.CategoryName != "" {
		t.Errorf("unexpected findings %+v", res.Data)
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg := analytics.DefaultConfig()
	svc := NewService(nil, nil, analytics.NewEngine(nil, nil, cfg))

	got := svc.resolve(jobs.Params{MonthsAhead: 12})
	want := jobs.Params{
		Threshold:     cfg.Threshold,
		Contamination: cfg.Contamination,
		MonthsAhead:   12,
		Clusters:      cfg.Clusters,
	}
	if got != want {
		t.Errorf("resolve() = %+v, want %+v", got, want)
	}
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

func TestHandle_CancelledAnalysisFailsJob(t *testing.T) {
	store := &stallingStore{release: make(chan struct{})}
	t.Cleanup(func() { close(store.release) })
	engine := analytics.NewEngine(modelcache.New(store, nil), nil, analytics.DefaultConfig())
	svc := NewService(&mockTransactions{records: scenario()}, nil, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &jobs.AnalysisJob{Type: jobs.JobTypeDetectMultivariate, Scope: domain.Scope{OrganizationID: "org-1"}}
	err := svc.Handle(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle() error = %v, want context.Canceled", err)
	}
	if job.Result != nil {
		t.Errorf("interrupted job should carry no result, got %s", job.Result)
	}
}
