package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

func TestTransactionRowToRecord(t *testing.T) {
	row := &TransactionRow{
		TransactionID:   "tx-1",
		OrganizationID:  "org-1",
		TransactionDate: civil.Date{Year: 2024, Month: time.May, Day: 17},
		Amount:          big.NewRat(-12345, 100),
		RawDescription:  "CARD PAYMENT TO TESCO STORES 3297",
		NormalizedDescription: bigquery.NullString{
			StringVal: "Tesco", Valid: true,
		},
		CategoryID:   bigquery.NullString{StringVal: "groceries", Valid: true},
		MerchantName: bigquery.NullString{StringVal: "Tesco Stores", Valid: true},
	}

	rec, err := row.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec.Amount.String() != "-123.45" {
		t.Errorf("amount = %s, want -123.45", rec.Amount)
	}
	if !rec.IsOutflow() {
		t.Error("negative amount should be an outflow")
	}
	want := time.Date(2024, time.May, 17, 0, 0, 0, 0, time.UTC)
	if !rec.Date.Equal(want) {
		t.Errorf("date = %v, want %v", rec.Date, want)
	}
	if rec.Description != "Tesco" || rec.CategoryID != "groceries" || rec.Merchant != "Tesco Stores" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestTransactionRowToRecord_NullsAndMissingAmount(t *testing.T) {
	row := &TransactionRow{
		TransactionID:   "tx-2",
		TransactionDate: civil.Date{Year: 2024, Month: time.January, Day: 2},
		Amount:          big.NewRat(2500, 1),
		RawDescription:  "SALARY",
	}
	rec, err := row.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec.CategoryID != "" || rec.Merchant != "" || rec.Description != "SALARY" {
		t.Errorf("unexpected record %+v", rec)
	}

	row.Amount = nil
	if _, err := row.ToRecord(); err == nil {
		t.Error("expected error for missing amount")
	}
}

func TestBuildTransactionsQuery(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		scope      domain.Scope
		wantParams []string
		wantSQL    []string
	}{
		{
			name:       "organization only",
			scope:      domain.Scope{OrganizationID: "org-1"},
			wantParams: []string{"organization_id"},
			wantSQL:    []string{"`proj.finance.transactions` t", "LEFT JOIN `proj.finance.merchants` m"},
		},
		{
			name: "all filters",
			scope: domain.Scope{
				OrganizationID: "org-1",
				UserID:         "user-1",
				AccountID:      "acc-1",
				CategoryID:     "groceries",
				StartDate:      &start,
				EndDate:        &end,
			},
			wantParams: []string{"organization_id", "user_id", "account_id", "category_id", "start_date", "end_date"},
			wantSQL: []string{
				"t.user_id = @user_id",
				"t.account_id = @account_id",
				"t.category_id = @category_id",
				"t.transaction_date >= @start_date",
				"t.transaction_date <= @end_date",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := buildTransactionsQuery("proj", "finance", tt.scope)
			if len(params) != len(tt.wantParams) {
				t.Fatalf("got %d params, want %d", len(params), len(tt.wantParams))
			}
			for i, name := range tt.wantParams {
				if params[i].Name != name {
					t.Errorf("param %d = %s, want %s", i, params[i].Name, name)
				}
			}
			for _, fragment := range tt.wantSQL {
				if !strings.Contains(sql, fragment) {
					t.Errorf("query missing %q:\n%s", fragment, sql)
				}
			}
			if !strings.Contains(sql, "ORDER BY t.transaction_date") {
				t.Error("query must be ordered by date")
			}
		})
	}

	sql, params := buildTransactionsQuery("proj", "finance", tests[1].scope)
	if strings.Contains(sql, "@start_date") && params[4].Value != (civil.Date{Year: 2024, Month: time.January, Day: 1}) {
		t.Errorf("start_date param = %v", params[4].Value)
	}
}

func TestCategoryNames(t *testing.T) {
	rows := []CategoryRow{
		{CategoryID: "food", Name: "Food"},
		{CategoryID: "groceries", Name: "Groceries", ParentCategoryID: bigquery.NullString{StringVal: "food", Valid: true}},
		{CategoryID: "orphan", Name: "Orphan", ParentCategoryID: bigquery.NullString{StringVal: "missing", Valid: true}},
	}
	names := CategoryNames(rows)

	want := map[string]string{
		"food":      "Food",
		"groceries": "Food / Groceries",
		"orphan":    "Orphan",
	}
	for id, name := range want {
		if names[id] != name {
			t.Errorf("names[%s] = %q, want %q", id, names[id], name)
		}
	}
}
