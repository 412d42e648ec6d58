package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

const (
	transactionsTable = "transactions"
	merchantsTable    = "merchants"
)

// FetchTransactionsWithClient returns the settled transactions of scope using
// the provided BigQuery client, ordered by date.
func FetchTransactionsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, scope domain.Scope) ([]domain.TransactionRecord, error) {
	if scope.OrganizationID == "" {
		return nil, fmt.Errorf("FetchTransactions: organization id is required")
	}
	sql, params := buildTransactionsQuery(projectID, datasetID, scope)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchTransactions: query read: %w", err)
	}

	var records []domain.TransactionRecord
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FetchTransactions: iter next: %w", err)
		}
		rec, err := r.ToRecord()
		if err != nil {
			return nil, fmt.Errorf("FetchTransactions: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// buildTransactionsQuery renders the scoped query and its parameters. Only
// the filters set on scope are added.
func buildTransactionsQuery(projectID, datasetID string, scope domain.Scope) (string, []bigquery.QueryParameter) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			t.transaction_id,
			t.organization_id,
			t.user_id,
			t.account_id,
			t.transaction_date,
			t.amount,
			t.currency,
			t.raw_description,
			t.normalized_description,
			t.category_id,
			COALESCE(m.display_name, m.canonical_name) AS merchant_name
		FROM ` + tableRef(projectID, datasetID, transactionsTable) + ` t
		LEFT JOIN ` + tableRef(projectID, datasetID, merchantsTable) + ` m
		  ON t.merchant_id = m.merchant_id
		WHERE t.organization_id = @organization_id
		  AND COALESCE(t.is_pending, FALSE) = FALSE`)

	params := []bigquery.QueryParameter{
		{Name: "organization_id", Value: scope.OrganizationID},
	}
	add := func(clause, name string, value interface{}) {
		b.WriteString("\n\t\t  AND " + clause)
		params = append(params, bigquery.QueryParameter{Name: name, Value: value})
	}
	if scope.UserID != "" {
		add("t.user_id = @user_id", "user_id", scope.UserID)
	}
	if scope.AccountID != "" {
		add("t.account_id = @account_id", "account_id", scope.AccountID)
	}
	if scope.CategoryID != "" {
		add("t.category_id = @category_id", "category_id", scope.CategoryID)
	}
	if scope.StartDate != nil {
		add("t.transaction_date >= @start_date", "start_date", civil.DateOf(*scope.StartDate))
	}
	if scope.EndDate != nil {
		add("t.transaction_date <= @end_date", "end_date", civil.DateOf(*scope.EndDate))
	}
	b.WriteString("\n\t\tORDER BY t.transaction_date, t.transaction_id\n")

	return b.String(), params
}
