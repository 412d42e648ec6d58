package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

// TransactionRepository fetches transactions for an analysis scope.
type TransactionRepository interface {
	// FetchTransactions returns the transactions of scope ordered by date.
	FetchTransactions(ctx context.Context, scope domain.Scope) ([]domain.TransactionRecord, error)
}

// CategoryRepository provides category display names.
type CategoryRepository interface {
	// ListActiveCategories retrieves all active categories from the database.
	ListActiveCategories(ctx context.Context) ([]CategoryRow, error)
}

// Repository is the BigQuery implementation of the repositories above. It
// holds a shared client to avoid creating a new connection per operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a repository over projectID.datasetID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}, nil
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ModelStore returns a model store sharing the repository client.
func (r *Repository) ModelStore() *ModelStore {
	return NewModelStore(r.client, r.projectID, r.datasetID)
}

// FetchTransactions delegates to FetchTransactionsWithClient with the shared client.
func (r *Repository) FetchTransactions(ctx context.Context, scope domain.Scope) ([]domain.TransactionRecord, error) {
	return FetchTransactionsWithClient(ctx, r.client, r.projectID, r.datasetID, scope)
}

// ListActiveCategories delegates to ListActiveCategoriesWithClient with the shared client.
func (r *Repository) ListActiveCategories(ctx context.Context) ([]CategoryRow, error) {
	return ListActiveCategoriesWithClient(ctx, r.client, r.projectID, r.datasetID)
}

// tableRef returns the fully qualified, backquoted table name.
func tableRef(projectID, datasetID, table string) string {
	return "`" + projectID + "." + datasetID + "." + table + "`"
}
