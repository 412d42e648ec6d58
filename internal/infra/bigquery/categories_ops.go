package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const categoriesTable = "categories"

// ListActiveCategoriesWithClient returns all active categories ordered by
// depth and name using the provided BigQuery client.
func ListActiveCategoriesWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) ([]CategoryRow, error) {
	q := client.Query(`
		SELECT
		  category_id,
		  parent_category_id,
		  depth,
		  slug,
		  name,
		  is_active
		FROM ` + tableRef(projectID, datasetID, categoriesTable) + `
		WHERE is_active = TRUE
		ORDER BY depth, name
	`)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveCategories: query read: %w", err)
	}

	var rows []CategoryRow
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveCategories: iter next: %w", err)
		}
		rows = append(rows, r)
	}

	return rows, nil
}
