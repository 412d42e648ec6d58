package bigquery

import "cloud.google.com/go/bigquery"

type CategoryRow struct {
	CategoryID       string              `bigquery:"category_id"`        // REQUIRED
	ParentCategoryID bigquery.NullString `bigquery:"parent_category_id"` // NULLABLE

	Depth int64 `bigquery:"depth"` // REQUIRED

	Slug string `bigquery:"slug"` // REQUIRED
	Name string `bigquery:"name"` // REQUIRED

	IsActive bigquery.NullBool `bigquery:"is_active"` // NULLABLE
}

// CategoryNames maps category ids to display names. Child categories are
// rendered as "Parent / Child".
func CategoryNames(rows []CategoryRow) map[string]string {
	byID := make(map[string]CategoryRow, len(rows))
	for _, r := range rows {
		byID[r.CategoryID] = r
	}
	names := make(map[string]string, len(rows))
	for _, r := range rows {
		name := r.Name
		if r.ParentCategoryID.Valid {
			if parent, ok := byID[r.ParentCategoryID.StringVal]; ok {
				name = parent.Name + " / " + r.Name
			}
		}
		names[r.CategoryID] = name
	}
	return names
}
