package bigquery

import "cloud.google.com/go/bigquery"

// ModelOutputRow is one persisted fitted model. Rows are append-only; the
// newest row for a model key wins.
type ModelOutputRow struct {
	OutputID       string `bigquery:"output_id"`       // REQUIRED
	ModelKey       string `bigquery:"model_key"`       // REQUIRED, organization/model_type/signature
	OrganizationID string `bigquery:"organization_id"` // REQUIRED

	ModelName    string              `bigquery:"model_name"`    // REQUIRED
	ModelVersion bigquery.NullString `bigquery:"model_version"` // NULLABLE
	Signature    string              `bigquery:"signature"`     // REQUIRED

	RawJSON bigquery.NullJSON `bigquery:"raw_json"` // REQUIRED (JSON)

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
}
