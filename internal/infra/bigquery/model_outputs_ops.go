package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

const (
	modelOutputsTable = "analytics_model_outputs"
	modelVersion      = "v1"
)

// ModelStore persists fitted models in the analytics_model_outputs table. It implements
// modelcache.Store.
type ModelStore struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewModelStore creates a model store using the provided client.
func NewModelStore(client *bigquery.Client, projectID, datasetID string) *ModelStore {
	return &ModelStore{client: client, projectID: projectID, datasetID: datasetID}
}

// Load returns the newest model JSON stored for key.
func (s *ModelStore) Load(ctx context.Context, key modelcache.Key) ([]byte, error) {
	q := s.client.Query(`
		SELECT TO_JSON_STRING(raw_json) AS raw_json
		FROM ` + tableRef(s.projectID, s.datasetID, modelOutputsTable) + `
		WHERE model_key = @model_key
		ORDER BY created_ts DESC
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "model_key", Value: key.String()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadModelOutput: query read: %w", err)
	}

	var row struct {
		RawJSON string `bigquery:"raw_json"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, modelcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LoadModelOutput: iter next: %w", err)
	}
	return []byte(row.RawJSON), nil
}

// Save appends a model output row for key.
func (s *ModelStore) Save(ctx context.Context, key modelcache.Key, data []byte) error {
	row := &ModelOutputRow{
		OutputID:       uuid.New().String(),
		ModelKey:       key.String(),
		OrganizationID: key.Organization,
		ModelName:      key.ModelType,
		ModelVersion:   bigquery.NullString{StringVal: modelVersion, Valid: true},
		Signature:      key.Signature,
		RawJSON:        bigquery.NullJSON{JSONVal: string(data), Valid: true},
		CreatedTS:      bigquery.NullTimestamp{Timestamp: time.Now().UTC(), Valid: true},
	}
	return InsertModelOutputWithClient(ctx, s.client, s.projectID, s.datasetID, row)
}

// InsertModelOutputWithClient inserts a single ModelOutputRow using the
// provided BigQuery client. Uses DML INSERT to avoid streaming buffer issues.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, row *ModelOutputRow) error {
	q := client.Query(`
		INSERT INTO ` + tableRef(projectID, datasetID, modelOutputsTable) + ` (
			output_id, model_key, organization_id,
			model_name, model_version, signature,
			raw_json, created_ts
		)
		VALUES (
			@output_id, @model_key, @organization_id,
			@model_name, @model_version, @signature,
			PARSE_JSON(@raw_json), @created_ts
		)
	`)

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "model_key", Value: row.ModelKey},
		{Name: "organization_id", Value: row.OrganizationID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "model_version", Value: row.ModelVersion},
		{Name: "signature", Value: row.Signature},
		{Name: "raw_json", Value: row.RawJSON.JSONVal},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("InsertModelOutput: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("InsertModelOutput: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("InsertModelOutput: job error: %w", err)
	}

	return nil
}
