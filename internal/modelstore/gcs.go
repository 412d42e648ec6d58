package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

const gcsWriteTimeout = 2 * time.Minute

// GCS stores each model as a JSON object under
// <prefix>/<organization>/<model_type>/<signature>.json.
// It assumes Application Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a storage client for bucket.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: creating storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Load downloads the model object for key.
func (g *GCS) Load(ctx context.Context, key modelcache.Key) ([]byte, error) {
	name := ObjectName(g.prefix, key)
	rc, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, modelcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: reading object %s/%s: %w", g.bucket, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Load: reading bytes: %w", err)
	}
	return data, nil
}

// Save uploads data as the model object for key, replacing any previous one.
func (g *GCS) Save(ctx context.Context, key modelcache.Key, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	name := ObjectName(g.prefix, key)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"organization_id": key.Organization,
		"model_type":      key.ModelType,
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Save: writing object %s/%s: %w", g.bucket, name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Save: finalize upload: %w", err)
	}
	return nil
}

// ObjectName returns the object path for key.
func ObjectName(prefix string, key modelcache.Key) string {
	return path.Join(prefix, key.Organization, key.ModelType, key.Signature+".json")
}
