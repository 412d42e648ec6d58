package modelstore

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-analytics/internal/config"
	"github.com/dvloznov/finance-analytics/internal/infra/bigquery"
	"github.com/dvloznov/finance-analytics/internal/logger"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

// Open builds the model store selected by cfg.Backend. repo supplies the
// BigQuery client for the bigquery backend and may be nil otherwise. The
// returned close function releases the store's client.
func Open(ctx context.Context, cfg config.ModelStoreConfig, repo *bigquery.Repository) (modelcache.Store, func() error, error) {
	noop := func() error { return nil }
	log := logger.FromContext(ctx)

	switch cfg.Backend {
	case config.StoreMemory, "":
		log.Info().Msg("Using in-memory model store")
		return NewMemory(), noop, nil
	case config.StoreGCS:
		store, err := NewGCS(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("Open: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("Using GCS model store")
		return store, store.Close, nil
	case config.StoreBigQuery:
		if repo == nil {
			return nil, nil, fmt.Errorf("Open: bigquery model store needs a repository")
		}
		log.Info().Msg("Using BigQuery model store")
		return repo.ModelStore(), noop, nil
	case config.StoreMongo:
		client, err := ConnectToMongoDB(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("Open: %w", err)
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("Using MongoDB model store")
		closeFn := func() error {
			return client.Disconnect(context.Background())
		}
		return NewMongo(NewMongoProvider(client, cfg.MongoDatabase)), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("Open: unknown model store backend %q", cfg.Backend)
	}
}
