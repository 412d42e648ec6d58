package modelstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dvloznov/finance-analytics/internal/logger"
	"github.com/dvloznov/finance-analytics/internal/modelcache"
)

// ModelsCollection holds one document per model key.
const ModelsCollection = "trained_models"

// Decoder is the result of a single-document lookup.
type Decoder interface {
	Decode(v interface{}) error
}

// DataStore is the subset of collection operations the Mongo store needs.
type DataStore interface {
	FindOne(ctx context.Context, filter interface{}) Decoder
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// MongoCollection adapts *mongo.Collection to DataStore.
type MongoCollection struct {
	*mongo.Collection
}

// FindOne returns the first document matching filter.
func (c *MongoCollection) FindOne(ctx context.Context, filter interface{}) Decoder {
	return c.Collection.FindOne(ctx, filter)
}

// CollectionProvider returns a DataStore for a collection name.
type CollectionProvider interface {
	Collection(name string) DataStore
}

// MongoProvider adapts a database of *mongo.Client to CollectionProvider.
type MongoProvider struct {
	client   *mongo.Client
	database string
}

// NewMongoProvider creates a provider for database.
func NewMongoProvider(client *mongo.Client, database string) *MongoProvider {
	return &MongoProvider{client: client, database: database}
}

// Collection returns the named collection.
func (p *MongoProvider) Collection(name string) DataStore {
	return &MongoCollection{p.client.Database(p.database).Collection(name)}
}

// ConnectToMongoDB connects and pings the server at uri.
func ConnectToMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	log := logger.FromContext(ctx)
	log.Debug().Msg("Connecting to MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ConnectToMongoDB: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ConnectToMongoDB: ping: %w", err)
	}

	log.Info().Msg("Connected to MongoDB")
	return client, nil
}

// modelDocument is the stored form of one model.
type modelDocument struct {
	ID           string    `bson:"_id"`
	Organization string    `bson:"organization_id"`
	ModelType    string    `bson:"model_type"`
	Signature    string    `bson:"signature"`
	Data         []byte    `bson:"data"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// Mongo stores models as documents keyed by Key.String().
type Mongo struct {
	provider CollectionProvider
}

// NewMongo creates a Mongo store.
func NewMongo(provider CollectionProvider) *Mongo {
	return &Mongo{provider: provider}
}

// Load fetches the document for key.
func (m *Mongo) Load(ctx context.Context, key modelcache.Key) ([]byte, error) {
	var doc modelDocument
	err := m.provider.Collection(ModelsCollection).FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, modelcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: finding model %s: %w", key, err)
	}
	return doc.Data, nil
}

// Save upserts the document for key.
func (m *Mongo) Save(ctx context.Context, key modelcache.Key, data []byte) error {
	update := bson.M{"$set": bson.M{
		"organization_id": key.Organization,
		"model_type":      key.ModelType,
		"signature":       key.Signature,
		"data":            data,
		"updated_at":      time.Now().UTC(),
	}}
	_, err := m.provider.Collection(ModelsCollection).UpdateOne(ctx,
		bson.M{"_id": key.String()},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("Save: upserting model %s: %w", key, err)
	}
	return nil
}
