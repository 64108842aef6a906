// internal/sink/mongo.go
package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harbourline/ingest/pkg/types"
)

// MongoConfig configures the document sink.
type MongoConfig struct {
	URI               string `yaml:"uri"`
	Database          string `yaml:"database"`
	RecordsCollection string `yaml:"records_collection,omitempty"`
	RunsCollection    string `yaml:"runs_collection,omitempty"`
}

// MongoSink persists batches with bulk replace-upserts keyed on
// (source, external_id).
type MongoSink struct {
	client  *mongo.Client
	records *mongo.Collection
	runs    *mongo.Collection
}

// NewMongoSink connects and verifies connectivity.
func NewMongoSink(ctx context.Context, config MongoConfig) (*MongoSink, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongodb database name is required")
	}
	if config.RecordsCollection == "" {
		config.RecordsCollection = "scraped_records"
	}
	if config.RunsCollection == "" {
		config.RunsCollection = "job_runs"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	return &MongoSink{
		client:  client,
		records: db.Collection(config.RecordsCollection),
		runs:    db.Collection(config.RunsCollection),
	}, nil
}

// UpsertBatch submits one BulkWrite of replace-upserts.
func (s *MongoSink) UpsertBatch(ctx context.Context, records []types.ScrapedRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(records))
	for _, record := range records {
		filter := bson.M{"source": record.Source, "external_id": record.ExternalID}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(filter).
			SetReplacement(record).
			SetUpsert(true))
	}
	// Ordered=false: one bad document must not abort the rest of the batch.
	opts := options.BulkWrite().SetOrdered(false)
	if _, err := s.records.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("bulk upsert of %d records failed: %w", len(records), err)
	}
	return nil
}

// LogJobRun inserts one audit document.
func (s *MongoSink) LogJobRun(ctx context.Context, run types.JobRun) error {
	if _, err := s.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("job run insert failed: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
