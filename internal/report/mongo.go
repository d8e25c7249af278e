package report

import (
	"context"
	"fmt"
	"time"

	"github.com/andrej220/guestcheck/internal/checks"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
}

type replacer interface {
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoSink upserts one document per run and target.
type MongoSink struct {
	coll   replacer
	client *mongo.Client
}

func NewMongoSink(ctx context.Context, cfg MongoConfig) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoSink{
		coll:   client.Database(cfg.DBName).Collection(cfg.CollName),
		client: client,
	}, nil
}

// DocumentID is the _id a report is stored under.
func DocumentID(r checks.Report) string {
	return r.RunID.String() + "/" + r.Target
}

func (s *MongoSink) Publish(ctx context.Context, r checks.Report) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": DocumentID(r)},
		r,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
