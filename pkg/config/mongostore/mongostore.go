package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/guestcheck/pkg/config/configstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ configstore.ConfigStore = (*MongoStore)(nil)

var ErrNotFound = errors.New("config document not found")

const connectTimeout = 10 * time.Second

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoStore keeps one configuration document, identified by ID, in a
// MongoDB collection.
type MongoStore struct {
	Client     *mongo.Client
	Collection collection
	ID         string
}

func New(ctx context.Context, uri, dbName, collName, id string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		Client:     client,
		Collection: client.Database(dbName).Collection(collName),
		ID:         id,
	}, nil
}

func (m *MongoStore) Load(ctx context.Context, out any) error {
	res := m.Collection.FindOne(ctx, bson.M{"_id": m.ID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: %q", ErrNotFound, m.ID)
		}
		return fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

func (m *MongoStore) Save(ctx context.Context, in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	_, err := m.Collection.ReplaceOne(ctx,
		bson.M{"_id": m.ID},
		in,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("Save: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func (m *MongoStore) Watch(context.Context, func()) error {
	return fmt.Errorf("watch not implemented for MongoDB store")
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}
