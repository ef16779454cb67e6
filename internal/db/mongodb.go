package db

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/bank-transfers/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores the ledger event journal
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// creates a new MongoDB instance
func NewMongoDB(uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection("ledger_events")

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_ids", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "type", Value: 1}},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoDB{
		client:     client,
		collection: collection,
	}, nil
}

// closes the mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// CreateEntry stores a journal entry. An entry whose id is already stored is ignored,
// so redelivered events are recorded once.
func (m *MongoDB) CreateEntry(ctx context.Context, entry *models.JournalEntry) error {
	if _, err := m.collection.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// retrieves journal entries touching an account, newest first
func (m *MongoDB) GetEntriesByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*models.JournalEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := m.collection.Find(ctx, bson.M{"account_ids": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find journal entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []*models.JournalEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode journal entries: %w", err)
	}
	return entries, nil
}
