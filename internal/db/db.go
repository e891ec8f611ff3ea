// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "recircle"

// Collection names.
const (
	UsersCollectionName         = "users"
	ConversationsCollectionName = "conversations"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is the application database; collections are accessed through it
	db *mongo.Database
}

// New connects to MongoDB and returns a Client bound to the named database.
// An empty name selects DefaultDatabase.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	if database == "" {
		database = DefaultDatabase
	}

	// Fail fast if MongoDB is unreachable.
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// mongo.Connect is lazy; the ping is the actual connection test.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection(UsersCollectionName)
}

// ConversationsCollection returns the conversations collection. Chat entries
// are embedded in their conversation document, so there is no separate
// messages collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection(ConversationsCollectionName)
}

// Ping verifies the primary is reachable. Backs /readyz.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on for correctness.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS =====
	// Unique email: duplicate sign-ups fail with a duplicate key error.
	usersIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndex); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	// ===== CONVERSATIONS =====
	conversationIndexes := []mongo.IndexModel{
		{
			// The canonical pair key. This unique index is what makes
			// get-or-create converge on a single document under races.
			Keys:    bson.D{{Key: "participantsId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Inbox aggregation starts with a $match on participants.
			Keys: bson.D{{Key: "participants", Value: 1}},
		},
	}
	if _, err := c.ConversationsCollection().Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	return nil
}
