package db

import (
	"context"
	"os"
	"testing"
)

// These tests are integration tests and require a running MongoDB instance.
// Set MONGODB_URI in the environment before running them.

func TestNewAndCreateIndexes(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, uri, "recircle_test_db")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = c.UsersCollection().Drop(context.Background())
		_ = c.ConversationsCollection().Drop(context.Background())
		_ = c.Close(context.Background())
	}()

	// Index creation is idempotent; running it twice must not fail.
	for i := 0; i < 2; i++ {
		if err := c.CreateIndexes(ctx); err != nil {
			t.Fatalf("CreateIndexes (run %d) failed: %v", i+1, err)
		}
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
