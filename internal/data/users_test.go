package data

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/db"
)

func setupDB(t *testing.T) *db.Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "recircle_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.UsersCollection().Drop(ctx)
	_ = c.ConversationsCollection().Drop(ctx)

	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c
}

func TestUsersCreateAndGet(t *testing.T) {
	c := setupDB(t)
	users := NewUsersStore(c.UsersCollection())

	ctx := context.Background()
	email := time.Now().UTC().Format("20060102-150405") + "-integration@example.com"

	user, err := users.CreateUser(ctx, "  Integration   User ", email, "hashed-password")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Email != email || user.Name != "Integration User" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := users.CreateUser(ctx, "Again", email, "hashed-password"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists got %v", err)
	}

	u2, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if u2.ID != user.ID {
		t.Fatalf("GetUserByEmail returned wrong user: %s", u2.ID.Hex())
	}

	p, err := users.FindProfile(ctx, user.ID.Hex())
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if p.Name != "Integration User" {
		t.Fatalf("FindProfile returned wrong name: %s", p.Name)
	}

	if _, err := users.GetUserByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}
