// Package data provides the MongoDB models and stores behind the
// conversation subsystem, plus in-memory equivalents for dev mode and tests.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is the "users" collection
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with an already hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		Name:      normalize.Name(name),
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// The unique email index rejects a second sign-up with the same address.
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	// MongoDB generates the _id; it becomes the JWT subject.
	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// FindProfile resolves the public profile of a user by wire id.
func (u *UsersStore) FindProfile(ctx context.Context, id string) (*Profile, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	user, err := u.GetUserByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

// FindProfiles resolves several profiles in one query. Unknown ids are absent
// from the result rather than an error.
func (u *UsersStore) FindProfiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Profile, error) {
	out := make(map[bson.ObjectID]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.D{{Key: "name", Value: 1}, {Key: "avatar", Value: 1}})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = users[i].Profile()
	}
	return out, nil
}
