package data

import (
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/recircle-chat/internal/normalize"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Sentinel errors shared by every store implementation. Transports classify
// them with errors.Is.
var (
	// ErrInvalidID reports a malformed identifier. It is returned before any
	// storage access takes place.
	ErrInvalidID = errors.New("invalid id")
	// ErrNotFound reports a missing user or conversation.
	ErrNotFound = errors.New("not found")
	// ErrNotParticipant reports an operation by a user outside the conversation.
	ErrNotParticipant = errors.New("not a participant of this conversation")
	// ErrEmptyContent reports a blank chat message.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrUserExists reports a sign-up with an email already in use.
	ErrUserExists = errors.New("user already exists")

	// ErrSelfConversation is an ErrInvalidID: a conversation needs two distinct users.
	ErrSelfConversation = fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidID)
)

// ParseID converts a wire identifier into an ObjectID.
func ParseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(normalize.ID(id))
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}
