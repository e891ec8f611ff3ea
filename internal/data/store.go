package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// UserDirectory resolves user profiles. It is how the conversation stores
// validate peers and project display names.
type UserDirectory interface {
	FindProfile(ctx context.Context, id string) (*Profile, error)
	FindProfiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Profile, error)
}

// UserStore is the credential side of the user directory.
type UserStore interface {
	UserDirectory
	CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// ConversationStore is the durable conversation log.
type ConversationStore interface {
	// GetOrCreate returns the id of the one conversation between the two users,
	// creating it if needed. Safe under concurrent calls for the same pair.
	GetOrCreate(ctx context.Context, userID, peerID string) (string, error)
	// Between returns the id of the conversation between the two users
	// without creating it; ErrNotFound when they have none.
	Between(ctx context.Context, userID, peerID string) (string, error)
	// GetConversation returns the history of a conversation as seen by requesterID.
	GetConversation(ctx context.Context, conversationID, requesterID string, page Page) (*ConversationView, error)
	// Participants returns the two participant ids of a conversation.
	Participants(ctx context.Context, conversationID string) ([]string, error)
	// AppendMessage appends an unviewed entry; the sender must be a participant.
	AppendMessage(ctx context.Context, in AppendInput) (*ChatEntry, error)
	// MarkSeen flips viewed on every entry sent by peerID. Idempotent.
	MarkSeen(ctx context.Context, conversationID, peerID string) error
	// ListInbox returns one summary per non-empty conversation of userID,
	// most recently appended first.
	ListInbox(ctx context.Context, userID string) ([]*InboxSummary, error)
}

// CheckPeer verifies that me and peer are the two participants of a
// conversation, in that role: me is a participant and peer is the other one.
func CheckPeer(participants []string, me, peer string) error {
	var isMember bool
	var other string
	for _, p := range participants {
		if p == me {
			isMember = true
		} else {
			other = p
		}
	}
	if !isMember || other == "" || other != peer {
		return ErrNotParticipant
	}
	return nil
}

// entryTime normalizes a client supplied timestamp to what MongoDB can store.
func entryTime(ts time.Time, now time.Time) time.Time {
	if ts.IsZero() {
		ts = now
	}
	return ts.UTC().Truncate(time.Millisecond)
}

// paginate cuts the requested window out of an insertion-ordered history.
func paginate(chats []ChatEntry, page Page) ([]ChatEntry, bool, error) {
	end := len(chats)
	if page.Before != "" {
		before, err := ParseID(page.Before)
		if err != nil {
			return nil, false, err
		}
		end = -1
		for i := range chats {
			if chats[i].ID == before {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, false, fmt.Errorf("chat entry %s: %w", before.Hex(), ErrNotFound)
		}
	}

	start := 0
	if page.Limit > 0 && end-page.Limit > 0 {
		start = end - page.Limit
	}
	return chats[start:end], start > 0, nil
}

// buildView projects a loaded conversation for one of its participants.
func buildView(ctx context.Context, users UserDirectory, conv *Conversation, requester bson.ObjectID, page Page) (*ConversationView, error) {
	if !conv.HasParticipant(requester) {
		return nil, ErrNotParticipant
	}
	peer, ok := conv.Peer(requester)
	if !ok {
		return nil, fmt.Errorf("conversation %s has no peer: %w", conv.ID.Hex(), ErrNotFound)
	}

	chats, hasMore, err := paginate(conv.Chats, page)
	if err != nil {
		return nil, err
	}

	profiles, err := users.FindProfiles(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}
	profileOf := func(id bson.ObjectID) Profile {
		if p, ok := profiles[id]; ok {
			return p
		}
		return Profile{ID: id.Hex()}
	}

	view := &ConversationView{
		ID:          conv.ID.Hex(),
		Chats:       make([]Chat, 0, len(chats)),
		PeerProfile: profileOf(peer),
		HasMore:     hasMore,
	}
	for _, c := range chats {
		view.Chats = append(view.Chats, c.View(profileOf(c.SentBy)))
	}
	return view, nil
}
