package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Avatar is the uploaded profile picture of a user.
type Avatar struct {
	URL string `bson:"url" json:"url"`
	ID  string `bson:"id" json:"id"`
}

// User maps to the users collection.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Name      string        `bson:"name"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	Avatar    *Avatar       `bson:"avatar,omitempty"`
	Verified  bool          `bson:"verified"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

// Profile returns the public projection of the user.
func (u *User) Profile() Profile {
	p := Profile{ID: u.ID.Hex(), Name: u.Name}
	if u.Avatar != nil {
		p.Avatar = u.Avatar.URL
	}
	return p
}

// Profile is what other users get to see of a user.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ChatEntry is one message, embedded in its Conversation document.
type ChatEntry struct {
	ID        bson.ObjectID `bson:"_id"`
	SentBy    bson.ObjectID `bson:"sentBy"`
	Content   string        `bson:"content"`
	Timestamp time.Time     `bson:"timestamp"`
	Viewed    bool          `bson:"viewed"`
}

// View projects the entry for clients, with the sender's profile attached.
func (e ChatEntry) View(sender Profile) Chat {
	return Chat{
		ID:     e.ID.Hex(),
		Text:   e.Content,
		Time:   e.Timestamp,
		Viewed: e.Viewed,
		User:   sender,
	}
}

// Conversation maps to the conversations collection. Chats is append-only and
// its order is the send order.
type Conversation struct {
	ID             bson.ObjectID   `bson:"_id,omitempty"`
	ParticipantsID string          `bson:"participantsId"`
	Participants   []bson.ObjectID `bson:"participants"`
	Chats          []ChatEntry     `bson:"chats"`
	CreatedAt      time.Time       `bson:"createdAt"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Peer returns the participant that is not me.
func (c *Conversation) Peer(me bson.ObjectID) (bson.ObjectID, bool) {
	for _, p := range c.Participants {
		if p != me {
			return p, true
		}
	}
	return bson.ObjectID{}, false
}

// Chat is the client view of a ChatEntry.
type Chat struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Viewed bool      `json:"viewed"`
	User   Profile   `json:"user"`
}

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	ID          string  `json:"id"`
	Chats       []Chat  `json:"chats"`
	PeerProfile Profile `json:"peerProfile"`
	HasMore     bool    `json:"hasMore"`
}

// InboxSummary is one row of a user's inbox. It is computed on demand and
// never persisted.
type InboxSummary struct {
	ID               string    `json:"id"`
	LastMessage      string    `json:"lastMessage"`
	Timestamp        time.Time `json:"timestamp"`
	UnreadChatCounts int       `json:"unreadChatCounts"`
	PeerProfile      Profile   `json:"peerProfile"`
}

// Page selects a window of a conversation's history. Before is a chat entry
// id; the page holds the Limit entries immediately preceding it (or the last
// Limit entries when Before is empty). A zero Limit returns everything.
type Page struct {
	Limit  int
	Before string
}

// AppendInput describes a new chat entry. Timestamp is the client's send time
// and is kept for display only.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Timestamp      time.Time
}
