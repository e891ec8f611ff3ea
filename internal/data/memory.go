package data

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryUsers is an in-process UserStore used when MongoDB is not configured.
type MemoryUsers struct {
	mu      sync.RWMutex
	byID    map[bson.ObjectID]*User
	byEmail map[string]bson.ObjectID
}

var _ UserStore = (*MemoryUsers)(nil)

// NewMemoryUsers returns an empty in-memory user store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:    make(map[bson.ObjectID]*User),
		byEmail: make(map[string]bson.ObjectID),
	}
}

// CreateUser stores a user; the email must be unused.
func (m *MemoryUsers) CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = normalize.Email(email)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	u := &User{
		ID:        bson.NewObjectID(),
		Name:      normalize.Name(name),
		Email:     email,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.byID[u.ID] = u
	m.byEmail[email] = u.ID

	cp := *u
	return &cp, nil
}

// GetUserByEmail finds a user by email.
func (m *MemoryUsers) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[normalize.Email(email)]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	cp := *m.byID[id]
	return &cp, nil
}

// SetAvatar attaches an avatar to a user.
func (m *MemoryUsers) SetAvatar(id bson.ObjectID, avatar Avatar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.Avatar = &avatar
	}
}

// FindProfile resolves the profile of a user by wire id.
func (m *MemoryUsers) FindProfile(ctx context.Context, id string) (*Profile, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[oid]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	p := u.Profile()
	return &p, nil
}

// FindProfiles resolves the known profiles among ids.
func (m *MemoryUsers) FindProfiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[bson.ObjectID]Profile, len(ids))
	for _, id := range ids {
		if u, ok := m.byID[id]; ok {
			out[id] = u.Profile()
		}
	}
	return out, nil
}

// MemoryConversations is an in-process ConversationStore with the same
// semantics as ConversationsStore. A single mutex plays the part of MongoDB's
// per-document atomicity.
type MemoryConversations struct {
	users UserDirectory
	now   func() time.Time

	mu    sync.RWMutex
	byID  map[bson.ObjectID]*Conversation
	byKey map[string]bson.ObjectID
}

var _ ConversationStore = (*MemoryConversations)(nil)

// NewMemoryConversations returns an empty in-memory conversation store.
func NewMemoryConversations(users UserDirectory) *MemoryConversations {
	return &MemoryConversations{
		users: users,
		now:   time.Now,
		byID:  make(map[bson.ObjectID]*Conversation),
		byKey: make(map[string]bson.ObjectID),
	}
}

// GetOrCreate returns the pair's conversation, inserting it if absent.
func (m *MemoryConversations) GetOrCreate(ctx context.Context, userID, peerID string) (string, error) {
	me, err := ParseID(userID)
	if err != nil {
		return "", err
	}
	peer, err := ParseID(peerID)
	if err != nil {
		return "", err
	}
	if me == peer {
		return "", ErrSelfConversation
	}
	if _, err := m.users.FindProfile(ctx, peer.Hex()); err != nil {
		return "", err
	}

	key := PairKey(me.Hex(), peer.Hex())

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		return id.Hex(), nil
	}
	now := m.now().UTC()
	conv := &Conversation{
		ID:             bson.NewObjectID(),
		ParticipantsID: key,
		Participants:   []bson.ObjectID{me, peer},
		Chats:          []ChatEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.byID[conv.ID] = conv
	m.byKey[key] = conv.ID
	return conv.ID.Hex(), nil
}

// Between looks the pair up by its key.
func (m *MemoryConversations) Between(_ context.Context, userID, peerID string) (string, error) {
	key, err := pairOf(userID, peerID)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return "", fmt.Errorf("conversation %s: %w", key, ErrNotFound)
	}
	return id.Hex(), nil
}

// snapshot copies a conversation so callers never share the chat slice.
func (m *MemoryConversations) snapshot(id bson.ObjectID) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id.Hex(), ErrNotFound)
	}
	cp := *conv
	cp.Participants = append([]bson.ObjectID(nil), conv.Participants...)
	cp.Chats = append([]ChatEntry(nil), conv.Chats...)
	return &cp, nil
}

// GetConversation projects the conversation for requesterID.
func (m *MemoryConversations) GetConversation(ctx context.Context, conversationID, requesterID string, page Page) (*ConversationView, error) {
	cid, err := ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	requester, err := ParseID(requesterID)
	if err != nil {
		return nil, err
	}
	conv, err := m.snapshot(cid)
	if err != nil {
		return nil, err
	}
	return buildView(ctx, m.users, conv, requester, page)
}

// Participants returns the participant ids.
func (m *MemoryConversations) Participants(_ context.Context, conversationID string) ([]string, error) {
	cid, err := ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	conv, err := m.snapshot(cid)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		out = append(out, p.Hex())
	}
	return out, nil
}

// AppendMessage appends an unviewed entry from a participant.
func (m *MemoryConversations) AppendMessage(ctx context.Context, in AppendInput) (*ChatEntry, error) {
	cid, err := ParseID(in.ConversationID)
	if err != nil {
		return nil, err
	}
	sender, err := ParseID(in.SenderID)
	if err != nil {
		return nil, err
	}
	content := normalize.Content(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.byID[cid]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", cid.Hex(), ErrNotFound)
	}
	if !conv.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}
	entry := ChatEntry{
		ID:        bson.NewObjectID(),
		SentBy:    sender,
		Content:   content,
		Timestamp: entryTime(in.Timestamp, now),
	}
	conv.Chats = append(conv.Chats, entry)
	conv.UpdatedAt = now.UTC()
	return &entry, nil
}

// MarkSeen flips viewed on every entry sent by peerID.
func (m *MemoryConversations) MarkSeen(ctx context.Context, conversationID, peerID string) error {
	cid, err := ParseID(conversationID)
	if err != nil {
		return err
	}
	peer, err := ParseID(peerID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.byID[cid]
	if !ok {
		return fmt.Errorf("conversation %s: %w", cid.Hex(), ErrNotFound)
	}
	for i := range conv.Chats {
		if conv.Chats[i].SentBy == peer {
			conv.Chats[i].Viewed = true
		}
	}
	return nil
}

// ListInbox mirrors the MongoDB aggregation: participant filter, last chat,
// unread count from the peer, drop empty conversations, newest append first.
func (m *MemoryConversations) ListInbox(ctx context.Context, userID string) ([]*InboxSummary, error) {
	me, err := ParseID(userID)
	if err != nil {
		return nil, err
	}

	type row struct {
		summary *InboxSummary
		lastID  bson.ObjectID
		peer    bson.ObjectID
	}

	var rows []row
	var peers []bson.ObjectID

	m.mu.RLock()
	for _, conv := range m.byID {
		if !conv.HasParticipant(me) || len(conv.Chats) == 0 {
			continue
		}
		peer, _ := conv.Peer(me)
		last := conv.Chats[len(conv.Chats)-1]
		unread := 0
		for _, c := range conv.Chats {
			if !c.Viewed && c.SentBy != me {
				unread++
			}
		}
		rows = append(rows, row{
			summary: &InboxSummary{
				ID:               conv.ID.Hex(),
				LastMessage:      last.Content,
				Timestamp:        last.Timestamp,
				UnreadChatCounts: unread,
			},
			lastID: last.ID,
			peer:   peer,
		})
		peers = append(peers, peer)
	}
	m.mu.RUnlock()

	profiles, err := m.users.FindProfiles(ctx, peers)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rows[i].lastID[:], rows[j].lastID[:]) > 0
	})

	out := make([]*InboxSummary, 0, len(rows))
	for _, r := range rows {
		if p, ok := profiles[r.peer]; ok {
			r.summary.PeerProfile = p
		} else {
			r.summary.PeerProfile = Profile{ID: r.peer.Hex()}
		}
		out = append(out, r.summary)
	}
	return out, nil
}
