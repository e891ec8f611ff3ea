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

// ConversationsStore is the MongoDB ConversationStore. Every conversation is a
// single document with its chats embedded, so each mutation is one atomic
// single-document update.
type ConversationsStore struct {
	coll  *mongo.Collection
	users UserDirectory
	now   func() time.Time
}

var _ ConversationStore = (*ConversationsStore)(nil)

// NewConversationsStore returns a store over the conversations collection.
// users resolves peers and display profiles.
func NewConversationsStore(coll *mongo.Collection, users UserDirectory) *ConversationsStore {
	return &ConversationsStore{coll: coll, users: users, now: time.Now}
}

type idOnly struct {
	ID bson.ObjectID `bson:"_id"`
}

// GetOrCreate upserts on the canonical pair key with $setOnInsert, so an
// existing conversation is returned untouched and a missing one is created
// exactly once.
func (s *ConversationsStore) GetOrCreate(ctx context.Context, userID, peerID string) (string, error) {
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
	if _, err := s.users.FindProfile(ctx, peer.Hex()); err != nil {
		return "", err
	}

	key := PairKey(me.Hex(), peer.Hex())
	now := s.now().UTC()
	filter := bson.D{{Key: "participantsId", Value: key}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "participantsId", Value: key},
		{Key: "participants", Value: bson.A{me, peer}},
		{Key: "chats", Value: bson.A{}},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
	}}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "_id", Value: 1}})

	var doc idOnly
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced and the unique index rejected ours; the winner's
		// document is now visible.
		err = s.coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	}
	if err != nil {
		return "", fmt.Errorf("get or create conversation: %w", err)
	}
	return doc.ID.Hex(), nil
}

// Between finds the pair's conversation by its key.
func (s *ConversationsStore) Between(ctx context.Context, userID, peerID string) (string, error) {
	key, err := pairOf(userID, peerID)
	if err != nil {
		return "", err
	}
	var doc idOnly
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})
	if err := s.coll.FindOne(ctx, bson.D{{Key: "participantsId", Value: key}}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("conversation %s: %w", key, ErrNotFound)
		}
		return "", err
	}
	return doc.ID.Hex(), nil
}

// load reads a conversation. A positive tail keeps only the last tail chat
// entries, sliced server-side.
func (s *ConversationsStore) load(ctx context.Context, id bson.ObjectID, tail int) (*Conversation, error) {
	opts := options.FindOne()
	if tail > 0 {
		opts.SetProjection(bson.D{{Key: "chats", Value: bson.D{{Key: "$slice", Value: -tail}}}})
	}
	var conv Conversation
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}, opts).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", id.Hex(), ErrNotFound)
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversation loads the conversation and projects it for requesterID.
func (s *ConversationsStore) GetConversation(ctx context.Context, conversationID, requesterID string, page Page) (*ConversationView, error) {
	cid, err := ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	requester, err := ParseID(requesterID)
	if err != nil {
		return nil, err
	}
	// Without a cursor only the newest Limit entries are needed; one extra
	// entry tells whether older history exists.
	tail := 0
	if page.Before == "" && page.Limit > 0 {
		tail = page.Limit + 1
	}
	conv, err := s.load(ctx, cid, tail)
	if err != nil {
		return nil, err
	}
	return buildView(ctx, s.users, conv, requester, page)
}

// Participants returns the participant ids without loading the chat log.
func (s *ConversationsStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	cid, err := ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Participants []bson.ObjectID `bson:"participants"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "participants", Value: 1}})
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: cid}}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", cid.Hex(), ErrNotFound)
		}
		return nil, err
	}
	out := make([]string, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		out = append(out, p.Hex())
	}
	return out, nil
}

// AppendMessage pushes a new entry. The membership check is part of the update
// filter, so a non-participant can never append even under concurrent writes.
func (s *ConversationsStore) AppendMessage(ctx context.Context, in AppendInput) (*ChatEntry, error) {
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

	now := s.now()
	entry := &ChatEntry{
		ID:        bson.NewObjectID(),
		SentBy:    sender,
		Content:   content,
		Timestamp: entryTime(in.Timestamp, now),
		Viewed:    false,
	}

	filter := bson.D{
		{Key: "_id", Value: cid},
		{Key: "participants", Value: sender},
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "chats", Value: entry}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now.UTC()}}},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, s.classifyMiss(ctx, cid)
	}
	return entry, nil
}

// classifyMiss explains why a participant-filtered update matched nothing.
func (s *ConversationsStore) classifyMiss(ctx context.Context, cid bson.ObjectID) error {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: cid}})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", cid.Hex(), ErrNotFound)
	}
	return ErrNotParticipant
}

// MarkSeen sets viewed on the peer's unviewed entries through an array filter.
// Already-viewed entries are not matched, which makes the update idempotent.
func (s *ConversationsStore) MarkSeen(ctx context.Context, conversationID, peerID string) error {
	cid, err := ParseID(conversationID)
	if err != nil {
		return err
	}
	peer, err := ParseID(peerID)
	if err != nil {
		return err
	}

	update := bson.D{{Key: "$set", Value: bson.D{{Key: "chats.$[c].viewed", Value: true}}}}
	opts := options.UpdateOne().SetArrayFilters([]any{
		bson.D{{Key: "c.sentBy", Value: peer}, {Key: "c.viewed", Value: false}},
	})
	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: cid}}, update, opts)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", cid.Hex(), ErrNotFound)
	}
	return nil
}

type inboxRow struct {
	ID       bson.ObjectID `bson:"_id"`
	LastChat ChatEntry     `bson:"lastChat"`
	Unread   int           `bson:"unreadChatCounts"`
	PeerID   bson.ObjectID `bson:"peerId"`
	Peer     *User         `bson:"peer,omitempty"`
}

// ListInbox runs the inbox aggregation. Stage order matters: the $unwind of
// the one-element lastChat slice is what drops conversations without chats.
func (s *ConversationsStore) ListInbox(ctx context.Context, userID string) ([]*InboxSummary, error) {
	me, err := ParseID(userID)
	if err != nil {
		return nil, err
	}

	chats := bson.D{{Key: "$ifNull", Value: bson.A{"$chats", bson.A{}}}}
	pipeline := mongo.Pipeline{
		// Stage 1: conversations I take part in.
		bson.D{{Key: "$match", Value: bson.D{{Key: "participants", Value: me}}}},

		// Stage 2: last chat, unread count from the peer, and the peer id.
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "lastChat", Value: bson.D{{Key: "$slice", Value: bson.A{chats, -1}}}},
			{Key: "unreadChatCounts", Value: bson.D{{Key: "$size", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: chats},
				{Key: "as", Value: "c"},
				{Key: "cond", Value: bson.D{{Key: "$and", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$$c.viewed", false}}},
					bson.D{{Key: "$ne", Value: bson.A{"$$c.sentBy", me}}},
				}}}},
			}}}}}},
			{Key: "peerId", Value: bson.D{{Key: "$first", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$participants"},
				{Key: "as", Value: "p"},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$p", me}}}},
			}}}}}},
		}}},

		// Stage 3: an empty slice unwinds to nothing.
		bson.D{{Key: "$unwind", Value: "$lastChat"}},

		// Stage 4: peer profile.
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "peerId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "peer"},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$project", Value: bson.D{{Key: "name", Value: 1}, {Key: "avatar", Value: 1}}}},
			}},
		}}},
		bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$peer"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},

		// Stage 5: most recently appended first. Entry ids are server
		// generated, so this is insertion recency, not client clock order.
		bson.D{{Key: "$sort", Value: bson.D{{Key: "lastChat._id", Value: -1}}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("inbox aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []inboxRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("inbox decode: %w", err)
	}

	out := make([]*InboxSummary, 0, len(rows))
	for _, r := range rows {
		peer := Profile{ID: r.PeerID.Hex()}
		if r.Peer != nil {
			peer = r.Peer.Profile()
		}
		out = append(out, &InboxSummary{
			ID:               r.ID.Hex(),
			LastMessage:      r.LastChat.Content,
			Timestamp:        r.LastChat.Timestamp,
			UnreadChatCounts: r.Unread,
			PeerProfile:      peer,
		})
	}
	return out, nil
}
