package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "blockhyre/internal/domain/chat"
)

// ChatStore persists conversations and messages in MongoDB. The pair_key
// unique index enforces the one-conversation-per-pair invariant at the store
// level, so concurrent first contacts collapse onto one document.
type ChatStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *slog.Logger
}

func NewChatStore(db *mongo.Database, logger *slog.Logger) *ChatStore {
	return &ChatStore{
		conversations: db.Collection("chat_conversations"),
		messages:      db.Collection("chat_messages"),
		logger:        logger,
	}
}

// EnsureIndexes creates the indexes the store depends on.
func (s *ChatStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "read", Value: 1}}},
	})
	return err
}

type conversationDocument struct {
	ID            string              `bson:"_id"`
	OwnerID       string              `bson:"owner_id"`
	RenterID      string              `bson:"renter_id"`
	ListingID     string              `bson:"listing_id,omitempty"`
	PairKey       string              `bson:"pair_key"`
	CreatedAt     time.Time           `bson:"created_at"`
	LastMessageAt time.Time           `bson:"last_message_at"`
	Last          lastMessageDocument `bson:"last"`
}

type lastMessageDocument struct {
	ID          string    `bson:"id,omitempty"`
	SenderID    string    `bson:"sender_id,omitempty"`
	RecipientID string    `bson:"recipient_id,omitempty"`
	Preview     string    `bson:"preview,omitempty"`
	At          time.Time `bson:"at,omitempty"`
}

type messageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	RecipientID    string    `bson:"recipient_id,omitempty"`
	Body           string    `bson:"body"`
	Kind           string    `bson:"kind"`
	Read           bool      `bson:"read"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (s *ChatStore) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return doc.toConversation(), nil
}

func (s *ChatStore) ConversationByPair(ctx context.Context, pairKey string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"pair_key": pairKey}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return doc.toConversation(), nil
}

func (s *ChatStore) CreateConversation(ctx context.Context, conversation *domainchat.Conversation) error {
	doc := newConversationDocument(conversation)
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return err
	}
	return nil
}

func (s *ChatStore) ListConversationsByUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	filter := bson.M{"$or": []bson.M{{"owner_id": userID}, {"renter_id": userID}}}
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "created_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]domainchat.Conversation, 0)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *doc.toConversation())
	}
	return out, cursor.Err()
}

func (s *ChatStore) InsertMessage(ctx context.Context, message *domainchat.Message) error {
	doc := messageDocument{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		RecipientID:    message.RecipientID,
		Body:           message.Body,
		Kind:           string(message.Kind),
		Read:           message.Read,
		CreatedAt:      message.CreatedAt,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Retried send under the same client id.
			return nil
		}
		return err
	}
	// Tail update is best-effort; a stale preview heals on the next message.
	update := bson.M{"$set": bson.M{
		"last_message_at": message.CreatedAt,
		"last": lastMessageDocument{
			ID:          message.ID,
			SenderID:    message.SenderID,
			RecipientID: message.RecipientID,
			Preview:     domainchat.Snippet(message.Body, 500),
			At:          message.CreatedAt,
		},
	}}
	if _, err := s.conversations.UpdateOne(ctx, bson.M{"_id": message.ConversationID}, update); err != nil && s.logger != nil {
		s.logger.Warn("failed to update conversation tail", "error", err, "conversation_id", message.ConversationID)
	}
	return nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]domainchat.Message, error) {
	filter := visibleFilter(conversationID, userID)
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]domainchat.Message, 0, limit)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMessage())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	// Fetched newest-first for the limit; flip to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *ChatStore) LastVisibleMessage(ctx context.Context, conversationID, userID string) (*domainchat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc messageDocument
	if err := s.messages.FindOne(ctx, visibleFilter(conversationID, userID), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	message := doc.toMessage()
	return &message, nil
}

func (s *ChatStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) ([]domainchat.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"read":            false,
		"sender_id":       bson.M{"$ne": userID},
		"$or": []bson.M{
			{"recipient_id": bson.M{"$in": []any{"", nil}}},
			{"recipient_id": userID},
		},
	}
	cursor, err := s.messages.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	flipped := make([]domainchat.Message, 0)
	ids := make([]string, 0)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		doc.Read = true
		flipped = append(flipped, doc.toMessage())
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return flipped, nil
	}
	if _, err := s.messages.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": bson.M{"read": true}}); err != nil {
		return nil, err
	}
	return flipped, nil
}

func (s *ChatStore) CountUnread(ctx context.Context, userID string) (int, error) {
	ids, err := s.conversationIDsOf(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	count, err := s.messages.CountDocuments(ctx, unreadFilter(userID, ids))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *ChatStore) CountUnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: unreadFilter(userID, conversationIDs)}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "n": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int    `bson:"n"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cursor.Err()
}

func (s *ChatStore) conversationIDsOf(ctx context.Context, userID string) ([]string, error) {
	filter := bson.M{"$or": []bson.M{{"owner_id": userID}, {"renter_id": userID}}}
	raw, err := s.conversations.Distinct(ctx, "_id", filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func visibleFilter(conversationID, userID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"$or": []bson.M{
			{"recipient_id": bson.M{"$in": []any{"", nil}}},
			{"recipient_id": userID},
		},
	}
}

func unreadFilter(userID string, conversationIDs []string) bson.M {
	return bson.M{
		"conversation_id": bson.M{"$in": conversationIDs},
		"read":            false,
		"sender_id":       bson.M{"$ne": userID},
		"$or": []bson.M{
			{"recipient_id": bson.M{"$in": []any{"", nil}}},
			{"recipient_id": userID},
		},
	}
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	lastAt := c.LastMessageAt
	if lastAt.IsZero() {
		lastAt = c.CreatedAt
	}
	return conversationDocument{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		RenterID:      c.RenterID,
		ListingID:     c.ListingID,
		PairKey:       c.PairKey,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: lastAt,
		Last: lastMessageDocument{
			ID:          c.Last.ID,
			SenderID:    c.Last.SenderID,
			RecipientID: c.Last.RecipientID,
			Preview:     c.Last.Preview,
			At:          c.Last.At,
		},
	}
}

func (d conversationDocument) toConversation() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		RenterID:      d.RenterID,
		ListingID:     d.ListingID,
		PairKey:       d.PairKey,
		CreatedAt:     d.CreatedAt,
		LastMessageAt: d.LastMessageAt,
		Last: domainchat.LastMessage{
			ID:          d.Last.ID,
			SenderID:    d.Last.SenderID,
			RecipientID: d.Last.RecipientID,
			Preview:     d.Last.Preview,
			At:          d.Last.At,
		},
	}
}

func (d messageDocument) toMessage() domainchat.Message {
	return domainchat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		RecipientID:    d.RecipientID,
		Body:           d.Body,
		Kind:           domainchat.Kind(d.Kind),
		Read:           d.Read,
		CreatedAt:      d.CreatedAt,
	}
}

var _ domainchat.Store = (*ChatStore)(nil)
