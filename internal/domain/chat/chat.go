package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrAuthRequired is returned when an operation needs an authenticated caller.
	ErrAuthRequired = errors.New("chat: authentication required")
	// ErrPersistence wraps failures of the backing store.
	ErrPersistence = errors.New("chat: persistence failure")
	// ErrTemplateRender is returned when a system-message template cannot be rendered.
	ErrTemplateRender = errors.New("chat: template render failed")
	ErrNotFound       = errors.New("chat: conversation not found")
	ErrNotParticipant = errors.New("chat: not a conversation participant")
	ErrBodyRequired   = errors.New("chat: message body is required")
	ErrSelfChat       = errors.New("chat: cannot start a conversation with yourself")
)

type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// Conversation pairs a tool owner with a renter, optionally anchored to a listing.
// At most one conversation exists per unordered participant pair; PairKey
// enforces that regardless of listing.
type Conversation struct {
	ID            string
	OwnerID       string
	RenterID      string
	ListingID     string
	PairKey       string
	CreatedAt     time.Time
	LastMessageAt time.Time
	Last          LastMessage
}

// LastMessage is the denormalized tail of a conversation, used for previews.
type LastMessage struct {
	ID          string
	SenderID    string
	RecipientID string
	Preview     string
	At          time.Time
}

func (c Conversation) Participants() []string {
	return []string{c.OwnerID, c.RenterID}
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.OwnerID == userID || c.RenterID == userID)
}

// OtherParticipant returns the counterpart of userID, or empty when userID
// is not part of the conversation.
func (c Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.OwnerID:
		return c.RenterID
	case c.RenterID:
		return c.OwnerID
	}
	return ""
}

// Activity is the ordering timestamp for conversation lists.
func (c Conversation) Activity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// Message is immutable once created except for the Read flag, which only
// transitions false to true.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	// RecipientID scopes the message to one participant; empty means visible
	// to both.
	RecipientID string
	Body        string
	Kind        Kind
	Read        bool
	CreatedAt   time.Time
}

// VisibleTo reports whether userID may see the message.
func (m Message) VisibleTo(userID string) bool {
	return m.RecipientID == "" || m.RecipientID == userID
}

// AddressedTo reports whether the message counts against userID's unread
// ledger: visible to them and sent by someone else.
func (m Message) AddressedTo(userID string) bool {
	return m.SenderID != userID && m.VisibleTo(userID)
}

// PairKey produces the canonical key for an unordered participant pair.
func PairKey(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// SortMessages orders messages by server-assigned creation time, oldest
// first, with the id as a tiebreaker so ordering is stable across feeds.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// Snippet trims a message body to a bounded preview.
func Snippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

// Store is the durable backing for conversations and messages. Implementations
// exist for MongoDB, ScyllaDB and in-memory use.
type Store interface {
	ConversationByID(ctx context.Context, id string) (*Conversation, error)
	// ConversationByPair locates the unique conversation for an unordered
	// participant pair, returning ErrNotFound when none exists.
	ConversationByPair(ctx context.Context, pairKey string) (*Conversation, error)
	CreateConversation(ctx context.Context, conversation *Conversation) error
	// ListConversationsByUser returns the user's conversations sorted by
	// activity, most recent first.
	ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)

	// InsertMessage appends a message and updates the conversation's
	// denormalized tail and activity timestamp.
	InsertMessage(ctx context.Context, message *Message) error
	// ListMessages returns the most recent messages visible to userID,
	// ordered oldest first, capped at limit.
	ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]Message, error)
	// LastVisibleMessage returns the newest message visible to userID, or
	// nil when the conversation has none.
	LastVisibleMessage(ctx context.Context, conversationID, userID string) (*Message, error)

	// MarkRead flips every unread message addressed to userID in the
	// conversation and returns the flipped messages. Idempotent; a second
	// call returns an empty slice.
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) ([]Message, error)
	// CountUnread computes userID's total unread ledger across all of their
	// conversations in a single query.
	CountUnread(ctx context.Context, userID string) (int, error)
	// CountUnreadByConversation batches per-conversation unread counts for
	// the given ids in a single query.
	CountUnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}
