package scylla

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"

	domainchat "blockhyre/internal/domain/chat"
)

var (
	ErrSessionMissing = errors.New("scylla: session not initialized")
	// ErrPairTaken signals that another writer registered the pair first.
	ErrPairTaken = errors.New("scylla: conversation pair already exists")
)

// ChatStore wraps Scylla queries for conversations, messages and the unread
// counter ledger. Unread totals come from the counter table, maintained on
// insert and on read flips, so one partition read answers both the total and
// the per-conversation breakdown.
type ChatStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewChatStore(session *gocql.Session, logger *slog.Logger) *ChatStore {
	return &ChatStore{session: session, logger: logger}
}

const conversationColumns = `id, owner_id, renter_id, listing_id, pair_key, created_at, last_message_at, last_message_id, last_sender_id, last_recipient_id, last_preview`

func (s *ChatStore) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	row, err := s.scanConversation(
		s.session.Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, id).
			WithContext(ctx).
			Consistency(gocql.One),
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

func (s *ChatStore) ConversationByPair(ctx context.Context, pairKey string) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	var conversationID string
	if err := s.session.
		Query(`SELECT conversation_id FROM conversations_by_pair WHERE pair_key = ? LIMIT 1`, pairKey).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&conversationID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	return s.ConversationByID(ctx, conversationID)
}

func (s *ChatStore) CreateConversation(ctx context.Context, conversation *domainchat.Conversation) error {
	if s.session == nil {
		return ErrSessionMissing
	}
	applied, err := s.session.
		Query(`INSERT INTO conversations_by_pair (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
			conversation.PairKey, conversation.ID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		MapScanCAS(map[string]any{})
	if err != nil {
		return err
	}
	if !applied {
		return ErrPairTaken
	}
	lastAt := conversation.LastMessageAt
	if lastAt.IsZero() {
		lastAt = conversation.CreatedAt
	}
	return s.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversation.ID, conversation.OwnerID, conversation.RenterID, conversation.ListingID,
			conversation.PairKey, conversation.CreatedAt, lastAt,
			conversation.Last.ID, conversation.Last.SenderID, conversation.Last.RecipientID, conversation.Last.Preview).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *ChatStore) ListConversationsByUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	seen := make(map[string]struct{})
	out := make([]domainchat.Conversation, 0)
	for _, column := range []string{"owner_id", "renter_id"} {
		iter := s.session.
			Query(`SELECT `+conversationColumns+` FROM conversations WHERE `+column+` = ? ALLOW FILTERING`, userID).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
		rows, err := collectConversations(iter)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}
			out = append(out, row)
		}
	}
	sortByActivity(out)
	return out, nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, message *domainchat.Message) error {
	if s.session == nil {
		return ErrSessionMissing
	}
	applied, err := s.session.
		Query(`INSERT INTO messages (conversation_id, id, sender_id, recipient_id, body, kind, read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			message.ConversationID, message.ID, message.SenderID, message.RecipientID,
			message.Body, string(message.Kind), message.Read, message.CreatedAt).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		MapScanCAS(map[string]any{})
	if err != nil {
		return err
	}
	if !applied {
		// Retried send under the same client id.
		return nil
	}

	conversation, err := s.ConversationByID(ctx, message.ConversationID)
	if err != nil {
		return err
	}
	if !message.Read {
		for _, participant := range conversation.Participants() {
			if !message.AddressedTo(participant) {
				continue
			}
			if err := s.bumpUnread(ctx, participant, message.ConversationID, 1); err != nil && s.logger != nil {
				s.logger.Warn("failed to bump unread counter", "error", err, "user_id", participant)
			}
		}
	}

	// Tail update is best-effort; a stale preview heals on the next message.
	if err := s.session.
		Query(`UPDATE conversations SET last_message_at = ?, last_message_id = ?, last_sender_id = ?, last_recipient_id = ?, last_preview = ? WHERE id = ?`,
			message.CreatedAt, message.ID, message.SenderID, message.RecipientID,
			domainchat.Snippet(message.Body, 500), message.ConversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Exec(); err != nil && s.logger != nil {
		s.logger.Warn("failed to update conversation tail", "error", err, "conversation_id", message.ConversationID)
	}
	return nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]domainchat.Message, error) {
	messages, err := s.visibleMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	domainchat.SortMessages(messages)
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (s *ChatStore) LastVisibleMessage(ctx context.Context, conversationID, userID string) (*domainchat.Message, error) {
	messages, err := s.visibleMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	domainchat.SortMessages(messages)
	last := messages[len(messages)-1]
	return &last, nil
}

func (s *ChatStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	messages, err := s.visibleMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	flipped := make([]domainchat.Message, 0)
	for _, message := range messages {
		if message.Read || message.SenderID == userID {
			continue
		}
		// Conditional flip so concurrent callers (two tabs, a thread's
		// re-mark on arrival) never decrement the counter for the same
		// message twice.
		applied, err := s.session.
			Query(`UPDATE messages SET read = true WHERE conversation_id = ? AND id = ? IF read = false`,
				conversationID, message.ID).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			MapScanCAS(map[string]any{})
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}
		message.Read = true
		flipped = append(flipped, message)
	}
	if len(flipped) > 0 {
		if err := s.bumpUnread(ctx, userID, conversationID, -len(flipped)); err != nil && s.logger != nil {
			s.logger.Warn("failed to decrement unread counter", "error", err, "user_id", userID)
		}
	}
	domainchat.SortMessages(flipped)
	return flipped, nil
}

func (s *ChatStore) CountUnread(ctx context.Context, userID string) (int, error) {
	counts, err := s.unreadLedger(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (s *ChatStore) CountUnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	counts, err := s.unreadLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		if n, ok := counts[id]; ok && n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

// unreadLedger reads the whole counter partition for one user.
func (s *ChatStore) unreadLedger(ctx context.Context, userID string) (map[string]int, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	iter := s.session.
		Query(`SELECT conversation_id, n FROM unread_counts WHERE user_id = ?`, userID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	counts := make(map[string]int)
	var (
		conversationID string
		n              int64
	)
	for iter.Scan(&conversationID, &n) {
		if n > 0 {
			counts[conversationID] = int(n)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *ChatStore) bumpUnread(ctx context.Context, userID, conversationID string, delta int) error {
	return s.session.
		Query(`UPDATE unread_counts SET n = n + ? WHERE user_id = ? AND conversation_id = ?`,
			int64(delta), userID, conversationID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *ChatStore) visibleMessages(ctx context.Context, conversationID, userID string) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	iter := s.session.
		Query(`SELECT conversation_id, id, sender_id, recipient_id, body, kind, read, created_at FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	messages := make([]domainchat.Message, 0)
	var (
		cID       string
		id        string
		sender    string
		recipient string
		body      string
		kind      string
		read      bool
		createdAt time.Time
	)
	for iter.Scan(&cID, &id, &sender, &recipient, &body, &kind, &read, &createdAt) {
		message := domainchat.Message{
			ID:             id,
			ConversationID: cID,
			SenderID:       sender,
			RecipientID:    recipient,
			Body:           body,
			Kind:           domainchat.Kind(kind),
			Read:           read,
			CreatedAt:      createdAt,
		}
		if !message.VisibleTo(userID) {
			continue
		}
		messages = append(messages, message)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *ChatStore) scanConversation(query *gocql.Query) (*domainchat.Conversation, error) {
	var (
		row     domainchat.Conversation
		lastID  string
		sender  string
		target  string
		preview string
	)
	if err := query.Scan(&row.ID, &row.OwnerID, &row.RenterID, &row.ListingID, &row.PairKey,
		&row.CreatedAt, &row.LastMessageAt, &lastID, &sender, &target, &preview); err != nil {
		return nil, err
	}
	row.Last = domainchat.LastMessage{ID: lastID, SenderID: sender, RecipientID: target, Preview: preview}
	if row.Last.ID != "" {
		row.Last.At = row.LastMessageAt
	}
	return &row, nil
}

func collectConversations(iter *gocql.Iter) ([]domainchat.Conversation, error) {
	out := make([]domainchat.Conversation, 0)
	var (
		row     domainchat.Conversation
		lastID  string
		sender  string
		target  string
		preview string
	)
	for iter.Scan(&row.ID, &row.OwnerID, &row.RenterID, &row.ListingID, &row.PairKey,
		&row.CreatedAt, &row.LastMessageAt, &lastID, &sender, &target, &preview) {
		conversation := row
		conversation.Last = domainchat.LastMessage{ID: lastID, SenderID: sender, RecipientID: target, Preview: preview}
		if conversation.Last.ID != "" {
			conversation.Last.At = conversation.LastMessageAt
		}
		out = append(out, conversation)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func sortByActivity(conversations []domainchat.Conversation) {
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].Activity().After(conversations[j].Activity())
	})
}

var _ domainchat.Store = (*ChatStore)(nil)
