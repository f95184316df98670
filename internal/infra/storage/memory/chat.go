package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "blockhyre/internal/domain/chat"
)

// ChatStore keeps conversations and messages in memory. Used for tests and
// single-node dev runs.
type ChatStore struct {
	mu            sync.RWMutex
	conversations map[string]*domainchat.Conversation
	byPair        map[string]string
	messages      map[string][]*domainchat.Message
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		conversations: make(map[string]*domainchat.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string][]*domainchat.Message),
	}
}

func (s *ChatStore) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	return cloneConversation(conversation), nil
}

func (s *ChatStore) ConversationByPair(ctx context.Context, pairKey string) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	return cloneConversation(conversation), nil
}

func (s *ChatStore) CreateConversation(ctx context.Context, conversation *domainchat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byPair[conversation.PairKey]; ok && existing != conversation.ID {
		return domainchat.ErrPersistence
	}
	s.conversations[conversation.ID] = cloneConversation(conversation)
	s.byPair[conversation.PairKey] = conversation.ID
	return nil
}

func (s *ChatStore) ListConversationsByUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domainchat.Conversation, 0)
	for _, conversation := range s.conversations {
		if conversation.HasParticipant(userID) {
			out = append(out, *cloneConversation(conversation))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Activity().After(out[j].Activity())
	})
	return out, nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, message *domainchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[message.ConversationID]
	if !ok {
		return domainchat.ErrNotFound
	}
	for _, existing := range s.messages[message.ConversationID] {
		if existing.ID == message.ID {
			// Idempotent insert: a retried send under the same client id is
			// a no-op.
			return nil
		}
	}
	copied := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &copied)
	conversation.LastMessageAt = message.CreatedAt
	conversation.Last = domainchat.LastMessage{
		ID:          message.ID,
		SenderID:    message.SenderID,
		RecipientID: message.RecipientID,
		Preview:     domainchat.Snippet(message.Body, 500),
		At:          message.CreatedAt,
	}
	return nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domainchat.ErrNotFound
	}
	visible := make([]domainchat.Message, 0)
	for _, message := range s.messages[conversationID] {
		if message.VisibleTo(userID) {
			visible = append(visible, *message)
		}
	}
	domainchat.SortMessages(visible)
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible, nil
}

func (s *ChatStore) LastVisibleMessage(ctx context.Context, conversationID, userID string) (*domainchat.Message, error) {
	messages, err := s.ListMessages(ctx, conversationID, userID, 0)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	last := messages[len(messages)-1]
	return &last, nil
}

func (s *ChatStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) ([]domainchat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domainchat.ErrNotFound
	}
	flipped := make([]domainchat.Message, 0)
	for _, message := range s.messages[conversationID] {
		if !message.Read && message.AddressedTo(userID) {
			message.Read = true
			flipped = append(flipped, *message)
		}
	}
	return flipped, nil
}

func (s *ChatStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for id, conversation := range s.conversations {
		if !conversation.HasParticipant(userID) {
			continue
		}
		for _, message := range s.messages[id] {
			if !message.Read && message.AddressedTo(userID) {
				count++
			}
		}
	}
	return count, nil
}

func (s *ChatStore) CountUnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		for _, message := range s.messages[id] {
			if !message.Read && message.AddressedTo(userID) {
				out[id]++
			}
		}
	}
	return out, nil
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	if c == nil {
		return nil
	}
	copied := *c
	return &copied
}

var _ domainchat.Store = (*ChatStore)(nil)
