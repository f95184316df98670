package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	domainchat "blockhyre/internal/domain/chat"
	domainuser "blockhyre/internal/domain/user"
	"blockhyre/internal/feed"
)

var (
	ErrParticipantsRequired = errors.New("chat: both participants are required")
	ErrStoreNotConfigured   = errors.New("chat: store is not configured")
)

const (
	defaultPageSize = 100
	previewLimit    = 500
)

// Service is the sole point of contact with the durable store for
// conversation and message reads/writes. Every mutation publishes change-feed
// events; subscribers never write back through the feed.
type Service struct {
	Store  domainchat.Store
	Users  domainuser.Repository
	Feed   feed.Publisher
	Logger *slog.Logger
}

// ListingContext carries optional listing details for conversations opened
// from a listing inquiry.
type ListingContext struct {
	ID    string
	Title string
}

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation  domainchat.Conversation
	OtherID       string
	OtherName     string
	OtherAvatar   string
	Preview       string
	PreviewSender string
	PreviewAt     time.Time
	Unread        int
}

// FindOrCreateConversation returns the unique conversation between owner and
// renter, creating it on first contact. Idempotent per unordered pair
// regardless of listing context.
func (s *Service) FindOrCreateConversation(ctx context.Context, ownerID, renterID string, listing *ListingContext) (*domainchat.Conversation, error) {
	if s.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	ownerID = strings.TrimSpace(ownerID)
	renterID = strings.TrimSpace(renterID)
	if renterID == "" {
		return nil, domainchat.ErrAuthRequired
	}
	if ownerID == "" {
		return nil, ErrParticipantsRequired
	}
	if ownerID == renterID {
		return nil, domainchat.ErrSelfChat
	}

	pairKey := domainchat.PairKey(ownerID, renterID)
	conversation, err := s.Store.ConversationByPair(ctx, pairKey)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, domainchat.ErrNotFound) {
		return nil, persistence("lookup conversation", err)
	}

	now := time.Now().UTC()
	conversation = &domainchat.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		RenterID:  renterID,
		PairKey:   pairKey,
		CreatedAt: now,
	}
	if listing != nil {
		conversation.ListingID = listing.ID
	}
	if err := s.Store.CreateConversation(ctx, conversation); err != nil {
		// Lost a race against a concurrent first contact: the pair lookup
		// stays authoritative.
		if existing, lookupErr := s.Store.ConversationByPair(ctx, pairKey); lookupErr == nil {
			return existing, nil
		}
		return nil, persistence("create conversation", err)
	}
	if s.Logger != nil {
		s.Logger.Info("conversation created", "conversation_id", conversation.ID, "listing_id", conversation.ListingID, "owner_id", ownerID, "renter_id", renterID)
	}
	return conversation, nil
}

// Conversation loads conversation metadata for participant checks.
func (s *Service) Conversation(ctx context.Context, id string) (*domainchat.Conversation, error) {
	if s.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	conversation, err := s.Store.ConversationByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, domainchat.ErrNotFound) {
			return nil, domainchat.ErrNotFound
		}
		return nil, persistence("load conversation", err)
	}
	return conversation, nil
}

// ListConversationsForUser returns the user's conversations sorted by
// activity, most recent first. Unread counts are batched across all returned
// conversations in one store query.
func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]Summary, error) {
	if s.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.ErrAuthRequired
	}
	conversations, err := s.Store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, persistence("list conversations", err)
	}
	if len(conversations) == 0 {
		return []Summary{}, nil
	}

	ids := make([]string, 0, len(conversations))
	for _, conv := range conversations {
		ids = append(ids, conv.ID)
	}
	unread, err := s.Store.CountUnreadByConversation(ctx, userID, ids)
	if err != nil {
		return nil, persistence("count unread", err)
	}

	profiles := make(map[string]*domainuser.User)
	summaries := make([]Summary, 0, len(conversations))
	for _, conv := range conversations {
		summary := Summary{
			Conversation: conv,
			OtherID:      conv.OtherParticipant(userID),
			Unread:       unread[conv.ID],
		}
		if profile := s.lookupUser(ctx, profiles, summary.OtherID); profile != nil {
			summary.OtherName = profile.Name
			summary.OtherAvatar = profile.AvatarURL
		}
		s.fillPreview(ctx, &summary, userID)
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListMessages returns the most recent page of messages visible to userID,
// oldest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]domainchat.Message, error) {
	if s.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.ErrAuthRequired
	}
	conversation, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, domainchat.ErrNotParticipant
	}
	messages, err := s.Store.ListMessages(ctx, conversation.ID, userID, defaultPageSize)
	if err != nil {
		return nil, persistence("list messages", err)
	}
	domainchat.SortMessages(messages)
	return messages, nil
}

// SendMessage appends a text message. A caller-supplied clientID becomes the
// message id so optimistic UI copies and the feed echo reconcile by identity.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, body, clientID string) (*domainchat.Message, error) {
	if s.Store == nil {
		return nil, ErrStoreNotConfigured
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, domainchat.ErrAuthRequired
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainchat.ErrBodyRequired
	}
	conversation, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(senderID) {
		return nil, domainchat.ErrNotParticipant
	}

	id := strings.TrimSpace(clientID)
	if id == "" {
		id = uuid.NewString()
	}
	message := &domainchat.Message{
		ID:             id,
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Body:           body,
		Kind:           domainchat.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.Store.InsertMessage(ctx, message); err != nil {
		return nil, persistence("save message", err)
	}
	s.publish(ctx, feed.Event{Op: feed.OpInsert, Message: *message}, conversation)
	return message, nil
}

// SendSystemMessage renders the named template once per recipient role and
// inserts one recipient-scoped message per distinct wording. A recipient
// whose last visible message already carries the rendered body is skipped, so
// repeated inquiries do not spam the thread. Render failures are logged and
// the send is dropped; nothing broken is inserted.
func (s *Service) SendSystemMessage(ctx context.Context, conversationID, templateName string, data TemplateData, senderID string) error {
	if s.Store == nil {
		return ErrStoreNotConfigured
	}
	conversation, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	recipients := []struct {
		id   string
		role domainuser.Role
	}{
		{conversation.OwnerID, domainuser.RoleOwner},
		{conversation.RenterID, domainuser.RoleRenter},
	}
	for _, recipient := range recipients {
		body, err := RenderSystemTemplate(templateName, recipient.role, data)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("system message skipped", "error", err, "template", templateName, "conversation_id", conversation.ID, "recipient_id", recipient.id)
			}
			return fmt.Errorf("%w: %s", domainchat.ErrTemplateRender, templateName)
		}
		last, err := s.Store.LastVisibleMessage(ctx, conversation.ID, recipient.id)
		if err != nil && !errors.Is(err, domainchat.ErrNotFound) {
			return persistence("load last message", err)
		}
		if last != nil && last.Body == body {
			continue
		}
		message := &domainchat.Message{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			SenderID:       senderID,
			RecipientID:    recipient.id,
			Body:           body,
			Kind:           domainchat.KindSystem,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.Store.InsertMessage(ctx, message); err != nil {
			return persistence("save system message", err)
		}
		s.publish(ctx, feed.Event{Op: feed.OpInsert, Message: *message}, conversation)
	}
	return nil
}

// MarkConversationRead flips every unread message addressed to userID in the
// conversation. Idempotent and best-effort; a redundant call is a no-op.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if s.Store == nil {
		return ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domainchat.ErrAuthRequired
	}
	conversation, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(userID) {
		return domainchat.ErrNotParticipant
	}
	flipped, err := s.Store.MarkRead(ctx, conversation.ID, userID, time.Now().UTC())
	if err != nil {
		return persistence("mark read", err)
	}
	for _, message := range flipped {
		s.publish(ctx, feed.Event{Op: feed.OpUpdate, Message: message}, conversation)
	}
	return nil
}

// CountUnread computes the user's total unread ledger in one aggregate query.
func (s *Service) CountUnread(ctx context.Context, userID string) (int, error) {
	if s.Store == nil {
		return 0, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domainchat.ErrAuthRequired
	}
	count, err := s.Store.CountUnread(ctx, userID)
	if err != nil {
		return 0, persistence("count unread", err)
	}
	return count, nil
}

// publish fans a message event out to the conversation channel and to the
// user channel of every participant allowed to see it.
func (s *Service) publish(ctx context.Context, event feed.Event, conversation *domainchat.Conversation) {
	if s.Feed == nil {
		return
	}
	channels := []string{feed.ConversationChannel(conversation.ID)}
	for _, participant := range conversation.Participants() {
		if event.Message.VisibleTo(participant) {
			channels = append(channels, feed.UserChannel(participant))
		}
	}
	s.Feed.Publish(ctx, event, channels...)
}

func (s *Service) fillPreview(ctx context.Context, summary *Summary, userID string) {
	last := summary.Conversation.Last
	if last.ID != "" && (last.RecipientID == "" || last.RecipientID == userID) {
		summary.Preview = last.Preview
		summary.PreviewSender = last.SenderID
		summary.PreviewAt = last.At
		return
	}
	// The tail is a system message scoped to the other participant; fall back
	// to this user's own last visible message.
	message, err := s.Store.LastVisibleMessage(ctx, summary.Conversation.ID, userID)
	if err != nil || message == nil {
		return
	}
	summary.Preview = domainchat.Snippet(message.Body, previewLimit)
	summary.PreviewSender = message.SenderID
	summary.PreviewAt = message.CreatedAt
}

func (s *Service) lookupUser(ctx context.Context, cache map[string]*domainuser.User, id string) *domainuser.User {
	if id == "" || s.Users == nil {
		return nil
	}
	if profile, ok := cache[id]; ok {
		return profile
	}
	profile, err := s.Users.ByID(ctx, domainuser.ID(id))
	if err != nil {
		if s.Logger != nil && !errors.Is(err, domainuser.ErrNotFound) {
			s.Logger.Warn("participant lookup failed", "error", err, "user_id", id)
		}
		cache[id] = nil
		return nil
	}
	cache[id] = profile
	return profile
}

func persistence(action string, err error) error {
	return fmt.Errorf("%w: %s: %v", domainchat.ErrPersistence, action, err)
}
