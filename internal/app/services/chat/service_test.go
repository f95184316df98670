package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "blockhyre/internal/domain/chat"
	domainuser "blockhyre/internal/domain/user"
	"blockhyre/internal/feed"
	"blockhyre/internal/infra/storage/memory"
)

func newTestService(t *testing.T) (*Service, *feed.Broker) {
	t.Helper()
	broker := feed.NewBroker(16, nil)
	users := memory.NewUserRepository()
	for _, params := range []domainuser.CreateParams{
		{ID: "owner-1", Email: "owner@example.com", Name: "Olive Owner", PasswordHash: "x", Roles: []domainuser.Role{domainuser.RoleOwner, domainuser.RoleRenter}},
		{ID: "renter-1", Email: "renter@example.com", Name: "Rita Renter", PasswordHash: "x"},
	} {
		user, err := domainuser.NewUser(params)
		require.NoError(t, err)
		require.NoError(t, users.Save(context.Background(), user))
	}
	return &Service{
		Store: memory.NewChatStore(),
		Users: users,
		Feed:  broker,
	}, broker
}

func drain(sub *feed.Subscription) []feed.Event {
	events := make([]feed.Event, 0)
	for {
		select {
		case event := <-sub.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestFindOrCreateConversationIsIdempotentPerPair(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", &ListingContext{ID: "listing-1", Title: "Angle Grinder"})
	require.NoError(t, err)

	// Same pair in the opposite order and without listing context.
	second, err := service.FindOrCreateConversation(ctx, "renter-1", "owner-1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PairKey, second.PairKey)
	assert.Equal(t, "listing-1", second.ListingID)
}

func TestFindOrCreateConversationRejectsSelfChat(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.FindOrCreateConversation(context.Background(), "owner-1", "owner-1", nil)
	assert.ErrorIs(t, err, domainchat.ErrSelfChat)
}

func TestFindOrCreateConversationRequiresCaller(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.FindOrCreateConversation(context.Background(), "owner-1", "", nil)
	assert.ErrorIs(t, err, domainchat.ErrAuthRequired)
}

func TestSendMessagePublishesToParticipants(t *testing.T) {
	service, broker := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	ownerSub := broker.Subscribe(feed.UserChannel("owner-1"))
	defer ownerSub.Close()
	convSub := broker.Subscribe(feed.ConversationChannel(conv.ID))
	defer convSub.Close()

	message, err := service.SendMessage(ctx, conv.ID, "renter-1", "is the grinder free this weekend?", "")
	require.NoError(t, err)
	assert.Equal(t, domainchat.KindText, message.Kind)
	assert.False(t, message.Read)

	ownerEvents := drain(ownerSub)
	require.Len(t, ownerEvents, 1)
	assert.Equal(t, feed.OpInsert, ownerEvents[0].Op)
	assert.Equal(t, message.ID, ownerEvents[0].Message.ID)

	convEvents := drain(convSub)
	require.Len(t, convEvents, 1)
}

func TestSendMessageHonorsClientID(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	first, err := service.SendMessage(ctx, conv.ID, "renter-1", "hello", "client-42")
	require.NoError(t, err)
	assert.Equal(t, "client-42", first.ID)

	// A retry under the same client id must not duplicate the message.
	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "hello", "client-42")
	require.NoError(t, err)
	messages, err := service.ListMessages(ctx, conv.ID, "renter-1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSendMessageRejectsOutsiders(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, conv.ID, "stranger", "hi", "")
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "   ", "")
	assert.ErrorIs(t, err, domainchat.ErrBodyRequired)
}

func TestSystemMessageIsRecipientScoped(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	err = service.SendSystemMessage(ctx, conv.ID, "LISTING_INQUIRY", TemplateData{
		"RenterName":   "Rita Renter",
		"OwnerName":    "Olive Owner",
		"ListingTitle": "Angle Grinder",
	}, "renter-1")
	require.NoError(t, err)

	ownerView, err := service.ListMessages(ctx, conv.ID, "owner-1")
	require.NoError(t, err)
	require.Len(t, ownerView, 1)
	assert.Equal(t, domainchat.KindSystem, ownerView[0].Kind)
	assert.Contains(t, ownerView[0].Body, "Rita Renter is interested")

	renterView, err := service.ListMessages(ctx, conv.ID, "renter-1")
	require.NoError(t, err)
	require.Len(t, renterView, 1)
	assert.Contains(t, renterView[0].Body, "You asked Olive Owner")
}

func TestSystemMessageSkipsDuplicateWording(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	data := TemplateData{"RenterName": "Rita", "OwnerName": "Olive", "ListingTitle": "Drill"}
	require.NoError(t, service.SendSystemMessage(ctx, conv.ID, "LISTING_INQUIRY", data, "renter-1"))
	require.NoError(t, service.SendSystemMessage(ctx, conv.ID, "LISTING_INQUIRY", data, "renter-1"))

	ownerView, err := service.ListMessages(ctx, conv.ID, "owner-1")
	require.NoError(t, err)
	assert.Len(t, ownerView, 1)
}

func TestSystemMessageUnknownTemplate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	err = service.SendSystemMessage(ctx, conv.ID, "NO_SUCH_TEMPLATE", nil, "")
	assert.ErrorIs(t, err, domainchat.ErrTemplateRender)

	ownerView, err := service.ListMessages(ctx, conv.ID, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, ownerView)
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	service, broker := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "one", "")
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "two", "")
	require.NoError(t, err)

	count, err := service.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sub := broker.Subscribe(feed.UserChannel("owner-1"))
	defer sub.Close()

	require.NoError(t, service.MarkConversationRead(ctx, conv.ID, "owner-1"))
	events := drain(sub)
	assert.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, feed.OpUpdate, event.Op)
		assert.True(t, event.Message.Read)
	}

	// Second call flips nothing and publishes nothing.
	require.NoError(t, service.MarkConversationRead(ctx, conv.ID, "owner-1"))
	assert.Empty(t, drain(sub))

	count, err = service.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkReadDoesNotTouchSenderCopies(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "ping", "")
	require.NoError(t, err)

	// The sender reading their own conversation flips nothing.
	require.NoError(t, service.MarkConversationRead(ctx, conv.ID, "renter-1"))
	count, err := service.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListConversationsForUserBatchesUnread(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	third, err := domainuser.NewUser(domainuser.CreateParams{
		ID: "owner-2", Email: "second@example.com", Name: "Second Owner", PasswordHash: "x",
		Roles: []domainuser.Role{domainuser.RoleOwner},
	})
	require.NoError(t, err)
	require.NoError(t, service.Users.Save(ctx, third))

	convA, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)
	convB, err := service.FindOrCreateConversation(ctx, "owner-2", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, convA.ID, "owner-1", "grinder is free", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = service.SendMessage(ctx, convB.ID, "owner-2", "saw is free", "")
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, convB.ID, "owner-2", "and the sander", "")
	require.NoError(t, err)

	summaries, err := service.ListConversationsForUser(ctx, "renter-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Most recent activity first.
	assert.Equal(t, convB.ID, summaries[0].Conversation.ID)
	assert.Equal(t, 2, summaries[0].Unread)
	assert.Equal(t, "and the sander", summaries[0].Preview)
	assert.Equal(t, "Second Owner", summaries[0].OtherName)

	assert.Equal(t, convA.ID, summaries[1].Conversation.ID)
	assert.Equal(t, 1, summaries[1].Unread)
	assert.Equal(t, "Olive Owner", summaries[1].OtherName)
}

func TestPreviewFallsBackToVisibleMessage(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "first question", "")
	require.NoError(t, err)

	// Insert a message scoped to the owner only; the renter's preview must not
	// show wording meant for the other side.
	scoped := &domainchat.Message{
		ID:             "scoped-1",
		ConversationID: conv.ID,
		SenderID:       "renter-1",
		RecipientID:    "owner-1",
		Body:           "owner-only wording",
		Kind:           domainchat.KindSystem,
		CreatedAt:      time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, service.Store.InsertMessage(ctx, scoped))

	summaries, err := service.ListConversationsForUser(ctx, "renter-1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "first question", summaries[0].Preview)

	ownerSummaries, err := service.ListConversationsForUser(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, ownerSummaries, 1)
	assert.Equal(t, "owner-only wording", ownerSummaries[0].Preview)
}

func TestListMessagesFiltersByVisibility(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-1", nil)
	require.NoError(t, err)

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "shared", "")
	require.NoError(t, err)
	require.NoError(t, service.Store.InsertMessage(ctx, &domainchat.Message{
		ID:             "scoped-2",
		ConversationID: conv.ID,
		SenderID:       "owner-1",
		RecipientID:    "owner-1",
		Body:           "private note",
		Kind:           domainchat.KindSystem,
		CreatedAt:      time.Now().UTC(),
	}))

	renterView, err := service.ListMessages(ctx, conv.ID, "renter-1")
	require.NoError(t, err)
	require.Len(t, renterView, 1)
	assert.Equal(t, "shared", renterView[0].Body)

	_, err = service.ListMessages(ctx, conv.ID, "stranger")
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
}
