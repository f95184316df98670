package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockhyre/internal/app/identity"
	chatsvc "blockhyre/internal/app/services/chat"
	"blockhyre/internal/feed"
)

func startClient(t *testing.T, service *chatsvc.Service, broker *feed.Broker, session *identity.Session) *Client {
	t.Helper()
	client := &Client{
		Service: service,
		Feed:    broker,
		Session: session,
		Quiet:   testQuiet,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)
	return client
}

func TestClientBuildsStateForSignedInIdentity(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "hello", "")
	require.NoError(t, err)

	session := identity.NewSession()
	session.Set(identity.Identity{ID: "owner-1", Name: "Olive"})
	client := startClient(t, service, broker, session)

	require.Eventually(t, func() bool { return client.Unread() == 1 }, waitFor, tick)
	items := client.Conversations()
	require.Len(t, items, 1)
	assert.Equal(t, conv.ID, items[0].Conversation.ID)
}

func TestClientStaysEmptyWhileSignedOut(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "hello", "")
	require.NoError(t, err)

	client := startClient(t, service, broker, identity.NewSession())
	assert.Never(t, func() bool { return client.Unread() != 0 }, 4*testQuiet, tick)
	assert.Nil(t, client.Conversations())

	err = client.OpenThread(ctx, conv.ID)
	assert.Error(t, err)
}

func TestClientRebuildsOnIdentitySwitch(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	// One unread on each side of the conversation.
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "for the owner", "")
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, conv.ID, "owner-1", "for the renter", "")
	require.NoError(t, err)

	session := identity.NewSession()
	session.Set(identity.Identity{ID: "owner-1"})
	client := startClient(t, service, broker, session)
	require.Eventually(t, func() bool { return client.Unread() == 1 }, waitFor, tick)
	require.Len(t, client.Conversations(), 1)
	assert.Equal(t, "renter-1", client.Conversations()[0].OtherID)

	// Switching accounts tears everything down and rebuilds for the new user.
	session.Set(identity.Identity{ID: "renter-1"})
	require.Eventually(t, func() bool {
		items := client.Conversations()
		return len(items) == 1 && items[0].OtherID == "owner-1"
	}, waitFor, tick)
	assert.Equal(t, 1, client.Unread())
}

func TestClientLogoutDropsState(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "hello", "")
	require.NoError(t, err)

	session := identity.NewSession()
	session.Set(identity.Identity{ID: "owner-1"})
	client := startClient(t, service, broker, session)
	require.Eventually(t, func() bool { return client.Unread() == 1 }, waitFor, tick)

	session.Set(identity.Identity{})
	require.Eventually(t, func() bool { return client.Unread() == 0 && client.Conversations() == nil }, waitFor, tick)
}

func TestClientThreadLifecycle(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()

	session := identity.NewSession()
	session.Set(identity.Identity{ID: "owner-1"})
	client := startClient(t, service, broker, session)
	require.Eventually(t, func() bool { return client.Conversations() != nil }, waitFor, tick)

	_, err := client.Send(ctx, conv.ID, "early")
	assert.ErrorIs(t, err, ErrNoThread)

	require.NoError(t, client.OpenThread(ctx, conv.ID))
	channel := feed.ConversationChannel(conv.ID)
	require.Eventually(t, func() bool { return broker.SubscriberCount(channel) == 1 }, waitFor, tick)

	sent, err := client.Send(ctx, conv.ID, "anyone there?")
	require.NoError(t, err)
	assert.Equal(t, SendConfirmed, sent.Send)

	messages, err := client.ThreadMessages(conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)

	client.CloseThread(conv.ID)
	require.Eventually(t, func() bool { return broker.SubscriberCount(channel) == 0 }, waitFor, tick)
	_, err = client.ThreadMessages(conv.ID)
	assert.ErrorIs(t, err, ErrNoThread)
}
