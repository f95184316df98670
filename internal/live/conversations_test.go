package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatsvc "blockhyre/internal/app/services/chat"
	domainchat "blockhyre/internal/domain/chat"
	"blockhyre/internal/feed"
)

func startList(t *testing.T, service *chatsvc.Service, broker *feed.Broker, userID string) *ConversationList {
	t.Helper()
	list := NewConversationList(service, broker, userID)
	list.Quiet = testQuiet
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go list.Run(ctx)
	require.Eventually(t, func() bool { return list.State() == StateReady }, waitFor, tick)
	return list
}

func TestConversationListLoadsOnce(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	_, err := service.SendMessage(context.Background(), conv.ID, "renter-1", "hello", "")
	require.NoError(t, err)

	list := startList(t, service, broker, "owner-1")
	items := list.Snapshot("owner-1")
	require.Len(t, items, 1)
	assert.Equal(t, conv.ID, items[0].Conversation.ID)
	assert.Equal(t, 1, items[0].Unread)
	assert.Equal(t, "hello", items[0].Preview)
}

func TestConversationListPatchesKnownRows(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "first", "")
	require.NoError(t, err)

	list := startList(t, service, broker, "owner-1")

	_, err = service.SendMessage(ctx, conv.ID, "renter-1", "second", "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 1 && items[0].Preview == "second" && items[0].Unread == 2
	}, waitFor, tick)
}

func TestConversationListMovesUpdatedRowToFront(t *testing.T) {
	service, broker, convA := newLiveFixture(t)
	ctx := context.Background()

	other, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-2", nil)
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, convA.ID, "renter-1", "old", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = service.SendMessage(ctx, other.ID, "renter-2", "newer", "")
	require.NoError(t, err)

	list := startList(t, service, broker, "owner-1")
	items := list.Snapshot("owner-1")
	require.Len(t, items, 2)
	require.Equal(t, other.ID, items[0].Conversation.ID)

	// New traffic in the older conversation moves it to the front.
	_, err = service.SendMessage(ctx, convA.ID, "renter-1", "fresh", "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 2 && items[0].Conversation.ID == convA.ID && items[0].Preview == "fresh"
	}, waitFor, tick)
}

func TestConversationListReloadsForUnknownConversations(t *testing.T) {
	service, broker, _ := newLiveFixture(t)
	ctx := context.Background()

	list := startList(t, service, broker, "owner-1")
	require.Len(t, list.Snapshot("owner-1"), 1)

	// First contact from a new counterpart arrives purely through the feed.
	conv, err := service.FindOrCreateConversation(ctx, "owner-1", "renter-3", nil)
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, conv.ID, "renter-3", "hi there", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 2 && items[0].Conversation.ID == conv.ID
	}, waitFor, tick)
}

func TestConversationListZeroesActiveRow(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "unseen", "")
	require.NoError(t, err)

	list := startList(t, service, broker, "owner-1")
	require.Equal(t, 1, list.Snapshot("owner-1")[0].Unread)

	list.SetActive(conv.ID)
	require.NoError(t, service.MarkConversationRead(ctx, conv.ID, "owner-1"))
	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 1 && items[0].Unread == 0
	}, waitFor, tick)
}

func TestConversationListDebouncesInactiveUpdates(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := service.SendMessage(ctx, conv.ID, "renter-1", "msg", "")
		require.NoError(t, err)
	}

	list := startList(t, service, broker, "owner-1")
	require.Equal(t, 3, list.Snapshot("owner-1")[0].Unread)

	// Read state changes while no conversation is active: the list reloads
	// after the quiet period and lands on the authoritative zero.
	require.NoError(t, service.MarkConversationRead(ctx, conv.ID, "owner-1"))
	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 1 && items[0].Unread == 0
	}, waitFor, tick)
}

// gatedListStore holds the first ListConversationsByUser until released,
// widening the window between opening the subscription and the initial load.
type gatedListStore struct {
	domainchat.Store
	mu      sync.Mutex
	release chan struct{}
}

func (s *gatedListStore) ListConversationsByUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	return s.Store.ListConversationsByUser(ctx, userID)
}

func TestConversationListHealsLoadWindowOverlap(t *testing.T) {
	service, broker, conv := newLiveFixture(t)
	release := make(chan struct{})
	service.Store = &gatedListStore{Store: service.Store, release: release}

	list := NewConversationList(service, broker, "owner-1")
	list.Quiet = testQuiet
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go list.Run(ctx)

	// The list is subscribed but its initial load is held; a message sent
	// now is reflected in the loaded rows and buffered on the subscription.
	require.Eventually(t, func() bool {
		return broker.SubscriberCount(feed.UserChannel("owner-1")) == 1
	}, waitFor, tick)
	_, err := service.SendMessage(ctx, conv.ID, "renter-1", "hello", "")
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool { return list.State() == StateReady }, waitFor, tick)
	assert.Eventually(t, func() bool {
		items := list.Snapshot("owner-1")
		return len(items) == 1 && items[0].Unread == 1
	}, waitFor, tick)

	// The post-load reload settles any double bump; the row must not stick
	// above the aggregate.
	time.Sleep(5 * testQuiet)
	items := list.Snapshot("owner-1")
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Unread)
}

func TestConversationListSnapshotIsIdentityTagged(t *testing.T) {
	service, broker, _ := newLiveFixture(t)
	list := startList(t, service, broker, "owner-1")
	require.NotEmpty(t, list.Snapshot("owner-1"))
	assert.Nil(t, list.Snapshot("renter-1"))
	assert.Nil(t, list.Snapshot(""))
}
