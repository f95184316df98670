package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "blockhyre/internal/domain/chat"
)

func seedConversation(t *testing.T, store *ChatStore) *domainchat.Conversation {
	t.Helper()
	conversation := &domainchat.Conversation{
		ID:        "conv-1",
		OwnerID:   "owner-1",
		RenterID:  "renter-1",
		PairKey:   domainchat.PairKey("owner-1", "renter-1"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateConversation(context.Background(), conversation))
	return conversation
}

func textMessage(id, sender, body string, at time.Time) *domainchat.Message {
	return &domainchat.Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       sender,
		Body:           body,
		Kind:           domainchat.KindText,
		CreatedAt:      at,
	}
}

func TestChatStorePairKeyIsUnique(t *testing.T) {
	store := NewChatStore()
	conversation := seedConversation(t, store)
	ctx := context.Background()

	rival := *conversation
	rival.ID = "conv-2"
	assert.ErrorIs(t, store.CreateConversation(ctx, &rival), domainchat.ErrPersistence)

	// Re-saving the winner under its own id stays legal.
	assert.NoError(t, store.CreateConversation(ctx, conversation))

	found, err := store.ConversationByPair(ctx, conversation.PairKey)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", found.ID)
}

func TestChatStoreInsertIsIdempotent(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	first := textMessage("msg-1", "renter-1", "original", now)
	require.NoError(t, store.InsertMessage(ctx, first))

	retry := textMessage("msg-1", "renter-1", "retried copy", now.Add(time.Minute))
	require.NoError(t, store.InsertMessage(ctx, retry))

	messages, err := store.ListMessages(ctx, "conv-1", "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "original", messages[0].Body)
}

func TestChatStoreInsertUpdatesConversationTail(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-1", "renter-1", "latest word", at)))

	conversation, err := store.ConversationByID(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", conversation.Last.ID)
	assert.Equal(t, "latest word", conversation.Last.Preview)
	assert.True(t, conversation.LastMessageAt.Equal(at))
}

func TestChatStoreScopesMessagesToRecipients(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	shared := textMessage("msg-1", "renter-1", "for everyone", now)
	require.NoError(t, store.InsertMessage(ctx, shared))
	scoped := textMessage("msg-2", "", "owner wording", now.Add(time.Second))
	scoped.Kind = domainchat.KindSystem
	scoped.RecipientID = "owner-1"
	require.NoError(t, store.InsertMessage(ctx, scoped))

	ownerView, err := store.ListMessages(ctx, "conv-1", "owner-1", 0)
	require.NoError(t, err)
	assert.Len(t, ownerView, 2)

	renterView, err := store.ListMessages(ctx, "conv-1", "renter-1", 0)
	require.NoError(t, err)
	require.Len(t, renterView, 1)
	assert.Equal(t, "msg-1", renterView[0].ID)

	last, err := store.LastVisibleMessage(ctx, "conv-1", "renter-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "msg-1", last.ID)
}

func TestChatStoreMarkReadFlipsOnlyAddressedMessages(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-1", "renter-1", "one", now)))
	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-2", "renter-1", "two", now.Add(time.Second))))
	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-3", "owner-1", "own send", now.Add(2*time.Second))))

	flipped, err := store.MarkRead(ctx, "conv-1", "owner-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, flipped, 2)
	for _, message := range flipped {
		assert.True(t, message.Read)
		assert.Equal(t, "renter-1", message.SenderID)
	}

	// Second pass flips nothing.
	flipped, err = store.MarkRead(ctx, "conv-1", "owner-1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, flipped)

	count, err := store.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The owner's own send is still unread on the renter's side.
	count, err = store.CountUnread(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChatStoreCountsUnreadPerConversation(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	other := &domainchat.Conversation{
		ID:        "conv-2",
		OwnerID:   "owner-1",
		RenterID:  "renter-2",
		PairKey:   domainchat.PairKey("owner-1", "renter-2"),
		CreatedAt: now,
	}
	require.NoError(t, store.CreateConversation(ctx, other))

	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-1", "renter-1", "a", now)))
	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-2", "renter-1", "b", now.Add(time.Second))))
	second := textMessage("msg-3", "renter-2", "c", now.Add(2*time.Second))
	second.ConversationID = "conv-2"
	require.NoError(t, store.InsertMessage(ctx, second))

	counts, err := store.CountUnreadByConversation(ctx, "owner-1", []string{"conv-1", "conv-2", "conv-ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["conv-1"])
	assert.Equal(t, 1, counts["conv-2"])
	assert.NotContains(t, counts, "conv-ghost")

	total, err := store.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestChatStoreListsConversationsByActivity(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	other := &domainchat.Conversation{
		ID:        "conv-2",
		OwnerID:   "owner-1",
		RenterID:  "renter-2",
		PairKey:   domainchat.PairKey("owner-1", "renter-2"),
		CreatedAt: now.Add(time.Second),
	}
	require.NoError(t, store.CreateConversation(ctx, other))
	require.NoError(t, store.InsertMessage(ctx, textMessage("msg-1", "renter-1", "wakes conv-1", now.Add(time.Hour))))

	conversations, err := store.ListConversationsByUser(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "conv-1", conversations[0].ID)

	conversations, err = store.ListConversationsByUser(ctx, "renter-2")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "conv-2", conversations[0].ID)
}

func TestChatStoreUnknownConversationIsNotFound(t *testing.T) {
	store := NewChatStore()
	ctx := context.Background()

	_, err := store.ConversationByID(ctx, "missing")
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
	_, err = store.ListMessages(ctx, "missing", "owner-1", 0)
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
	err = store.InsertMessage(ctx, textMessage("msg-1", "owner-1", "x", time.Now()))
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
	_, err = store.MarkRead(ctx, "missing", "owner-1", time.Now())
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestChatStoreMarkReadFlipsEachMessageOnce(t *testing.T) {
	store := NewChatStore()
	seedConversation(t, store)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := textMessage(fmt.Sprintf("m%d", i), "renter-1", "hello", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.InsertMessage(ctx, msg))
	}

	// Concurrent callers (two open tabs) must split the flips between them,
	// never both claiming the same message.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flipped int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			messages, err := store.MarkRead(ctx, "conv-1", "owner-1", time.Now().UTC())
			assert.NoError(t, err)
			mu.Lock()
			flipped += len(messages)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, flipped)

	count, err := store.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
