package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"blockhyre/internal/app/identity"
	chatsvc "blockhyre/internal/app/services/chat"
	"blockhyre/internal/feed"
)

var ErrNoThread = errors.New("live: conversation is not open")

// Client bundles the live components for one connected client: the unread
// counter, the conversation list and any open threads. All of them are keyed
// to the session's identity and are torn down and rebuilt from zero when that
// identity changes, so nothing leaks across a login switch.
type Client struct {
	Service *chatsvc.Service
	Feed    feed.Subscriber
	Session *identity.Session
	Quiet   time.Duration
	Logger  *slog.Logger

	OnUnread        func(count int)
	OnConversations func(items []chatsvc.Summary)
	OnThreadMessage func(conversationID string, message ThreadMessage)

	mu      sync.Mutex
	current identity.Identity
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	counter *UnreadCounter
	list    *ConversationList
	threads map[string]*openThread
}

type openThread struct {
	thread *Thread
	cancel context.CancelFunc
}

// Run binds the client to its session until the context is cancelled,
// rebuilding per-user state on every identity change.
func (c *Client) Run(ctx context.Context) error {
	changes, stop := c.Session.Watch()
	defer stop()

	c.apply(ctx, c.Session.Current())
	defer c.teardown()

	for {
		select {
		case id := <-changes:
			c.apply(ctx, id)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unread reports the badge value for the current identity.
func (c *Client) Unread() int {
	c.mu.Lock()
	counter := c.counter
	userID := c.current.ID
	c.mu.Unlock()
	if counter == nil {
		return 0
	}
	return counter.Count(userID)
}

// Conversations reports the current conversation list snapshot.
func (c *Client) Conversations() []chatsvc.Summary {
	c.mu.Lock()
	list := c.list
	userID := c.current.ID
	c.mu.Unlock()
	if list == nil {
		return nil
	}
	return list.Snapshot(userID)
}

// OpenThread starts the live view for one conversation and marks it active
// so the list zeroes its unread count optimistically.
func (c *Client) OpenThread(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.current.Zero() {
		c.mu.Unlock()
		return errors.New("live: no authenticated identity")
	}
	if _, ok := c.threads[conversationID]; ok {
		c.mu.Unlock()
		return nil
	}
	thread := NewThread(c.Service, c.Feed, c.current.ID, conversationID)
	thread.Logger = c.Logger
	if c.OnThreadMessage != nil {
		onMessage := c.OnThreadMessage
		thread.OnAppend = func(message ThreadMessage) {
			onMessage(conversationID, message)
		}
	}
	threadCtx, cancel := context.WithCancel(ctx)
	c.threads[conversationID] = &openThread{thread: thread, cancel: cancel}
	list := c.list
	c.mu.Unlock()

	if list != nil {
		list.SetActive(conversationID)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := thread.Run(threadCtx); err != nil && !errors.Is(err, context.Canceled) && c.Logger != nil {
			c.Logger.Warn("thread stopped", "error", err, "conversation_id", conversationID)
		}
	}()
	return nil
}

// CloseThread releases the live view and its feed subscription.
func (c *Client) CloseThread(conversationID string) {
	c.mu.Lock()
	open, ok := c.threads[conversationID]
	if ok {
		delete(c.threads, conversationID)
	}
	list := c.list
	c.mu.Unlock()
	if !ok {
		return
	}
	open.cancel()
	if list != nil {
		list.SetActive("")
	}
}

// Send posts a message through an open thread.
func (c *Client) Send(ctx context.Context, conversationID, body string) (ThreadMessage, error) {
	c.mu.Lock()
	open, ok := c.threads[conversationID]
	c.mu.Unlock()
	if !ok {
		return ThreadMessage{}, ErrNoThread
	}
	return open.thread.Send(ctx, body)
}

// Retry re-sends a failed optimistic message.
func (c *Client) Retry(ctx context.Context, conversationID, messageID string) error {
	c.mu.Lock()
	open, ok := c.threads[conversationID]
	c.mu.Unlock()
	if !ok {
		return ErrNoThread
	}
	return open.thread.Retry(ctx, messageID)
}

// ThreadMessages returns the merged messages of an open thread.
func (c *Client) ThreadMessages(conversationID string) ([]ThreadMessage, error) {
	c.mu.Lock()
	open, ok := c.threads[conversationID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoThread
	}
	return open.thread.Messages(), nil
}

func (c *Client) apply(ctx context.Context, id identity.Identity) {
	c.mu.Lock()
	if c.current == id {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.teardown()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = id
	c.threads = make(map[string]*openThread)
	if id.Zero() {
		return
	}

	userCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	counter := NewUnreadCounter(c.Service, c.Feed, id.ID)
	counter.Quiet = c.Quiet
	counter.Logger = c.Logger
	counter.OnChange = c.OnUnread
	c.counter = counter

	list := NewConversationList(c.Service, c.Feed, id.ID)
	list.Quiet = c.Quiet
	list.Logger = c.Logger
	list.OnChange = c.OnConversations
	c.list = list

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := counter.Run(userCtx); err != nil && !errors.Is(err, context.Canceled) && c.Logger != nil {
			c.Logger.Warn("unread counter stopped", "error", err, "user_id", id.ID)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := list.Run(userCtx); err != nil && !errors.Is(err, context.Canceled) && c.Logger != nil {
			c.Logger.Warn("conversation list stopped", "error", err, "user_id", id.ID)
		}
	}()
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	threads := c.threads
	c.threads = nil
	c.counter = nil
	c.list = nil
	c.current = identity.Identity{}
	c.mu.Unlock()

	for _, open := range threads {
		open.cancel()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
