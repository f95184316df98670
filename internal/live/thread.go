package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	chatsvc "blockhyre/internal/app/services/chat"
	domainchat "blockhyre/internal/domain/chat"
	"blockhyre/internal/feed"
)

// SendState tracks an optimistic send through its lifecycle.
type SendState string

const (
	SendConfirmed SendState = "confirmed"
	SendPending   SendState = "pending"
	SendFailed    SendState = "failed"
)

// ThreadMessage is a message as displayed in an open thread, annotated with
// its local send state.
type ThreadMessage struct {
	domainchat.Message
	Send SendState `json:"send_state,omitempty"`
}

// Thread is the authoritative merged message list for one open conversation.
// Locally-sent optimistic messages and feed-delivered ones merge by id, so a
// redelivered or echoed insert is discarded rather than appended twice.
type Thread struct {
	Service  *chatsvc.Service
	Feed     feed.Subscriber
	Logger   *slog.Logger
	OnAppend func(message ThreadMessage)
	OnRead   func(messageID string)

	userID         string
	conversationID string

	mu       sync.Mutex
	messages []ThreadMessage
	loaded   bool
	visible  bool
}

func NewThread(service *chatsvc.Service, subscriber feed.Subscriber, userID, conversationID string) *Thread {
	return &Thread{
		Service:        service,
		Feed:           subscriber,
		userID:         userID,
		conversationID: conversationID,
	}
}

func (t *Thread) ConversationID() string {
	return t.conversationID
}

// Messages returns the merged list, ordered by server-assigned creation time.
func (t *Thread) Messages() []ThreadMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ThreadMessage(nil), t.messages...)
}

// SetVisible flags whether the thread is the conversation on screen. While
// visible, incoming messages are marked read immediately.
func (t *Thread) SetVisible(visible bool) {
	t.mu.Lock()
	t.visible = visible
	t.mu.Unlock()
}

// Run loads the backlog, marks the conversation read, then follows the feed
// until the context is cancelled. Teardown resets the loaded guard so
// reopening the conversation performs a fresh load.
func (t *Thread) Run(ctx context.Context) error {
	t.mu.Lock()
	alreadyLoaded := t.loaded
	t.loaded = true
	t.visible = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.loaded = false
		t.visible = false
		t.mu.Unlock()
	}()

	if !alreadyLoaded {
		backlog, err := t.Service.ListMessages(ctx, t.conversationID, t.userID)
		if err != nil {
			t.mu.Lock()
			t.loaded = false
			t.mu.Unlock()
			return err
		}
		t.mu.Lock()
		merged := t.messages
		for _, message := range backlog {
			if !containsMessage(merged, message.ID) {
				merged = append(merged, ThreadMessage{Message: message, Send: SendConfirmed})
			}
		}
		sortThread(merged)
		t.messages = merged
		t.mu.Unlock()
	}

	if err := t.Service.MarkConversationRead(ctx, t.conversationID, t.userID); err != nil {
		// Best-effort: the badge stays stale until the next recount.
		if t.Logger != nil {
			t.Logger.Warn("mark read failed", "error", err, "conversation_id", t.conversationID)
		}
	}

	sub := t.Feed.Subscribe(feed.ConversationChannel(t.conversationID))
	defer sub.Close()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch event.Op {
			case feed.OpInsert:
				t.handleInsert(ctx, event.Message)
			case feed.OpUpdate:
				t.handleRead(event.Message)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send displays the message optimistically under a client-generated id, then
// persists it with that same id so the feed echo is recognized as a
// duplicate. On failure the optimistic copy is kept and flagged failed so the
// caller can offer a retry.
func (t *Thread) Send(ctx context.Context, body string) (ThreadMessage, error) {
	message := ThreadMessage{
		Message: domainchat.Message{
			ID:             uuid.NewString(),
			ConversationID: t.conversationID,
			SenderID:       t.userID,
			Body:           body,
			Kind:           domainchat.KindText,
			CreatedAt:      time.Now().UTC(),
		},
		Send: SendPending,
	}
	t.append(message)

	confirmed, err := t.Service.SendMessage(ctx, t.conversationID, t.userID, body, message.ID)
	if err != nil {
		t.setSendState(message.ID, SendFailed)
		message.Send = SendFailed
		return message, err
	}
	t.mu.Lock()
	for i := range t.messages {
		if t.messages[i].ID == confirmed.ID {
			t.messages[i].Message = *confirmed
			t.messages[i].Send = SendConfirmed
			message = t.messages[i]
			break
		}
	}
	sortThread(t.messages)
	t.mu.Unlock()
	return message, nil
}

// Retry re-persists a failed optimistic message under its original id.
func (t *Thread) Retry(ctx context.Context, messageID string) error {
	t.mu.Lock()
	var body string
	found := false
	for i := range t.messages {
		if t.messages[i].ID == messageID && t.messages[i].Send == SendFailed {
			body = t.messages[i].Body
			t.messages[i].Send = SendPending
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return domainchat.ErrNotFound
	}
	if _, err := t.Service.SendMessage(ctx, t.conversationID, t.userID, body, messageID); err != nil {
		t.setSendState(messageID, SendFailed)
		return err
	}
	t.setSendState(messageID, SendConfirmed)
	return nil
}

func (t *Thread) handleInsert(ctx context.Context, message domainchat.Message) {
	if !message.VisibleTo(t.userID) {
		return
	}
	t.mu.Lock()
	if containsMessage(t.messages, message.ID) {
		// Echo of an optimistic send or a duplicate delivery; confirm the
		// local copy instead of appending twice.
		for i := range t.messages {
			if t.messages[i].ID == message.ID {
				t.messages[i].Message = message
				t.messages[i].Send = SendConfirmed
				break
			}
		}
		t.mu.Unlock()
		return
	}
	appended := ThreadMessage{Message: message, Send: SendConfirmed}
	t.messages = append(t.messages, appended)
	sortThread(t.messages)
	visible := t.visible
	onAppend := t.OnAppend
	t.mu.Unlock()

	if onAppend != nil {
		onAppend(appended)
	}
	if visible && message.SenderID != t.userID {
		if err := t.Service.MarkConversationRead(ctx, t.conversationID, t.userID); err != nil && t.Logger != nil {
			t.Logger.Warn("mark read failed", "error", err, "conversation_id", t.conversationID)
		}
	}
}

func (t *Thread) handleRead(message domainchat.Message) {
	t.mu.Lock()
	var onRead func(string)
	for i := range t.messages {
		if t.messages[i].ID == message.ID && !t.messages[i].Read {
			t.messages[i].Read = true
			onRead = t.OnRead
			break
		}
	}
	t.mu.Unlock()
	if onRead != nil {
		onRead(message.ID)
	}
}

func (t *Thread) append(message ThreadMessage) {
	t.mu.Lock()
	if !containsMessage(t.messages, message.ID) {
		t.messages = append(t.messages, message)
		sortThread(t.messages)
	}
	onAppend := t.OnAppend
	t.mu.Unlock()
	if onAppend != nil {
		onAppend(message)
	}
}

func (t *Thread) setSendState(messageID string, state SendState) {
	t.mu.Lock()
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			t.messages[i].Send = state
			break
		}
	}
	t.mu.Unlock()
}

func containsMessage(messages []ThreadMessage, id string) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func sortThread(messages []ThreadMessage) {
	plain := make([]domainchat.Message, len(messages))
	for i, m := range messages {
		plain[i] = m.Message
	}
	domainchat.SortMessages(plain)
	states := make(map[string]SendState, len(messages))
	for _, m := range messages {
		states[m.ID] = m.Send
	}
	for i, m := range plain {
		messages[i] = ThreadMessage{Message: m, Send: states[m.ID]}
	}
}
