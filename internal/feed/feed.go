package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	domainchat "blockhyre/internal/domain/chat"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event is a row-level change notification. Delivery is best-effort and
// unordered; consumers de-duplicate by message id and reconcile against the
// store.
type Event struct {
	Op      Op                 `json:"op"`
	Message domainchat.Message `json:"message"`
	// Origin identifies the node that produced the event so a Kafka bridge
	// can drop its own echoes.
	Origin string `json:"origin,omitempty"`
}

// UserChannel is the per-user channel carrying every event addressed to or
// visible by one user.
func UserChannel(userID string) string {
	return "user:" + userID
}

// ConversationChannel carries events for a single conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// Publisher is the write side of the feed, used by the chat service after
// each mutation.
type Publisher interface {
	Publish(ctx context.Context, event Event, channels ...string)
}

// Subscriber is the read side of the feed.
type Subscriber interface {
	Subscribe(channel string) *Subscription
}

// Subscription is a handle on one channel. Each subscription has its own
// token and buffer so concurrent subscribers on the same channel never
// interfere. Close must be called on consumer disposal.
type Subscription struct {
	token   string
	channel string
	events  chan Event
	once    sync.Once
	detach  func()
}

// Events delivers channel events until the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription and closes its event channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.events)
	})
}

// Broker is an in-process change feed: named channels fanned out to any
// number of subscriptions. Sends never block; a subscriber that falls behind
// loses events and is expected to heal through its debounced reconciliation.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *slog.Logger
}

func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

func (b *Broker) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		token:   uuid.NewString(),
		channel: channel,
		events:  make(chan Event, b.buffer),
	}
	sub.detach = func() { b.remove(channel, sub.token) }

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[channel]; !ok {
		b.subs[channel] = make(map[string]*Subscription)
	}
	b.subs[channel][sub.token] = sub
	return sub
}

func (b *Broker) Publish(ctx context.Context, event Event, channels ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, channel := range channels {
		for _, sub := range b.subs[channel] {
			select {
			case sub.events <- event:
			default:
				if b.logger != nil {
					b.logger.Warn("feed event dropped", "channel", channel, "op", event.Op, "message_id", event.Message.ID)
				}
			}
		}
	}
}

// SubscriberCount reports active subscriptions on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Broker) remove(channel, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[channel]; ok {
		delete(subs, token)
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

var _ Publisher = (*Broker)(nil)
var _ Subscriber = (*Broker)(nil)
