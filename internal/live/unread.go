// Package live hosts the per-client reactive state driven by the change
// feed: the unread badge counter, the conversation list and open message
// threads. Each component runs a single event-loop goroutine over its own
// feed subscription; that loop is the only place its state mutates.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	chatsvc "blockhyre/internal/app/services/chat"
	"blockhyre/internal/feed"
)

// State tracks a component's load lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

const defaultQuiet = time.Second

// UnreadCounter maintains one user's total unread count without re-querying
// on every event. Inserts addressed to the user bump the count optimistically;
// read-state updates schedule a single debounced authoritative recount that
// supersedes any optimistic deltas accumulated since.
type UnreadCounter struct {
	Service  *chatsvc.Service
	Feed     feed.Subscriber
	Quiet    time.Duration
	Logger   *slog.Logger
	OnChange func(count int)

	mu     sync.Mutex
	userID string
	state  State
	count  int
}

func NewUnreadCounter(service *chatsvc.Service, subscriber feed.Subscriber, userID string) *UnreadCounter {
	return &UnreadCounter{Service: service, Feed: subscriber, userID: userID}
}

// Count exposes the current value, tagged with the identity it belongs to:
// any other identity observes zero, so a stale counter can never leak across
// a login switch.
func (c *UnreadCounter) Count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID == "" || userID != c.userID || c.state != StateReady {
		return 0
	}
	return c.count
}

func (c *UnreadCounter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run loads the authoritative count, then folds feed events until the
// context is cancelled. The debounce timer is cancelled on teardown so a late
// recount can never fire into a disposed counter.
func (c *UnreadCounter) Run(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	c.state = StateLoading
	c.mu.Unlock()

	sub := c.Feed.Subscribe(feed.UserChannel(userID))
	defer sub.Close()

	count, err := c.Service.CountUnread(ctx, userID)
	if err != nil {
		// Fail soft: start at zero and let the first debounced recount heal.
		if c.Logger != nil {
			c.Logger.Warn("unread load failed", "error", err, "user_id", userID)
		}
		count = 0
	}
	c.set(StateReady, count)

	var (
		timer   *time.Timer
		recount <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			recount = nil
		}
	}
	defer stopTimer()

	// The subscription opens before the snapshot query runs, so an insert
	// delivered in between may already be included in the snapshot and gets
	// counted twice. One recount after the quiet period absorbs the overlap.
	timer = time.NewTimer(c.quiet())
	recount = timer.C

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch event.Op {
			case feed.OpInsert:
				if event.Message.AddressedTo(userID) {
					c.add(1)
				}
			case feed.OpUpdate:
				// Marking a conversation read fires one update per row;
				// coalesce the burst into a single recount after a quiet
				// period from the first event.
				if timer == nil {
					timer = time.NewTimer(c.quiet())
					recount = timer.C
				}
			}
		case <-recount:
			timer = nil
			recount = nil
			fresh, err := c.Service.CountUnread(ctx, userID)
			if err != nil {
				if c.Logger != nil {
					c.Logger.Warn("unread recount failed", "error", err, "user_id", userID)
				}
				continue
			}
			c.set(StateReady, fresh)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *UnreadCounter) quiet() time.Duration {
	if c.Quiet > 0 {
		return c.Quiet
	}
	return defaultQuiet
}

func (c *UnreadCounter) add(delta int) {
	c.mu.Lock()
	c.count += delta
	if c.count < 0 {
		c.count = 0
	}
	count := c.count
	onChange := c.OnChange
	c.mu.Unlock()
	if onChange != nil {
		onChange(count)
	}
}

func (c *UnreadCounter) set(state State, count int) {
	c.mu.Lock()
	c.state = state
	c.count = count
	onChange := c.OnChange
	c.mu.Unlock()
	if onChange != nil {
		onChange(count)
	}
}
