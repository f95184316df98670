package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	chatsvc "blockhyre/internal/app/services/chat"
	domainchat "blockhyre/internal/domain/chat"
	"blockhyre/internal/feed"
)

// ConversationList maintains one user's ordered conversation summaries,
// patched incrementally from the change feed. Inserts for known conversations
// update the row in place and move it to the front; anything the list has
// never seen triggers a full reload rather than synthesizing a row from
// partial event data.
type ConversationList struct {
	Service  *chatsvc.Service
	Feed     feed.Subscriber
	Quiet    time.Duration
	Logger   *slog.Logger
	OnChange func(items []chatsvc.Summary)

	mu     sync.Mutex
	userID string
	state  State
	loaded bool
	active string
	items  []chatsvc.Summary
}

func NewConversationList(service *chatsvc.Service, subscriber feed.Subscriber, userID string) *ConversationList {
	return &ConversationList{Service: service, Feed: subscriber, userID: userID}
}

// Snapshot returns the current summaries, identity-tagged like the unread
// counter: another identity sees an empty list.
func (l *ConversationList) Snapshot(userID string) []chatsvc.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	if userID == "" || userID != l.userID || l.state != StateReady {
		return nil
	}
	return append([]chatsvc.Summary(nil), l.items...)
}

func (l *ConversationList) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetActive records which conversation is currently open, so read-state
// updates for it zero the row optimistically instead of reloading.
func (l *ConversationList) SetActive(conversationID string) {
	l.mu.Lock()
	l.active = conversationID
	l.mu.Unlock()
}

// Run performs the initial load exactly once, then folds feed events until
// the context is cancelled.
func (l *ConversationList) Run(ctx context.Context) error {
	l.mu.Lock()
	userID := l.userID
	alreadyLoaded := l.loaded
	l.loaded = true
	l.state = StateLoading
	l.mu.Unlock()

	sub := l.Feed.Subscribe(feed.UserChannel(userID))
	defer sub.Close()

	if !alreadyLoaded {
		l.reload(ctx, userID)
	} else {
		l.mu.Lock()
		l.state = StateReady
		l.mu.Unlock()
	}

	var (
		timer  *time.Timer
		wakeup <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			wakeup = nil
		}
	}
	defer stopTimer()

	// The subscription opens before the initial load runs, so an insert
	// delivered in between may already be reflected in the loaded rows and
	// gets bumped twice. One reload after the quiet period absorbs the
	// overlap.
	timer = time.NewTimer(l.quiet())
	wakeup = timer.C

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			switch event.Op {
			case feed.OpInsert:
				if !l.patchInsert(event.Message, userID) {
					l.reload(ctx, userID)
				}
			case feed.OpUpdate:
				if l.zeroActive(event.Message.ConversationID) {
					continue
				}
				// Bulk mark-read touches many rows; coalesce into one
				// reload after the quiet period.
				if timer == nil {
					timer = time.NewTimer(l.quiet())
					wakeup = timer.C
				}
			}
		case <-wakeup:
			timer = nil
			wakeup = nil
			l.reload(ctx, userID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset clears the exactly-once load guard so a future Run performs a fresh
// load, and drops the current snapshot.
func (l *ConversationList) Reset() {
	l.mu.Lock()
	l.loaded = false
	l.state = StateUninitialized
	l.items = nil
	l.mu.Unlock()
}

func (l *ConversationList) quiet() time.Duration {
	if l.Quiet > 0 {
		return l.Quiet
	}
	return defaultQuiet
}

// patchInsert applies an insert event to a known row: preview, activity,
// unread bump when the message is addressed to this user, move to front.
// Returns false when the conversation is not in the list yet.
func (l *ConversationList) patchInsert(message domainchat.Message, userID string) bool {
	if !message.VisibleTo(userID) {
		// Recipient-scoped wording for the other side; nothing to show here.
		return true
	}
	l.mu.Lock()
	found := false
	for i := range l.items {
		if l.items[i].Conversation.ID != message.ConversationID {
			continue
		}
		item := l.items[i]
		item.Preview = domainchat.Snippet(message.Body, 500)
		item.PreviewSender = message.SenderID
		item.PreviewAt = message.CreatedAt
		item.Conversation.LastMessageAt = message.CreatedAt
		if message.AddressedTo(userID) {
			item.Unread++
		}
		copy(l.items[1:i+1], l.items[:i])
		l.items[0] = item
		found = true
		break
	}
	var snapshot []chatsvc.Summary
	if found {
		snapshot = append([]chatsvc.Summary(nil), l.items...)
	}
	l.mu.Unlock()
	if found {
		l.notify(snapshot)
	}
	return found
}

// zeroActive optimistically clears the unread count of the currently open
// conversation. Returns false when the update belongs to another row.
func (l *ConversationList) zeroActive(conversationID string) bool {
	l.mu.Lock()
	if l.active == "" || conversationID != l.active {
		l.mu.Unlock()
		return false
	}
	changed := false
	for i := range l.items {
		if l.items[i].Conversation.ID == conversationID {
			if l.items[i].Unread != 0 {
				l.items[i].Unread = 0
				changed = true
			}
			break
		}
	}
	var snapshot []chatsvc.Summary
	if changed {
		snapshot = append([]chatsvc.Summary(nil), l.items...)
	}
	l.mu.Unlock()
	if changed {
		l.notify(snapshot)
	}
	return true
}

func (l *ConversationList) reload(ctx context.Context, userID string) {
	items, err := l.Service.ListConversationsForUser(ctx, userID)
	if err != nil {
		// Fail soft: keep whatever is displayed; a later event or reload
		// heals the drift.
		if l.Logger != nil {
			l.Logger.Warn("conversation list reload failed", "error", err, "user_id", userID)
		}
		l.mu.Lock()
		l.state = StateReady
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	l.state = StateReady
	l.items = items
	snapshot := append([]chatsvc.Summary(nil), l.items...)
	l.mu.Unlock()
	l.notify(snapshot)
}

func (l *ConversationList) notify(items []chatsvc.Summary) {
	if l.OnChange != nil {
		l.OnChange(items)
	}
}
