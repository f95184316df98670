package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"blockhyre/internal/app/dto"
	"blockhyre/internal/app/identity"
	chatsvc "blockhyre/internal/app/services/chat"
	"blockhyre/internal/feed"
	"blockhyre/internal/live"
)

const (
	writeTimeout   = 10 * time.Second
	outboundBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type FeedHTTP interface {
	Stream(c *gin.Context)
}

// FeedHandler bridges one websocket connection to the live components. Every
// frame the client sees originates from the feed or from an authoritative
// reload; the socket itself never writes to the store directly.
type FeedHandler struct {
	Service *chatsvc.Service
	Feed    feed.Subscriber
	Quiet   time.Duration
	Logger  *slog.Logger
}

type clientCommand struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	ClientID       string `json:"client_id"`
	MessageID      string `json:"message_id"`
}

type wireMessage struct {
	dto.ChatMessage
	SendState string `json:"send_state,omitempty"`
}

type serverFrame struct {
	Type           string             `json:"type"`
	Total          *int               `json:"total,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Conversations  []dto.Conversation `json:"conversations,omitempty"`
	Message        *wireMessage       `json:"message,omitempty"`
	Messages       []wireMessage      `json:"messages,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func (h FeedHandler) Stream(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	if h.Service == nil || h.Feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed unavailable"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "error", err, "user_id", principal.ID)
		}
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := identity.NewSession()
	session.Set(identity.Identity{
		ID:        principal.ID,
		Email:     principal.Email,
		Name:      principal.Name,
		AvatarURL: principal.AvatarURL,
	})

	out := make(chan serverFrame, outboundBuffer)
	client := &live.Client{
		Service: h.Service,
		Feed:    h.Feed,
		Session: session,
		Quiet:   h.Quiet,
		Logger:  h.Logger,
		OnUnread: func(count int) {
			h.enqueue(out, serverFrame{Type: "unread", Total: &count})
		},
		OnConversations: func(items []chatsvc.Summary) {
			list := dto.MapConversationList(items)
			h.enqueue(out, serverFrame{Type: "conversations", Conversations: list.Items})
		},
		OnThreadMessage: func(conversationID string, message live.ThreadMessage) {
			wire := mapThreadMessage(message)
			h.enqueue(out, serverFrame{Type: "message", ConversationID: conversationID, Message: &wire})
		},
	}

	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && h.Logger != nil {
			h.Logger.Warn("live client stopped", "error", err, "user_id", principal.ID)
		}
	}()
	go h.writeLoop(ctx, cancel, conn, out)

	h.readLoop(ctx, conn, client, out, principal.ID)
}

func (h FeedHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *live.Client, out chan serverFrame, userID string) {
	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && h.Logger != nil {
				h.Logger.Debug("websocket closed", "error", err, "user_id", userID)
			}
			return
		}
		switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
		case "open":
			if err := client.OpenThread(ctx, cmd.ConversationID); err != nil {
				h.enqueue(out, errorFrame(cmd.ConversationID, err))
				continue
			}
			// The thread follows the feed from here on; the backlog is served
			// from the store so the client renders immediately.
			backlog, err := h.Service.ListMessages(ctx, cmd.ConversationID, userID)
			if err != nil {
				h.enqueue(out, errorFrame(cmd.ConversationID, err))
				continue
			}
			messages := make([]wireMessage, 0, len(backlog))
			for _, message := range backlog {
				messages = append(messages, wireMessage{ChatMessage: dto.MapChatMessage(message), SendState: string(live.SendConfirmed)})
			}
			h.enqueue(out, serverFrame{Type: "thread", ConversationID: cmd.ConversationID, Messages: messages})
		case "close":
			client.CloseThread(cmd.ConversationID)
		case "send":
			message, err := client.Send(ctx, cmd.ConversationID, cmd.Body)
			if err != nil && !errors.Is(err, context.Canceled) {
				wire := mapThreadMessage(message)
				frame := errorFrame(cmd.ConversationID, err)
				frame.Message = &wire
				h.enqueue(out, frame)
			}
		case "retry":
			if err := client.Retry(ctx, cmd.ConversationID, cmd.MessageID); err != nil {
				h.enqueue(out, errorFrame(cmd.ConversationID, err))
			}
		default:
			h.enqueue(out, serverFrame{Type: "error", Error: "unknown command"})
		}
	}
}

func (h FeedHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan serverFrame) {
	defer cancel()
	for {
		select {
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// enqueue drops the frame when the outbound buffer is full: a stalled reader
// must not block the live components, and the next authoritative reload
// repairs whatever the client missed.
func (h FeedHandler) enqueue(out chan serverFrame, frame serverFrame) {
	select {
	case out <- frame:
	default:
		if h.Logger != nil {
			h.Logger.Warn("outbound frame dropped", "type", frame.Type)
		}
	}
}

func mapThreadMessage(message live.ThreadMessage) wireMessage {
	return wireMessage{
		ChatMessage: dto.MapChatMessage(message.Message),
		SendState:   string(message.Send),
	}
}

func errorFrame(conversationID string, err error) serverFrame {
	return serverFrame{Type: "error", ConversationID: conversationID, Error: err.Error()}
}

var _ FeedHTTP = (*FeedHandler)(nil)
