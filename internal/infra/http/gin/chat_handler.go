package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"blockhyre/internal/app/dto"
	chatsvc "blockhyre/internal/app/services/chat"
	domainchat "blockhyre/internal/domain/chat"
	domainlistings "blockhyre/internal/domain/listings"
	domainuser "blockhyre/internal/domain/user"
)

// ChatHTTP exposes chat endpoints.
type ChatHTTP interface {
	ListMyConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	ContactListing(c *gin.Context)
	MarkRead(c *gin.Context)
	UnreadCount(c *gin.Context)
}

type ChatHandler struct {
	Service  *chatsvc.Service
	Listings domainlistings.Repository
	Logger   *slog.Logger
}

// ListMyConversations returns the caller's conversation list, newest activity
// first, with previews and per-conversation unread counts.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	summaries, err := h.Service.ListConversationsForUser(c.Request.Context(), principal.ID)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapConversationList(summaries))
}

// ListMessages returns the messages of a conversation visible to the caller.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	messages, err := h.Service.ListMessages(c.Request.Context(), conversationID, principal.ID)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapChatMessageList(messages))
}

// SendMessage posts a message. A caller-supplied client_id becomes the message
// id so retries stay idempotent.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Body     string `json:"body"`
		ClientID string `json:"client_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	message, err := h.Service.SendMessage(c.Request.Context(), conversationID, principal.ID, req.Body, req.ClientID)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.MapChatMessage(*message))
}

// ContactListing finds or creates the conversation between the caller and a
// listing's owner, then drops the inquiry notice into it.
func (h ChatHandler) ContactListing(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil || h.Listings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	if listingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(listingID))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		h.respondChatError(c, err, "load listing", "listing_id", listingID)
		return
	}
	conversation, err := h.Service.FindOrCreateConversation(c.Request.Context(), listing.Owner, principal.ID, &chatsvc.ListingContext{
		ID:    string(listing.ID),
		Title: listing.Title,
	})
	if err != nil {
		h.respondChatError(c, err, "create conversation", "listing_id", listingID, "user_id", principal.ID)
		return
	}
	data := chatsvc.TemplateData{
		"ListingTitle": listing.Title,
		"RenterName":   principal.Name,
	}
	if owner := h.ownerName(c, listing.Owner); owner != "" {
		data["OwnerName"] = owner
	}
	// The inquirer is the sender, so their own copy never counts as unread.
	if err := h.Service.SendSystemMessage(c.Request.Context(), conversation.ID, "LISTING_INQUIRY", data, principal.ID); err != nil {
		// The thread exists either way; the notice is best-effort.
		if h.Logger != nil {
			h.Logger.Warn("inquiry notice failed", "error", err, "conversation_id", conversation.ID)
		}
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversation.ID})
}

// MarkRead flips every unread message addressed to the caller.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := h.Service.MarkConversationRead(c.Request.Context(), conversationID, principal.ID); err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount returns the caller's total unread badge value.
func (h ChatHandler) UnreadCount(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	total, err := h.Service.CountUnread(c.Request.Context(), principal.ID)
	if err != nil {
		h.respondChatError(c, err, "count unread", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, dto.UnreadCount{Total: total})
}

func (h ChatHandler) ownerName(c *gin.Context, ownerID string) string {
	if h.Service == nil || h.Service.Users == nil {
		return ""
	}
	owner, err := h.Service.Users.ByID(c.Request.Context(), domainuser.ID(ownerID))
	if err != nil {
		return ""
	}
	return owner.Name
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domainchat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, domainchat.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	case errors.Is(err, domainchat.ErrBodyRequired),
		errors.Is(err, domainchat.ErrSelfChat),
		errors.Is(err, chatsvc.ErrParticipantsRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
