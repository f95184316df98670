package dto

import (
	"time"

	chatsvc "blockhyre/internal/app/services/chat"
	domainchat "blockhyre/internal/domain/chat"
)

// Conversation is one row of a user's conversation list, preview included.
type Conversation struct {
	ID            string    `json:"id"`
	ListingID     string    `json:"listing_id,omitempty"`
	OtherID       string    `json:"other_id"`
	OtherName     string    `json:"other_name,omitempty"`
	OtherAvatar   string    `json:"other_avatar,omitempty"`
	Preview       string    `json:"preview,omitempty"`
	PreviewSender string    `json:"preview_sender_id,omitempty"`
	PreviewAt     time.Time `json:"preview_at,omitempty"`
	Unread        int       `json:"unread"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	Kind           string    `json:"kind"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

type UnreadCount struct {
	Total int `json:"total"`
}

func MapConversation(summary chatsvc.Summary) Conversation {
	conv := summary.Conversation
	return Conversation{
		ID:            conv.ID,
		ListingID:     conv.ListingID,
		OtherID:       summary.OtherID,
		OtherName:     summary.OtherName,
		OtherAvatar:   summary.OtherAvatar,
		Preview:       summary.Preview,
		PreviewSender: summary.PreviewSender,
		PreviewAt:     summary.PreviewAt,
		Unread:        summary.Unread,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
	}
}

func MapConversationList(summaries []chatsvc.Summary) ConversationList {
	items := make([]Conversation, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, MapConversation(summary))
	}
	return ConversationList{Items: items}
}

func MapChatMessage(message domainchat.Message) ChatMessage {
	return ChatMessage{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Body:           message.Body,
		Kind:           string(message.Kind),
		Read:           message.Read,
		CreatedAt:      message.CreatedAt,
	}
}

func MapChatMessageList(messages []domainchat.Message) ChatMessageList {
	items := make([]ChatMessage, 0, len(messages))
	for _, message := range messages {
		items = append(items, MapChatMessage(message))
	}
	return ChatMessageList{Items: items}
}
