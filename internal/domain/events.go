package domain

import (
	"encoding/json"
	"time"
)

// Event types - client -> server
const (
	EventMessageSend   = "message:send"
	EventMessageEdit   = "message:edit"
	EventMessageDelete = "message:delete"
	EventMessageReact  = "message:react"
	EventMessageRead   = "message:read"
)

// Event types - server -> client
const (
	EventMessageNew     = "message:new"
	EventMessageEdited  = "message:edited"
	EventMessageDeleted = "message:deleted"
	EventMessageReacted = "message:reacted"
)

// Bidirectional
const (
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Event is the envelope for all realtime channel traffic.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// NewEvent wraps payload into an envelope stamped with the current time.
func NewEvent(eventType, conversationID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().Unix(),
	}, nil
}

func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// --- client -> server payloads ---

type MessageSendPayload struct {
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	// ClientToken correlates the optimistic entry with the server's
	// message:new confirmation.
	ClientToken string `json:"client_token"`
}

type MessageEditPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageDeletePayload struct {
	MessageID string `json:"message_id"`
}

type MessageReactPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

// --- server -> client payloads ---

type MessageNewPayload struct {
	Message     Message `json:"message"`
	ClientToken string  `json:"client_token,omitempty"`
}

type MessageEditedPayload struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
}

type MessageReactedPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	Added     bool   `json:"added"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type TypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
