package domain

import "time"

// Status is the client-side delivery state of a message. Edited and deleted
// are not statuses; they are derived from EditedAt/DeletedAt.
type Status string

const (
	StatusPending   Status = "pending" // optimistically sent, no server ack yet
	StatusConfirmed Status = "sent"
	StatusFailed    Status = "failed"
)

type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	SenderUsername string              `json:"sender_username,omitempty"`
	Content        string              `json:"content,omitempty"`
	Attachments    []Attachment        `json:"attachments,omitempty"`
	LinkPreview    *LinkPreview        `json:"link_preview,omitempty"`
	ReplyToID      string              `json:"reply_to_id,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"` // emoji -> reactor user ids
	CreatedAt      time.Time           `json:"created_at"`
	EditedAt       *time.Time          `json:"edited_at,omitempty"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	ReadBy         []string            `json:"read_by,omitempty"`
	Pinned         bool                `json:"pinned"`
	Archived       bool                `json:"archived"`

	// Client-side only.
	Status      Status `json:"-"`
	ClientToken string `json:"client_token,omitempty"`
}

func (m *Message) Deleted() bool { return m.DeletedAt != nil }
func (m *Message) Edited() bool  { return m.EditedAt != nil }

func (m *Message) IsOwn(userID string) bool { return m.SenderID == userID }

func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MarkRead records userID in ReadBy once.
func (m *Message) MarkRead(userID string) {
	if m.ReadByUser(userID) {
		return
	}
	m.ReadBy = append(m.ReadBy, userID)
}

// AddReaction adds userID under emoji. A user carries at most one reaction
// per message, so any previous reaction by the same user is dropped first.
func (m *Message) AddReaction(emoji, userID string) {
	m.RemoveReactionBy(userID)
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}

// RemoveReaction removes userID from the given emoji set. Empty sets are
// deleted from the map.
func (m *Message) RemoveReaction(emoji, userID string) {
	set, ok := m.Reactions[emoji]
	if !ok {
		return
	}
	out := set[:0]
	for _, id := range set {
		if id != userID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(m.Reactions, emoji)
	} else {
		m.Reactions[emoji] = out
	}
}

// RemoveReactionBy removes userID from every emoji set on the message.
func (m *Message) RemoveReactionBy(userID string) {
	for emoji := range m.Reactions {
		m.RemoveReaction(emoji, userID)
	}
}

// Tombstone soft-deletes the message in place: content is cleared but the
// entry keeps its position in the sequence.
func (m *Message) Tombstone(at time.Time) {
	m.DeletedAt = &at
	m.Content = ""
	m.Attachments = nil
	m.LinkPreview = nil
	m.Reactions = nil
}

// TypingSignal is ephemeral and never persisted; it exists only while the
// remote peer is composing.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
}
