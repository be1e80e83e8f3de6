package domain

import "time"

// Kind tags the conversation variant. It is decided once at ingestion, never
// re-inferred from field shapes.
type Kind string

const (
	KindRoom   Kind = "room"
	KindDirect Kind = "private"
)

type RoomType string

const (
	RoomMain        RoomType = "main"
	RoomGeneralInfo RoomType = "general-info"
	RoomClassroom   RoomType = "classroom"
)

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Conversation is the tagged union over room and direct chats. Room-only
// fields are zero for directs and vice versa.
type Conversation struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Room fields.
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	RoomType    RoomType `json:"room_type,omitempty"`
	TechSkillID string   `json:"tech_skill_id,omitempty"`
	Members     []string `json:"members,omitempty"`

	// Direct fields. Exactly two participants in well-formed data.
	Participants []Participant `json:"participants,omitempty"`

	LastMessage   *Message  `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`

	// Per-user view state, not global state.
	PinnedBy   []string `json:"pinned_by,omitempty"`
	ArchivedBy []string `json:"archived_by,omitempty"`

	// Server-granted capabilities and room admin state.
	RequiresApproval bool `json:"requires_approval,omitempty"`
	PendingRequests  int  `json:"pending_requests,omitempty"`
	CanReport        bool `json:"can_report,omitempty"`
	CanLeave         bool `json:"can_leave,omitempty"`
	CanDelete        bool `json:"can_delete,omitempty"`

	// Client-side only.
	Unread int `json:"-"`
}

// LastActivity resolves the ordering timestamp with the fallback chain
// last message -> updated -> created -> zero.
func (c *Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

func (c *Conversation) IsMember(userID string) bool {
	if c.Kind == KindDirect {
		for _, p := range c.Participants {
			if p.ID == userID {
				return true
			}
		}
		return false
	}
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID. On malformed data with
// no distinct participant it falls back to the first entry.
func (c *Conversation) Other(userID string) Participant {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return Participant{}
}

func (c *Conversation) PinnedFor(userID string) bool   { return contains(c.PinnedBy, userID) }
func (c *Conversation) ArchivedFor(userID string) bool { return contains(c.ArchivedBy, userID) }

func (c *Conversation) SetPinnedFor(userID string, pinned bool) {
	c.PinnedBy = setMembership(c.PinnedBy, userID, pinned)
}

func (c *Conversation) SetArchivedFor(userID string, archived bool) {
	c.ArchivedBy = setMembership(c.ArchivedBy, userID, archived)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func setMembership(set []string, v string, in bool) []string {
	if in {
		if contains(set, v) {
			return set
		}
		return append(set, v)
	}
	out := set[:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
