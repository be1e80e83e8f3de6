// Package roster derives and maintains the unified conversation list.
package roster

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelink/chat-client/internal/domain"
)

// View is one entry of the unified list, ordered most-recent-first. It
// carries its own copy of the conversation, so views stay valid after the
// roster mutates its state.
type View struct {
	domain.Conversation
	// DisplayName is the room name, or the other participant's username
	// for direct chats.
	DisplayName string
}

// BuildList filters, tags, sorts and searches rooms plus direct chats into
// the list shown to userID.
//
// Rooms are kept only when userID is a member, and join-gated main rooms
// (tech-skill rooms of type main) are excluded outright; those are surfaced
// through a separate affordance. Sorting is descending by last activity with
// ties left in input order. The search filter runs after the sort and only
// removes entries, it never reorders them.
func BuildList(rooms, directs []domain.Conversation, userID, query string) []View {
	out := make([]View, 0, len(rooms)+len(directs))
	for i := range rooms {
		c := &rooms[i]
		if !c.IsMember(userID) {
			continue
		}
		if c.TechSkillID != "" && c.RoomType == domain.RoomMain {
			continue
		}
		out = append(out, View{Conversation: *c, DisplayName: c.Name})
	}
	for i := range directs {
		c := &directs[i]
		if !c.IsMember(userID) {
			continue
		}
		out = append(out, View{Conversation: *c, DisplayName: c.Other(userID).Username})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})

	if query == "" {
		return out
	}
	q := strings.ToLower(query)
	filtered := out[:0]
	for _, v := range out {
		if matches(v, q) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

func matches(v View, q string) bool {
	if v.Kind == domain.KindRoom {
		return strings.Contains(strings.ToLower(v.Name), q) ||
			strings.Contains(strings.ToLower(v.Description), q)
	}
	return strings.Contains(strings.ToLower(v.DisplayName), q)
}

// Roster keeps the conversation list alive across conversation switches. It
// owns the raw room/direct slices and answers List queries against them.
type Roster struct {
	mu      sync.Mutex
	userID  string
	rooms   []domain.Conversation
	directs []domain.Conversation
	log     *zap.SugaredLogger
}

func New(userID string, log *zap.SugaredLogger) *Roster {
	return &Roster{userID: userID, log: log}
}

// SetConversations replaces the raw data, typically after the initial fetch.
func (r *Roster) SetConversations(rooms, directs []domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = rooms
	r.directs = directs
}

// List derives the current unified list for an optional search query.
func (r *Roster) List(query string) []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return BuildList(r.rooms, r.directs, r.userID, query)
}

// Bump records new activity in a conversation: the denormalized preview and
// activity timestamp move forward and, unless the conversation is the active
// one, its unread count grows.
func (r *Roster) Bump(msg *domain.Message, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.find(msg.ConversationID)
	if c == nil {
		r.log.Debugw("bump for unknown conversation", "conversation_id", msg.ConversationID)
		return
	}
	c.LastMessage = msg
	c.LastMessageAt = msg.CreatedAt
	if !active && !msg.IsOwn(r.userID) {
		c.Unread++
	}
}

// MarkRead clears the unread count, on conversation open.
func (r *Roster) MarkRead(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(conversationID); c != nil {
		c.Unread = 0
	}
}

// SetPinned flips the current user's pin view-state after the backend call
// succeeded.
func (r *Roster) SetPinned(conversationID string, pinned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(conversationID); c != nil {
		c.SetPinnedFor(r.userID, pinned)
	}
}

// SetArchived flips the current user's archive view-state.
func (r *Roster) SetArchived(conversationID string, archived bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(conversationID); c != nil {
		c.SetArchivedFor(r.userID, archived)
	}
}

// Remove drops a conversation, after a confirmed leave or delete.
func (r *Roster) Remove(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = without(r.rooms, conversationID)
	r.directs = without(r.directs, conversationID)
}

// Get returns a copy of the conversation, or nil.
func (r *Roster) Get(conversationID string) *domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(conversationID); c != nil {
		cp := *c
		return &cp
	}
	return nil
}

// Touch updates a conversation's UpdatedAt, used when settings change.
func (r *Roster) Touch(conversationID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(conversationID); c != nil {
		c.UpdatedAt = at
	}
}

func (r *Roster) find(id string) *domain.Conversation {
	for i := range r.rooms {
		if r.rooms[i].ID == id {
			return &r.rooms[i]
		}
	}
	for i := range r.directs {
		if r.directs[i].ID == id {
			return &r.directs[i]
		}
	}
	return nil
}

func without(list []domain.Conversation, id string) []domain.Conversation {
	out := list[:0]
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
