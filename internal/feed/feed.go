// Package feed holds the ordered message sequence for one open conversation
// and reconciles it against user actions and realtime events.
package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelink/chat-client/internal/domain"
)

// Feed owns the in-memory message sequence for a single conversation. It is
// created on open and discarded on navigation away. The server is
// authoritative for ordering; optimistic entries sit at the tail until their
// confirmation arrives and are then moved to their server position.
type Feed struct {
	mu             sync.Mutex
	conversationID string
	selfID         string
	messages       []*domain.Message
	byID           map[string]*domain.Message
	byToken        map[string]*domain.Message
	log            *zap.SugaredLogger
	onChange       func()
}

func New(conversationID, selfID string, log *zap.SugaredLogger, onChange func()) *Feed {
	return &Feed{
		conversationID: conversationID,
		selfID:         selfID,
		byID:           make(map[string]*domain.Message),
		byToken:        make(map[string]*domain.Message),
		log:            log,
		onChange:       onChange,
	}
}

func (f *Feed) ConversationID() string { return f.conversationID }

// LoadHistory seeds the feed with a fetched page, oldest first. Optimistic
// entries already present stay at the tail.
func (f *Feed) LoadHistory(history []domain.Message) {
	f.mu.Lock()
	confirmed := make([]*domain.Message, 0, len(history))
	for i := range history {
		m := history[i]
		if _, ok := f.byID[m.ID]; ok {
			continue
		}
		m.Status = domain.StatusConfirmed
		confirmed = append(confirmed, &m)
		f.byID[m.ID] = &m
	}
	sort.SliceStable(confirmed, func(i, j int) bool {
		if confirmed[i].CreatedAt.Equal(confirmed[j].CreatedAt) {
			return confirmed[i].ID < confirmed[j].ID
		}
		return confirmed[i].CreatedAt.Before(confirmed[j].CreatedAt)
	})
	f.messages = append(confirmed, f.messages...)
	f.mu.Unlock()
	f.notify()
}

// AppendOptimistic inserts a pending message at the tail with a generated
// correlation token, which doubles as the temporary id until the server ack
// supplies the real one. Returns a snapshot of the entry.
func (f *Feed) AppendOptimistic(content string, attachments []domain.Attachment, replyToID string) domain.Message {
	token := uuid.NewString()
	m := &domain.Message{
		ID:             token,
		ConversationID: f.conversationID,
		SenderID:       f.selfID,
		Content:        content,
		Attachments:    attachments,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now().UTC(),
		Status:         domain.StatusPending,
		ClientToken:    token,
	}
	f.mu.Lock()
	f.messages = append(f.messages, m)
	f.byID[m.ID] = m
	f.byToken[token] = m
	f.mu.Unlock()
	f.notify()
	return *m
}

// MarkFailed flips a pending entry to failed so the caller can offer retry
// or discard. Reports whether the token was known.
func (f *Feed) MarkFailed(token string) bool {
	f.mu.Lock()
	m, ok := f.byToken[token]
	if ok && m.Status == domain.StatusPending {
		m.Status = domain.StatusFailed
	} else {
		ok = false
	}
	f.mu.Unlock()
	if ok {
		f.notify()
	}
	return ok
}

// Retry flips a failed entry back to pending and returns a snapshot for
// re-sending under the same correlation token.
func (f *Feed) Retry(token string) (domain.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byToken[token]
	if !ok || m.Status != domain.StatusFailed {
		return domain.Message{}, false
	}
	m.Status = domain.StatusPending
	return *m, true
}

// Discard removes a failed or still-pending optimistic entry. Confirmed
// messages are never removed, only tombstoned.
func (f *Feed) Discard(token string) bool {
	f.mu.Lock()
	m, ok := f.byToken[token]
	if !ok || m.Status == domain.StatusConfirmed {
		f.mu.Unlock()
		return false
	}
	delete(f.byToken, token)
	delete(f.byID, m.ID)
	f.messages = remove(f.messages, m)
	f.mu.Unlock()
	f.notify()
	return true
}

// ApplyEvent reconciles one realtime event into the sequence. Events whose
// target message is outside the locally loaded window are ignored; they may
// simply predate the fetched history page.
func (f *Feed) ApplyEvent(ev *domain.Event) {
	if ev.ConversationID != f.conversationID {
		return
	}
	f.mu.Lock()
	changed := f.apply(ev)
	f.mu.Unlock()
	if changed {
		f.notify()
	}
}

func (f *Feed) apply(ev *domain.Event) bool {
	switch ev.Type {
	case domain.EventMessageNew:
		var p domain.MessageNewPayload
		if err := ev.Decode(&p); err != nil {
			f.log.Warnw("bad message:new payload", "err", err)
			return false
		}
		return f.applyNew(&p)

	case domain.EventMessageEdited:
		var p domain.MessageEditedPayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		m, ok := f.byID[p.MessageID]
		if !ok {
			f.log.Debugw("edit for unloaded message", "message_id", p.MessageID)
			return false
		}
		if m.Deleted() {
			return false
		}
		m.Content = p.Content
		editedAt := p.EditedAt
		m.EditedAt = &editedAt
		return true

	case domain.EventMessageDeleted:
		var p domain.MessageDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		m, ok := f.byID[p.MessageID]
		if !ok {
			f.log.Debugw("delete for unloaded message", "message_id", p.MessageID)
			return false
		}
		m.Tombstone(time.Now().UTC())
		return true

	case domain.EventMessageReacted:
		var p domain.MessageReactedPayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		m, ok := f.byID[p.MessageID]
		if !ok || m.Deleted() {
			return false
		}
		if p.Added {
			m.AddReaction(p.Emoji, p.UserID)
		} else {
			m.RemoveReaction(p.Emoji, p.UserID)
		}
		return true

	case domain.EventMessageRead:
		var p domain.MessageReadPayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		return f.applyRead(&p)
	}
	return false
}

func (f *Feed) applyNew(p *domain.MessageNewPayload) bool {
	srv := p.Message
	srv.Status = domain.StatusConfirmed

	// Reconcile against a pending optimistic entry by correlation token:
	// replace, never duplicate.
	if p.ClientToken != "" {
		if m, ok := f.byToken[p.ClientToken]; ok {
			delete(f.byID, m.ID)
			srv.ClientToken = p.ClientToken
			*m = srv
			f.byID[m.ID] = m
			f.messages = remove(f.messages, m)
			f.insertConfirmed(m)
			return true
		}
	}
	if _, ok := f.byID[srv.ID]; ok {
		return false // duplicate delivery
	}
	m := srv
	f.byID[m.ID] = &m
	f.insertConfirmed(&m)
	return true
}

// insertConfirmed places m in server order among the confirmed messages,
// keeping pending and failed entries at the tail.
func (f *Feed) insertConfirmed(m *domain.Message) {
	limit := len(f.messages)
	for limit > 0 && f.messages[limit-1].Status != domain.StatusConfirmed {
		limit--
	}
	idx := limit
	for idx > 0 {
		prev := f.messages[idx-1]
		if prev.CreatedAt.After(m.CreatedAt) ||
			(prev.CreatedAt.Equal(m.CreatedAt) && prev.ID > m.ID) {
			idx--
			continue
		}
		break
	}
	f.messages = append(f.messages, nil)
	copy(f.messages[idx+1:], f.messages[idx:])
	f.messages[idx] = m
}

func (f *Feed) applyRead(p *domain.MessageReadPayload) bool {
	if _, ok := f.byID[p.MessageID]; !ok {
		return false
	}
	changed := false
	for _, m := range f.messages {
		if !m.ReadByUser(p.UserID) {
			m.MarkRead(p.UserID)
			changed = true
		}
		if m.ID == p.MessageID {
			break
		}
	}
	return changed
}

// SetPinned applies a pin/unpin locally once the backend accepted it.
func (f *Feed) SetPinned(messageID string, pinned bool) bool {
	f.mu.Lock()
	m, ok := f.byID[messageID]
	if ok {
		m.Pinned = pinned
	}
	f.mu.Unlock()
	if ok {
		f.notify()
	}
	return ok
}

// SetArchived applies a per-message archive flag locally.
func (f *Feed) SetArchived(messageID string, archived bool) bool {
	f.mu.Lock()
	m, ok := f.byID[messageID]
	if ok {
		m.Archived = archived
	}
	f.mu.Unlock()
	if ok {
		f.notify()
	}
	return ok
}

// Messages returns a snapshot of the sequence in display order.
func (f *Feed) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Message, len(f.messages))
	for i, m := range f.messages {
		out[i] = *m
	}
	return out
}

// Get returns a snapshot of one message.
func (f *Feed) Get(messageID string) (domain.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byID[messageID]; ok {
		return *m, true
	}
	return domain.Message{}, false
}

func (f *Feed) notify() {
	if f.onChange != nil {
		f.onChange()
	}
}

func remove(list []*domain.Message, m *domain.Message) []*domain.Message {
	for i, cur := range list {
		if cur == m {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Receipt is the sender-side read state rendered next to own messages.
type Receipt int

const (
	ReceiptNone Receipt = iota // not an own message
	ReceiptSent                // single check: nobody beyond the sender
	ReceiptRead                // double check: at least one recipient read it
)

// ReceiptFor renders single/double check by presence, not per-recipient.
func ReceiptFor(m *domain.Message, selfID string) Receipt {
	if m.SenderID != selfID {
		return ReceiptNone
	}
	if len(m.ReadBy) > 1 {
		return ReceiptRead
	}
	return ReceiptSent
}

// ShowsHeader reports whether the message at index i starts a consecutive
// run from one sender and so carries the avatar and name label. Pure over
// the snapshot, recomputed every render.
func ShowsHeader(msgs []domain.Message, i int) bool {
	if i == 0 {
		return true
	}
	return msgs[i-1].SenderID != msgs[i].SenderID
}
