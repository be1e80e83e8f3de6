// Package menu computes which actions are offered for a message or a
// conversation. Gates are independent booleans; authorization beyond them is
// the backend's problem.
package menu

import (
	"context"

	"github.com/carelink/chat-client/internal/domain"
)

// MessageActions is the per-message contextual action set.
type MessageActions struct {
	Copy           bool
	Reply          bool
	Edit           bool
	Delete         bool
	Pin            bool
	Unpin          bool
	Archive        bool
	Unarchive      bool
	Translate      bool
	SuggestReplies bool
}

// ForMessage evaluates every gate for one message. hasDeleteHandler mirrors
// whether the embedding surface wired a delete callback at all.
func ForMessage(m *domain.Message, selfID string, hasDeleteHandler bool) MessageActions {
	deleted := m.Deleted()
	own := m.IsOwn(selfID)
	return MessageActions{
		Copy:           m.Content != "",
		Reply:          !deleted,
		Edit:           own && !deleted,
		Delete:         hasDeleteHandler,
		Pin:            !deleted && !m.Pinned,
		Unpin:          !deleted && m.Pinned,
		Archive:        !m.Archived,
		Unarchive:      m.Archived,
		Translate:      !own && !deleted,
		SuggestReplies: !own && !deleted,
	}
}

// CanReact is gated the same way as reply: never on a tombstone.
func CanReact(m *domain.Message) bool { return !m.Deleted() }

// HeaderItem identifies one entry of the conversation header menu.
type HeaderItem string

const (
	ItemSearch          HeaderItem = "search"
	ItemTranslateToggle HeaderItem = "translate-toggle"
	ItemPin             HeaderItem = "pin"
	ItemUnpin           HeaderItem = "unpin"
	ItemArchive         HeaderItem = "archive"
	ItemUnarchive       HeaderItem = "unarchive"
	ItemViewProfile     HeaderItem = "view-profile"
	ItemSettings        HeaderItem = "settings"
	ItemSummarize       HeaderItem = "summarize"
	ItemJoinRequests    HeaderItem = "join-requests"
	ItemReportGroup     HeaderItem = "report-group"
	ItemLeaveGroup      HeaderItem = "leave-group"
	ItemDeleteGroup     HeaderItem = "delete-group"
	ItemDeleteChat      HeaderItem = "delete-conversation"
)

// HeaderEntry couples an item with its render hints.
type HeaderEntry struct {
	Item        HeaderItem
	Destructive bool // must pass a confirmation prompt before firing
	Badge       int  // pending join requests, when applicable
}

// ForConversation builds the header menu for the conversation variant. Room
// and private conversations get structurally different item sets.
func ForConversation(c *domain.Conversation, selfID string) []HeaderEntry {
	items := []HeaderEntry{
		{Item: ItemSearch},
		{Item: ItemTranslateToggle},
	}
	if c.PinnedFor(selfID) {
		items = append(items, HeaderEntry{Item: ItemUnpin})
	} else {
		items = append(items, HeaderEntry{Item: ItemPin})
	}
	if c.ArchivedFor(selfID) {
		items = append(items, HeaderEntry{Item: ItemUnarchive})
	} else {
		items = append(items, HeaderEntry{Item: ItemArchive})
	}
	items = append(items, HeaderEntry{Item: ItemViewProfile}, HeaderEntry{Item: ItemSettings})

	switch c.Kind {
	case domain.KindRoom:
		items = append(items, HeaderEntry{Item: ItemSummarize})
		if c.RequiresApproval && c.PendingRequests > 0 {
			items = append(items, HeaderEntry{Item: ItemJoinRequests, Badge: c.PendingRequests})
		}
		if c.CanReport {
			items = append(items, HeaderEntry{Item: ItemReportGroup})
		}
		if c.CanLeave {
			items = append(items, HeaderEntry{Item: ItemLeaveGroup, Destructive: true})
		}
		if c.CanDelete {
			items = append(items, HeaderEntry{Item: ItemDeleteGroup, Destructive: true})
		}
	case domain.KindDirect:
		items = append(items, HeaderEntry{Item: ItemDeleteChat, Destructive: true})
	}
	return items
}

// Confirmer asks the user to confirm a destructive action. Implementations
// must not block the event loop; a modal returning through a callback or an
// awaitable both satisfy this.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// FireDestructive runs action only after an explicit confirmation. Reports
// whether the action fired. A declined prompt is not an error.
func FireDestructive(ctx context.Context, c Confirmer, prompt string, action func(context.Context) error) (bool, error) {
	ok, err := c.Confirm(ctx, prompt)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := action(ctx); err != nil {
		return true, err
	}
	return true, nil
}
