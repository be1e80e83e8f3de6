// Package shell composes the conversation list, the active message feed and
// the realtime transport into one client session. All shared state lives
// here; components below receive snapshots and mutate through callbacks.
package shell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carelink/chat-client/internal/auth"
	"github.com/carelink/chat-client/internal/domain"
	"github.com/carelink/chat-client/internal/feed"
	"github.com/carelink/chat-client/internal/menu"
	"github.com/carelink/chat-client/internal/rest"
	"github.com/carelink/chat-client/internal/roster"
	"github.com/carelink/chat-client/internal/transport"
)

// Notifier surfaces non-blocking user-visible notices. Network failures end
// here instead of propagating up the component tree.
type Notifier interface {
	Notify(level, message string)
}

type logNotifier struct{ log *zap.SugaredLogger }

func (n logNotifier) Notify(level, message string) {
	if level == "error" {
		n.log.Errorw(message)
		return
	}
	n.log.Infow(message)
}

// API is the subset of the REST client the shell drives. Narrowed to an
// interface so tests can stub it.
type API interface {
	Conversations(ctx context.Context) (rooms, directs []domain.Conversation, err error)
	History(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error)
	PinMessage(ctx context.Context, conversationID, messageID string, pinned bool) error
	ArchiveMessage(ctx context.Context, conversationID, messageID string, archived bool) error
	PinConversation(ctx context.Context, conversationID string, pinned bool) error
	ArchiveConversation(ctx context.Context, conversationID string, archived bool) error
	ReportGroup(ctx context.Context, conversationID, reason string) error
	LeaveGroup(ctx context.Context, conversationID string) error
	DeleteGroup(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

var _ API = (*rest.Client)(nil)

type Options struct {
	TypingTTL        time.Duration
	TypingPerMinute  int
	HistoryPageSize  int
	SendRetryElapsed time.Duration
	// SendAckTimeout bounds how long a delivered send may wait for its
	// confirmation before the entry is marked failed.
	SendAckTimeout time.Duration
	Notifier       Notifier
	Confirmer      menu.Confirmer
	// OnRefresh fires after any change to the visible state of the active
	// conversation, including tail changes that scroll the view.
	OnRefresh func()
}

type typingEntry struct {
	signal domain.TypingSignal
	timer  *time.Timer
}

type Shell struct {
	self      auth.Identity
	transport transport.Transport
	api       API
	roster    *roster.Roster
	log       *zap.SugaredLogger
	opts      Options

	mu     sync.Mutex
	active *feed.Feed
	epoch  int // bumped on every open/close; stale async results compare against it
	typing map[string]*typingEntry

	typingLimiter *rate.Limiter
	unsubs        []func()
}

func New(self auth.Identity, tr transport.Transport, api API, log *zap.SugaredLogger, opts Options) *Shell {
	if opts.TypingTTL == 0 {
		opts.TypingTTL = 4 * time.Second
	}
	if opts.TypingPerMinute == 0 {
		opts.TypingPerMinute = 20
	}
	if opts.HistoryPageSize == 0 {
		opts.HistoryPageSize = 50
	}
	if opts.SendRetryElapsed == 0 {
		opts.SendRetryElapsed = 10 * time.Second
	}
	if opts.SendAckTimeout == 0 {
		opts.SendAckTimeout = 15 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{log: log}
	}
	if opts.Confirmer == nil {
		// Without a confirmation surface, destructive actions never fire.
		opts.Confirmer = menu.ConfirmerFunc(func(context.Context, string) (bool, error) {
			return false, nil
		})
	}
	s := &Shell{
		self:          self,
		transport:     tr,
		api:           api,
		roster:        roster.New(self.UserID, log),
		log:           log,
		opts:          opts,
		typing:        make(map[string]*typingEntry),
		typingLimiter: rate.NewLimiter(rate.Limit(float64(opts.TypingPerMinute)/60.0), 1),
	}
	for _, eventType := range []string{
		domain.EventMessageNew,
		domain.EventMessageEdited,
		domain.EventMessageDeleted,
		domain.EventMessageReacted,
		domain.EventMessageRead,
		domain.EventTypingStart,
		domain.EventTypingStop,
	} {
		s.unsubs = append(s.unsubs, tr.Subscribe(eventType, s.handleEvent))
	}
	return s
}

// LoadConversations fetches the roster.
func (s *Shell) LoadConversations(ctx context.Context) error {
	rooms, directs, err := s.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	s.roster.SetConversations(rooms, directs)
	s.refresh()
	return nil
}

// Conversations derives the displayed list for a search query.
func (s *Shell) Conversations(query string) []roster.View {
	return s.roster.List(query)
}

func (s *Shell) Roster() *roster.Roster { return s.roster }

// Open switches the active conversation. The previous feed is discarded,
// its typing timers detached, and the history fetch runs asynchronously:
// a response arriving after another switch is dropped.
func (s *Shell) Open(ctx context.Context, conversationID string) *feed.Feed {
	s.mu.Lock()
	s.epoch++
	myEpoch := s.epoch
	s.clearTypingLocked()
	f := feed.New(conversationID, s.self.UserID, s.log, s.refresh)
	s.active = f
	s.mu.Unlock()

	s.roster.MarkRead(conversationID)

	go func() {
		history, err := s.api.History(ctx, conversationID, time.Time{}, s.opts.HistoryPageSize)
		if err != nil {
			s.log.Warnw("history fetch failed", "conversation_id", conversationID, "err", err)
			s.opts.Notifier.Notify("error", "could not load messages")
			return
		}
		s.mu.Lock()
		stale := s.epoch != myEpoch
		s.mu.Unlock()
		if stale {
			s.log.Debugw("dropping stale history", "conversation_id", conversationID)
			return
		}
		f.LoadHistory(history)
	}()
	return f
}

// Close leaves no active conversation. In-flight results for it become
// stale and are ignored when they land.
func (s *Shell) Close() {
	s.mu.Lock()
	s.epoch++
	s.active = nil
	s.clearTypingLocked()
	s.mu.Unlock()
}

// ActiveFeed returns the feed for the open conversation, or nil.
func (s *Shell) ActiveFeed() *feed.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Shell) handleEvent(ev *domain.Event) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	switch ev.Type {
	case domain.EventMessageNew:
		var p domain.MessageNewPayload
		if err := ev.Decode(&p); err != nil {
			s.log.Warnw("bad message:new payload", "err", err)
			return
		}
		isActive := active != nil && active.ConversationID() == ev.ConversationID
		msg := p.Message
		s.roster.Bump(&msg, isActive)
		if isActive {
			s.dropTyping(p.Message.SenderID)
			active.ApplyEvent(ev)
		}
		s.refresh()

	case domain.EventTypingStart:
		s.applyTyping(ev, true)

	case domain.EventTypingStop:
		s.applyTyping(ev, false)

	default:
		if active != nil && active.ConversationID() == ev.ConversationID {
			active.ApplyEvent(ev)
		}
	}
}

func (s *Shell) applyTyping(ev *domain.Event, start bool) {
	var p domain.TypingPayload
	if err := ev.Decode(&p); err != nil {
		return
	}
	if p.UserID == s.self.UserID {
		return
	}

	s.mu.Lock()
	if s.active == nil || s.active.ConversationID() != ev.ConversationID {
		s.mu.Unlock()
		return
	}
	if !start {
		s.removeTypingLocked(p.UserID)
		s.mu.Unlock()
		s.refresh()
		return
	}

	if entry, ok := s.typing[p.UserID]; ok {
		entry.timer.Reset(s.opts.TypingTTL)
		s.mu.Unlock()
		return
	}
	myEpoch := s.epoch
	entry := &typingEntry{
		signal: domain.TypingSignal{
			ConversationID: ev.ConversationID,
			UserID:         p.UserID,
			Username:       p.Username,
		},
	}
	entry.timer = time.AfterFunc(s.opts.TypingTTL, func() {
		s.mu.Lock()
		// The conversation may have changed since the timer was set.
		if s.epoch == myEpoch {
			delete(s.typing, p.UserID)
		}
		s.mu.Unlock()
		s.refresh()
	})
	s.typing[p.UserID] = entry
	s.mu.Unlock()
	s.refresh()
}

// TypingUsers lists who is currently composing in the active conversation.
func (s *Shell) TypingUsers() []domain.TypingSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TypingSignal, 0, len(s.typing))
	for _, e := range s.typing {
		out = append(out, e.signal)
	}
	return out
}

func (s *Shell) dropTyping(userID string) {
	s.mu.Lock()
	s.removeTypingLocked(userID)
	s.mu.Unlock()
}

func (s *Shell) removeTypingLocked(userID string) {
	if entry, ok := s.typing[userID]; ok {
		entry.timer.Stop()
		delete(s.typing, userID)
	}
}

func (s *Shell) clearTypingLocked() {
	for userID, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, userID)
	}
}

// Send appends an optimistic entry and emits message:send with its
// correlation token. Delivery to the channel is retried with backoff; once
// the budget is spent, or no confirmation arrives within the ack deadline,
// the entry flips to failed and a retry affordance is surfaced.
func (s *Shell) Send(ctx context.Context, content string, attachments []domain.Attachment, replyToID string) (domain.Message, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return domain.Message{}, fmt.Errorf("no active conversation")
	}

	draft := active.AppendOptimistic(content, attachments, replyToID)
	s.stopTypingSignal(ctx, active.ConversationID())
	s.deliver(ctx, active, draft)
	return draft, nil
}

// Resend retries a failed optimistic entry under its original token.
func (s *Shell) Resend(ctx context.Context, token string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active conversation")
	}
	draft, ok := active.Retry(token)
	if !ok {
		return fmt.Errorf("no failed message for token")
	}
	s.deliver(ctx, active, draft)
	return nil
}

// Discard drops a failed optimistic entry.
func (s *Shell) Discard(token string) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.Discard(token)
	}
}

func (s *Shell) deliver(ctx context.Context, f *feed.Feed, draft domain.Message) {
	ev, err := domain.NewEvent(domain.EventMessageSend, f.ConversationID(), domain.MessageSendPayload{
		Content:     draft.Content,
		Attachments: draft.Attachments,
		ReplyToID:   draft.ReplyToID,
		ClientToken: draft.ClientToken,
	})
	if err != nil {
		f.MarkFailed(draft.ClientToken)
		return
	}
	go func() {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = s.opts.SendRetryElapsed
		err := backoff.Retry(func() error {
			return s.transport.Send(ctx, ev)
		}, backoff.WithContext(b, ctx))
		if err != nil {
			s.log.Warnw("send failed", "token", draft.ClientToken, "err", err)
			f.MarkFailed(draft.ClientToken)
			s.opts.Notifier.Notify("error", "message could not be sent")
			return
		}
		// A nil Send only means the transport accepted the event; the write
		// can still be lost on a broken connection. If no confirmation lands
		// before the deadline the entry fails like any other send.
		time.AfterFunc(s.opts.SendAckTimeout, func() {
			if f.MarkFailed(draft.ClientToken) {
				s.log.Warnw("send not acknowledged", "token", draft.ClientToken)
				s.opts.Notifier.Notify("error", "message could not be sent")
			}
		})
	}()
}

// EditMessage emits message:edit for an own, non-deleted message.
func (s *Shell) EditMessage(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active conversation")
	}
	m, ok := active.Get(messageID)
	if !ok || !menu.ForMessage(&m, s.self.UserID, true).Edit {
		return fmt.Errorf("message not editable")
	}
	ev, err := domain.NewEvent(domain.EventMessageEdit, active.ConversationID(), domain.MessageEditPayload{
		MessageID: messageID,
		Content:   content,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, ev)
}

// DeleteMessage emits message:delete. The tombstone is applied when the
// server echoes message:deleted; deletion is not optimistic.
func (s *Shell) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active conversation")
	}
	ev, err := domain.NewEvent(domain.EventMessageDelete, active.ConversationID(), domain.MessageDeletePayload{
		MessageID: messageID,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, ev)
}

// React emits message:react; the reaction lands when the server echoes it.
func (s *Shell) React(ctx context.Context, messageID, emoji string, added bool) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active conversation")
	}
	if m, ok := active.Get(messageID); !ok || !menu.CanReact(&m) {
		return fmt.Errorf("message not reactable")
	}
	ev, err := domain.NewEvent(domain.EventMessageReact, active.ConversationID(), domain.MessageReactPayload{
		MessageID: messageID,
		Emoji:     emoji,
		Added:     added,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, ev)
}

// MarkRead reports the newest visible message as read.
func (s *Shell) MarkRead(ctx context.Context, messageID string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return nil
	}
	ev, err := domain.NewEvent(domain.EventMessageRead, active.ConversationID(), domain.MessageReadPayload{
		MessageID: messageID,
		UserID:    s.self.UserID,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, ev)
}

// Typing emits typing:start, throttled so held-down keys do not flood the
// channel.
func (s *Shell) Typing(ctx context.Context) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil || !s.typingLimiter.Allow() {
		return
	}
	ev, err := domain.NewEvent(domain.EventTypingStart, active.ConversationID(), domain.TypingPayload{
		UserID:   s.self.UserID,
		Username: s.self.Username,
	})
	if err != nil {
		return
	}
	if err := s.transport.Send(ctx, ev); err != nil {
		s.log.Debugw("typing signal dropped", "err", err)
	}
}

func (s *Shell) stopTypingSignal(ctx context.Context, conversationID string) {
	ev, err := domain.NewEvent(domain.EventTypingStop, conversationID, domain.TypingPayload{
		UserID:   s.self.UserID,
		Username: s.self.Username,
	})
	if err != nil {
		return
	}
	_ = s.transport.Send(ctx, ev)
}

// PinMessage drives the REST call and applies the flag locally on success.
func (s *Shell) PinMessage(ctx context.Context, messageID string, pinned bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return
	}
	if err := s.api.PinMessage(ctx, active.ConversationID(), messageID, pinned); err != nil {
		s.notifyActionError("pin message", err)
		return
	}
	active.SetPinned(messageID, pinned)
}

// ArchiveMessage mirrors PinMessage for the archive flag.
func (s *Shell) ArchiveMessage(ctx context.Context, messageID string, archived bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return
	}
	if err := s.api.ArchiveMessage(ctx, active.ConversationID(), messageID, archived); err != nil {
		s.notifyActionError("archive message", err)
		return
	}
	active.SetArchived(messageID, archived)
}

func (s *Shell) PinConversation(ctx context.Context, conversationID string, pinned bool) {
	if err := s.api.PinConversation(ctx, conversationID, pinned); err != nil {
		s.notifyActionError("pin conversation", err)
		return
	}
	s.roster.SetPinned(conversationID, pinned)
	s.refresh()
}

func (s *Shell) ArchiveConversation(ctx context.Context, conversationID string, archived bool) {
	if err := s.api.ArchiveConversation(ctx, conversationID, archived); err != nil {
		s.notifyActionError("archive conversation", err)
		return
	}
	s.roster.SetArchived(conversationID, archived)
	s.refresh()
}

// ReportGroup is server-gated; no local state changes on success.
func (s *Shell) ReportGroup(ctx context.Context, conversationID, reason string) {
	if err := s.api.ReportGroup(ctx, conversationID, reason); err != nil {
		s.notifyActionError("report group", err)
	}
}

// LeaveGroup is destructive: it needs explicit confirmation and is never
// optimistic. Local state changes only after the server accepted.
func (s *Shell) LeaveGroup(ctx context.Context, conversationID string) error {
	fired, err := menu.FireDestructive(ctx, s.opts.Confirmer, "Leave this group?", func(ctx context.Context) error {
		return s.api.LeaveGroup(ctx, conversationID)
	})
	if err != nil {
		s.notifyActionError("leave group", err)
		return err
	}
	if fired {
		s.removeConversation(conversationID)
	}
	return nil
}

func (s *Shell) DeleteGroup(ctx context.Context, conversationID string) error {
	fired, err := menu.FireDestructive(ctx, s.opts.Confirmer, "Delete this group for everyone?", func(ctx context.Context) error {
		return s.api.DeleteGroup(ctx, conversationID)
	})
	if err != nil {
		s.notifyActionError("delete group", err)
		return err
	}
	if fired {
		s.removeConversation(conversationID)
	}
	return nil
}

func (s *Shell) DeleteConversation(ctx context.Context, conversationID string) error {
	fired, err := menu.FireDestructive(ctx, s.opts.Confirmer, "Delete this conversation?", func(ctx context.Context) error {
		return s.api.DeleteConversation(ctx, conversationID)
	})
	if err != nil {
		s.notifyActionError("delete conversation", err)
		return err
	}
	if fired {
		s.removeConversation(conversationID)
	}
	return nil
}

func (s *Shell) removeConversation(conversationID string) {
	s.roster.Remove(conversationID)
	s.mu.Lock()
	if s.active != nil && s.active.ConversationID() == conversationID {
		s.epoch++
		s.active = nil
		s.clearTypingLocked()
	}
	s.mu.Unlock()
	s.refresh()
}

// HeaderMenu builds the header action list for a conversation.
func (s *Shell) HeaderMenu(conversationID string) []menu.HeaderEntry {
	c := s.roster.Get(conversationID)
	if c == nil {
		return nil
	}
	return menu.ForConversation(c, s.self.UserID)
}

// MessageMenu builds the per-message action set.
func (s *Shell) MessageMenu(messageID string) (menu.MessageActions, bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return menu.MessageActions{}, false
	}
	m, ok := active.Get(messageID)
	if !ok {
		return menu.MessageActions{}, false
	}
	return menu.ForMessage(&m, s.self.UserID, true), true
}

func (s *Shell) notifyActionError(action string, err error) {
	s.log.Warnw(action+" failed", "err", err)
	s.opts.Notifier.Notify("error", action+" failed")
}

func (s *Shell) refresh() {
	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh()
	}
}

// Shutdown detaches the shell from the transport.
func (s *Shell) Shutdown() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.Close()
}
