package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carelink/chat-client/internal/auth"
	"github.com/carelink/chat-client/internal/domain"
	"github.com/carelink/chat-client/internal/menu"
	"github.com/carelink/chat-client/internal/transport"
)

var self = auth.Identity{UserID: "u1", Username: "me"}

// fakeTransport loops outbound events into a log and lets tests push
// inbound events through the subscriber registry.
type fakeTransport struct {
	subs *transport.Subscribers

	mu   sync.Mutex
	sent []*domain.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: transport.NewSubscribers()}
}

func (t *fakeTransport) Send(_ context.Context, ev *domain.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, ev)
	return nil
}

func (t *fakeTransport) Subscribe(eventType string, h transport.Handler) func() {
	return t.subs.Subscribe(eventType, h)
}

func (t *fakeTransport) push(ev *domain.Event) { t.subs.Dispatch(ev) }

func (t *fakeTransport) sentTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, ev := range t.sent {
		out[i] = ev.Type
	}
	return out
}

// stubAPI drives the shell without a server. historyDelay simulates a slow
// fetch for the stale-response test.
type stubAPI struct {
	mu           sync.Mutex
	rooms        []domain.Conversation
	directs      []domain.Conversation
	history      map[string][]domain.Message
	historyDelay time.Duration
	calls        []string
	fail         error
}

func (a *stubAPI) record(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
}

func (a *stubAPI) called(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (a *stubAPI) Conversations(context.Context) ([]domain.Conversation, []domain.Conversation, error) {
	a.record("conversations")
	return a.rooms, a.directs, a.fail
}

func (a *stubAPI) History(_ context.Context, id string, _ time.Time, _ int) ([]domain.Message, error) {
	a.record("history:" + id)
	if a.historyDelay > 0 {
		time.Sleep(a.historyDelay)
	}
	return a.history[id], a.fail
}

func (a *stubAPI) PinMessage(_ context.Context, _, _ string, _ bool) error {
	a.record("pin-message")
	return a.fail
}

func (a *stubAPI) ArchiveMessage(_ context.Context, _, _ string, _ bool) error {
	a.record("archive-message")
	return a.fail
}

func (a *stubAPI) PinConversation(_ context.Context, _ string, _ bool) error {
	a.record("pin-conversation")
	return a.fail
}

func (a *stubAPI) ArchiveConversation(_ context.Context, _ string, _ bool) error {
	a.record("archive-conversation")
	return a.fail
}

func (a *stubAPI) ReportGroup(_ context.Context, _, _ string) error {
	a.record("report")
	return a.fail
}

func (a *stubAPI) LeaveGroup(_ context.Context, _ string) error {
	a.record("leave")
	return a.fail
}

func (a *stubAPI) DeleteGroup(_ context.Context, _ string) error {
	a.record("delete-group")
	return a.fail
}

func (a *stubAPI) DeleteConversation(_ context.Context, _ string) error {
	a.record("delete-conversation")
	return a.fail
}

func room(id string) domain.Conversation {
	return domain.Conversation{ID: id, Kind: domain.KindRoom, Name: id, Members: []string{self.UserID}}
}

func newShell(t *testing.T, tr *fakeTransport, api *stubAPI, opts Options) *Shell {
	t.Helper()
	s := New(self, tr, api, zap.NewNop().Sugar(), opts)
	t.Cleanup(s.Shutdown)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestOpenLoadsHistory(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{history: map[string][]domain.Message{
		"r1": {{ID: "m1", ConversationID: "r1", SenderID: "u2", Content: "hi"}},
	}}
	s := newShell(t, tr, api, Options{})

	f := s.Open(context.Background(), "r1")
	waitFor(t, func() bool { return len(f.Messages()) == 1 })
	assert.Equal(t, "m1", f.Messages()[0].ID)
}

func TestStaleHistoryDropped(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{
		history: map[string][]domain.Message{
			"r1": {{ID: "old", ConversationID: "r1", SenderID: "u2"}},
			"r2": {{ID: "new", ConversationID: "r2", SenderID: "u2"}},
		},
		historyDelay: 50 * time.Millisecond,
	}
	s := newShell(t, tr, api, Options{})

	first := s.Open(context.Background(), "r1")
	second := s.Open(context.Background(), "r2") // switch before r1's fetch lands

	waitFor(t, func() bool { return len(second.Messages()) == 1 })
	time.Sleep(80 * time.Millisecond) // let the stale r1 response arrive
	assert.Empty(t, first.Messages(), "stale history must be dropped")
}

func TestSendEmitsEventWithToken(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{})
	f := s.Open(context.Background(), "r1")

	draft, err := s.Send(context.Background(), "hello", nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, draft.ClientToken)
	assert.Equal(t, domain.StatusPending, f.Messages()[0].Status)

	waitFor(t, func() bool {
		for _, ev := range tr.sentTypes() {
			if ev == domain.EventMessageSend {
				return true
			}
		}
		return false
	})

	tr.mu.Lock()
	var sendEv *domain.Event
	for _, ev := range tr.sent {
		if ev.Type == domain.EventMessageSend {
			sendEv = ev
		}
	}
	tr.mu.Unlock()
	require.NotNil(t, sendEv)
	var p domain.MessageSendPayload
	require.NoError(t, sendEv.Decode(&p))
	assert.Equal(t, draft.ClientToken, p.ClientToken)

	// Server confirmation reconciles the pending entry.
	conf, err := domain.NewEvent(domain.EventMessageNew, "r1", domain.MessageNewPayload{
		Message: domain.Message{
			ID: "srv-1", ConversationID: "r1", SenderID: self.UserID,
			Content: "hello", CreatedAt: time.Now().UTC(),
		},
		ClientToken: draft.ClientToken,
	})
	require.NoError(t, err)
	tr.push(conf)

	msgs := f.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, domain.StatusConfirmed, msgs[0].Status)
}

func TestUnacknowledgedSendFails(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{SendAckTimeout: 30 * time.Millisecond})
	f := s.Open(context.Background(), "r1")

	// The transport accepts the event but no confirmation ever arrives,
	// as happens when the write is lost on a broken connection.
	draft, err := s.Send(context.Background(), "hello", nil, "")
	require.NoError(t, err)

	waitFor(t, func() bool {
		msgs := f.Messages()
		return len(msgs) == 1 && msgs[0].Status == domain.StatusFailed
	})

	// The failed entry is retryable under the same token.
	require.NoError(t, s.Resend(context.Background(), draft.ClientToken))
	assert.Equal(t, domain.StatusPending, f.Messages()[0].Status)
}

func TestAckDeadlineLeavesConfirmedSendAlone(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{SendAckTimeout: 30 * time.Millisecond})
	f := s.Open(context.Background(), "r1")

	draft, err := s.Send(context.Background(), "hello", nil, "")
	require.NoError(t, err)

	conf, err := domain.NewEvent(domain.EventMessageNew, "r1", domain.MessageNewPayload{
		Message: domain.Message{
			ID: "srv-1", ConversationID: "r1", SenderID: self.UserID,
			Content: "hello", CreatedAt: time.Now().UTC(),
		},
		ClientToken: draft.ClientToken,
	})
	require.NoError(t, err)
	tr.push(conf)

	time.Sleep(60 * time.Millisecond) // past the ack deadline
	msgs := f.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusConfirmed, msgs[0].Status)
}

func TestInactiveConversationBumpsRoster(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{rooms: []domain.Conversation{room("r1"), room("r2")}}
	s := newShell(t, tr, api, Options{})
	require.NoError(t, s.LoadConversations(context.Background()))
	f := s.Open(context.Background(), "r1")

	ev, err := domain.NewEvent(domain.EventMessageNew, "r2", domain.MessageNewPayload{
		Message: domain.Message{
			ID: "m9", ConversationID: "r2", SenderID: "u2", CreatedAt: time.Now().UTC(),
		},
	})
	require.NoError(t, err)
	tr.push(ev)

	assert.Empty(t, f.Messages(), "event for another conversation stays out of the feed")
	list := s.Conversations("")
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID, "new activity moves the conversation up")
	assert.Equal(t, 1, list[0].Unread)
}

func TestTypingSignalExpires(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{TypingTTL: 40 * time.Millisecond})
	s.Open(context.Background(), "r1")

	ev, err := domain.NewEvent(domain.EventTypingStart, "r1", domain.TypingPayload{
		UserID: "u2", Username: "bob",
	})
	require.NoError(t, err)
	tr.push(ev)

	require.Len(t, s.TypingUsers(), 1)
	assert.Equal(t, "bob", s.TypingUsers()[0].Username)

	waitFor(t, func() bool { return len(s.TypingUsers()) == 0 })
}

func TestTypingClearedOnConversationSwitch(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{TypingTTL: time.Minute})
	s.Open(context.Background(), "r1")

	ev, err := domain.NewEvent(domain.EventTypingStart, "r1", domain.TypingPayload{
		UserID: "u2", Username: "bob",
	})
	require.NoError(t, err)
	tr.push(ev)
	require.Len(t, s.TypingUsers(), 1)

	s.Open(context.Background(), "r2")
	assert.Empty(t, s.TypingUsers(), "indicators must not leak into the next conversation")
}

func TestTypingStopsOnMessage(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{rooms: []domain.Conversation{room("r1")}}
	s := newShell(t, tr, api, Options{TypingTTL: time.Minute})
	require.NoError(t, s.LoadConversations(context.Background()))
	s.Open(context.Background(), "r1")

	start, _ := domain.NewEvent(domain.EventTypingStart, "r1", domain.TypingPayload{UserID: "u2", Username: "bob"})
	tr.push(start)
	require.Len(t, s.TypingUsers(), 1)

	msg, _ := domain.NewEvent(domain.EventMessageNew, "r1", domain.MessageNewPayload{
		Message: domain.Message{ID: "m1", ConversationID: "r1", SenderID: "u2", CreatedAt: time.Now().UTC()},
	})
	tr.push(msg)
	assert.Empty(t, s.TypingUsers())
}

func TestDestructiveDeclinedDoesNotCallAPI(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{rooms: []domain.Conversation{room("r1")}}
	decline := menu.ConfirmerFunc(func(context.Context, string) (bool, error) { return false, nil })
	s := newShell(t, tr, api, Options{Confirmer: decline})
	require.NoError(t, s.LoadConversations(context.Background()))

	require.NoError(t, s.LeaveGroup(context.Background(), "r1"))
	require.NoError(t, s.DeleteGroup(context.Background(), "r1"))
	require.NoError(t, s.DeleteConversation(context.Background(), "r1"))

	assert.False(t, api.called("leave"))
	assert.False(t, api.called("delete-group"))
	assert.False(t, api.called("delete-conversation"))
	assert.Len(t, s.Conversations(""), 1, "declined action leaves local state alone")
}

func TestDestructiveConfirmedRemovesConversation(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{rooms: []domain.Conversation{room("r1")}}
	accept := menu.ConfirmerFunc(func(context.Context, string) (bool, error) { return true, nil })
	s := newShell(t, tr, api, Options{Confirmer: accept})
	require.NoError(t, s.LoadConversations(context.Background()))
	s.Open(context.Background(), "r1")

	require.NoError(t, s.LeaveGroup(context.Background(), "r1"))
	assert.True(t, api.called("leave"))
	assert.Empty(t, s.Conversations(""))
	assert.Nil(t, s.ActiveFeed(), "leaving the open conversation closes it")
}

func TestAuthorizationDeniedKeepsLocalState(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{rooms: []domain.Conversation{room("r1")}}
	accept := menu.ConfirmerFunc(func(context.Context, string) (bool, error) { return true, nil })

	var notices []string
	s := newShell(t, tr, api, Options{
		Confirmer: accept,
		Notifier: notifierFunc(func(level, msg string) {
			notices = append(notices, level+": "+msg)
		}),
	})
	require.NoError(t, s.LoadConversations(context.Background()))

	api.mu.Lock()
	api.fail = assert.AnError
	api.mu.Unlock()

	err := s.DeleteGroup(context.Background(), "r1")
	require.Error(t, err)
	assert.Len(t, s.Conversations(""), 1, "rejected destructive action must not mutate local state")
	assert.NotEmpty(t, notices)
}

type notifierFunc func(level, message string)

func (f notifierFunc) Notify(level, message string) { f(level, message) }

func TestTypingOutboundThrottled(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{}
	s := newShell(t, tr, api, Options{TypingPerMinute: 60}) // 1/s, burst 1
	s.Open(context.Background(), "r1")

	for i := 0; i < 5; i++ {
		s.Typing(context.Background())
	}
	count := 0
	for _, typ := range tr.sentTypes() {
		if typ == domain.EventTypingStart {
			count++
		}
	}
	assert.Equal(t, 1, count, "burst of keystrokes collapses to one signal")
}

func TestMessageMenuGates(t *testing.T) {
	tr := newFakeTransport()
	api := &stubAPI{history: map[string][]domain.Message{
		"r1": {{ID: "m1", ConversationID: "r1", SenderID: "u2", Content: "yo"}},
	}}
	s := newShell(t, tr, api, Options{})
	f := s.Open(context.Background(), "r1")
	waitFor(t, func() bool { return len(f.Messages()) == 1 })

	actions, ok := s.MessageMenu("m1")
	require.True(t, ok)
	assert.True(t, actions.Translate)
	assert.False(t, actions.Edit)
}

func TestHeaderMenuVariants(t *testing.T) {
	tr := newFakeTransport()
	r := room("r1")
	r.CanLeave = true
	api := &stubAPI{rooms: []domain.Conversation{r}}
	s := newShell(t, tr, api, Options{})
	require.NoError(t, s.LoadConversations(context.Background()))

	entries := s.HeaderMenu("r1")
	found := false
	for _, e := range entries {
		if e.Item == menu.ItemLeaveGroup {
			found = true
			assert.True(t, e.Destructive)
		}
	}
	assert.True(t, found)
	assert.Nil(t, s.HeaderMenu("missing"))
}
