package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carelink/chat-client/internal/domain"
)

func TestSubscribersDispatchByType(t *testing.T) {
	subs := NewSubscribers()
	var news, edits int
	subs.Subscribe(domain.EventMessageNew, func(*domain.Event) { news++ })
	subs.Subscribe(domain.EventMessageEdited, func(*domain.Event) { edits++ })

	subs.Dispatch(&domain.Event{Type: domain.EventMessageNew})
	subs.Dispatch(&domain.Event{Type: domain.EventMessageNew})
	subs.Dispatch(&domain.Event{Type: domain.EventMessageEdited})
	subs.Dispatch(&domain.Event{Type: "unknown"})

	assert.Equal(t, 2, news)
	assert.Equal(t, 1, edits)
}

func TestSubscribersUnsubscribe(t *testing.T) {
	subs := NewSubscribers()
	var calls int
	unsub := subs.Subscribe(domain.EventTypingStart, func(*domain.Event) { calls++ })

	subs.Dispatch(&domain.Event{Type: domain.EventTypingStart})
	unsub()
	subs.Dispatch(&domain.Event{Type: domain.EventTypingStart})

	assert.Equal(t, 1, calls)
}

func TestSubscribersMultipleHandlers(t *testing.T) {
	subs := NewSubscribers()
	var a, b int
	subs.Subscribe(domain.EventMessageNew, func(*domain.Event) { a++ })
	subs.Subscribe(domain.EventMessageNew, func(*domain.Event) { b++ })

	subs.Dispatch(&domain.Event{Type: domain.EventMessageNew})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
