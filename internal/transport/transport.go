// Package transport carries realtime events between the client runtime and
// the chat backend. The shell talks to the Transport interface only, so the
// channel is injectable and mockable.
package transport

import (
	"context"
	"sync"

	"github.com/carelink/chat-client/internal/domain"
)

type Handler func(*domain.Event)

type Transport interface {
	// Send emits an outbound event. It returns once the event is handed
	// to the channel, not once the server processed it.
	Send(ctx context.Context, ev *domain.Event) error
	// Subscribe registers a handler for one event type. The returned
	// function removes the subscription.
	Subscribe(eventType string, h Handler) (unsubscribe func())
}

// Subscribers is the per-event-type handler registry shared by transport
// implementations.
type Subscribers struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewSubscribers() *Subscribers {
	return &Subscribers{subs: make(map[string]map[int]Handler)}
}

func (s *Subscribers) Subscribe(eventType string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[eventType]; !ok {
		s.subs[eventType] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.subs[eventType][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[eventType], id)
	}
}

// Dispatch fans an inbound event out to its type's handlers.
func (s *Subscribers) Dispatch(ev *domain.Event) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.subs[ev.Type]))
	for _, h := range s.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
