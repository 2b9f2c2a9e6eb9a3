// Package notify carries in-process checkpoints between the inquiry
// controllers: status changes, thread closes, and newly created inquiries.
package notify

import (
	"slices"
	"sync"

	"github.com/service0427/slot-inquiry/internal/model"
)

// Kind identifies a checkpoint.
type Kind string

const (
	// StatusChanged fires after a status transition was accepted by the backend.
	StatusChanged Kind = "status_changed"
	// ThreadClosed fires when a viewer dismisses an open thread.
	ThreadClosed Kind = "thread_closed"
	// InquiryCreated fires after a new inquiry was created from a thread.
	InquiryCreated Kind = "inquiry_created"
)

// Event is delivered to every subscriber.
type Event struct {
	Kind      Kind
	InquiryID string
	// ViewerID is the user whose controller produced the event.
	ViewerID string
	Status   model.Status
	Inquiry  *model.Inquiry
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block; anything slow belongs on its own goroutine.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is not usable; a nil
// *Bus silently drops everything.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function removing it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	if b == nil || h == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every current subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	handlers := make(map[int]Handler, len(b.subs))
	for id, h := range b.subs {
		ids = append(ids, id)
		handlers[id] = h
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](e)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
