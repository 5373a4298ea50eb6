// Package authevents provides the process-wide "session tokens changed"
// signal. Delivery is synchronous and in-process: Publish returns only after
// every subscriber has run (or one of them failed). Events carry no payload;
// subscribers re-read the token store to learn the new state.
package authevents

import (
	"fmt"
	"sync"
)

// Handler reacts to an auth state change. Returning an error aborts
// delivery to the handlers subscribed after it.
type Handler func() error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans a zero-payload notification out to its subscribers in
// subscription order. The zero value is ready to use.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler and returns a function that removes it.
// The returned function may be called any number of times.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers one notification to every current subscriber. The
// subscriber list is snapshotted first, so handlers may subscribe or
// unsubscribe without deadlocking; such changes apply from the next Publish.
func (b *Bus) Publish() error {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for i, s := range snapshot {
		if err := s.handler(); err != nil {
			return fmt.Errorf("authevents: subscriber %d of %d: %w", i+1, len(snapshot), err)
		}
	}

	return nil
}

// Len reports the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
