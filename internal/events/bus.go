package events

import (
	"log"
	"sync"
)

// Handler receives the arguments passed to Publish.
type Handler func(args ...interface{})

// Event names published by the core. Consumers may also publish their own
// ad-hoc names; the bus does not validate them.
const (
	ChatUpdated        = "chat_updated"
	ChatTitleUpdated   = "chat_title_updated"
	ChatListChanged    = "chat_list_changed"
	ContextWarning     = "chat:context_warning"
	PerformanceWarning = "chat:performance_warning"
	ConnectionLost     = "connection:lost"
	ConnectionRestored = "connection:restored"
	ConnectionGaveUp   = "connection:gave_up"
)

// Bus is an in-process publish/subscribe registry used to fan out events to
// interested components without direct coupling. Delivery is synchronous and
// in subscription order; a panic in one subscriber is recovered and logged
// and never reaches other subscribers or the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

type subscription struct {
	fn Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]*subscription),
	}
}

// Subscribe registers a handler for an event name and returns a cancel
// function that removes exactly this registration.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	sub := &subscription{fn: fn}

	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[name]
		for i, s := range subs {
			if s == sub {
				b.handlers[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[name]) == 0 {
			delete(b.handlers, name)
		}
	}
}

// Publish delivers args to every current subscriber of name, synchronously.
func (b *Bus) Publish(name string, args ...interface{}) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.handlers[name]))
	copy(subs, b.handlers[name])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(name, sub, args)
	}
}

// deliver invokes one subscriber, isolating panics so the remaining
// subscribers still run.
func (b *Bus) deliver(name string, sub *subscription, args []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Events] subscriber for %q panicked: %v", name, r)
		}
	}()
	sub.fn(args...)
}

// UnsubscribeAll removes every registration for the given names, or every
// registration on the bus when called with no arguments. Intended for test
// and teardown boundaries only.
func (b *Bus) UnsubscribeAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.handlers = make(map[string][]*subscription)
		return
	}
	for _, name := range names {
		delete(b.handlers, name)
	}
}

// SubscriberCount returns the number of active registrations for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
