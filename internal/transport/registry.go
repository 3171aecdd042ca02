package transport

import (
	"log"
	"sync"

	"parley/pkg/protocol"
)

// Handler receives an inbound frame. Handlers decode the payload themselves
// so a malformed payload only affects the listeners that care about it.
type Handler func(env *protocol.Envelope)

// registry is the listener table behind Socket.On. Multiple handlers may
// share a key; a panicking handler never prevents the rest from running.
type registry struct {
	mu       sync.RWMutex
	handlers map[Key][]*listener
}

type listener struct {
	fn Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[Key][]*listener)}
}

// add registers a handler and returns its removal function.
func (r *registry) add(key Key, fn Handler) func() {
	l := &listener{fn: fn}

	r.mu.Lock()
	r.handlers[key] = append(r.handlers[key], l)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ls := r.handlers[key]
		for i, cur := range ls {
			if cur == l {
				r.handlers[key] = append(ls[:i], ls[i+1:]...)
				break
			}
		}
		if len(r.handlers[key]) == 0 {
			delete(r.handlers, key)
		}
	}
}

// dispatch invokes every handler registered for key with the frame.
func (r *registry) dispatch(key Key, env *protocol.Envelope) {
	r.mu.RLock()
	ls := make([]*listener, len(r.handlers[key]))
	copy(ls, r.handlers[key])
	r.mu.RUnlock()

	for _, l := range ls {
		invoke(l, key, env)
	}
}

func invoke(l *listener, key Key, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Transport] listener for %v panicked: %v", key, r)
		}
	}()
	l.fn(env)
}
