package chatlog

import "sync"

// observerHub fans committed events out to registered observers. Shared by
// both store implementations so they expose identical Observe semantics.
type observerHub struct {
	mu        sync.RWMutex
	nextToken int
	observers map[int]ObserverFunc
}

func (h *observerHub) Observe(fn ObserverFunc) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.observers == nil {
		h.observers = make(map[int]ObserverFunc)
	}
	token := h.nextToken
	h.nextToken++
	h.observers[token] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, token)
	}
}

// notify delivers events to every observer after the write committed.
// Observer invocation order is not guaranteed; events within one call are
// delivered together.
func (h *observerHub) notify(events ...Event) {
	h.mu.RLock()
	fns := make([]ObserverFunc, 0, len(h.observers))
	for _, fn := range h.observers {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		for _, ev := range events {
			fn(ev)
		}
	}
}
