package store

import (
	"context"
	"sync"
	"time"
)

// Hub fans change notifications out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*hubSubscription
}

type hubSubscription struct {
	hub  *Hub
	id   uint64
	path string
	fn   Listener
	once sync.Once
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*hubSubscription)}
}

// Subscribe registers fn for changes related to path.
func (h *Hub) Subscribe(path string, fn Listener) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &hubSubscription{hub: h, id: h.nextID, path: CleanPath(path), fn: fn}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish notifies every subscriber whose path is related to one of paths.
// Each subscriber is called at most once per publish, with the first matching path.
// Listeners run synchronously on the publishing goroutine, outside the hub lock.
func (h *Hub) Publish(_ context.Context, paths []string) error {
	now := time.Now().UTC()
	h.mu.RLock()
	type delivery struct {
		fn     Listener
		change Change
	}
	var deliveries []delivery
	for _, sub := range h.subs {
		for _, p := range paths {
			if Related(sub.path, p) {
				deliveries = append(deliveries, delivery{fn: sub.fn, change: Change{Path: CleanPath(p), At: now}})
				break
			}
		}
	}
	h.mu.RUnlock()

	for _, d := range deliveries {
		d.fn(d.change)
	}
	return nil
}
