package store

import (
	"context"
	"fmt"
	"sync"
)

// WriteHook is consulted for every path of a write before it is applied.
// Returning an error aborts the whole write.
type WriteHook func(path string) error

// MemoryStore keeps the whole tree in process. Writes build a copy and swap it in,
// so a failed multi-path write leaves the previous tree untouched.
type MemoryStore struct {
	mu   sync.RWMutex
	root map[string]interface{}
	hub  *Hub
	hook WriteHook
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithWriteHook installs a hook run against each written path.
func WithWriteHook(hook WriteHook) MemoryOption {
	return func(s *MemoryStore) {
		s.hook = hook
	}
}

// WithHub shares a notification hub with other components.
func WithHub(hub *Hub) MemoryOption {
	return func(s *MemoryStore) {
		s.hub = hub
	}
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{root: map[string]interface{}{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	return s
}

// SetWriteHook replaces the write hook; nil clears it.
func (s *MemoryStore) SetWriteHook(hook WriteHook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, path string, dest interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	node, ok := Lookup(s.root, path)
	var snapshot interface{}
	if ok {
		snapshot = Clone(node)
	}
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	if err := Decode(snapshot, dest); err != nil {
		return true, fmt.Errorf("get %s: %w", CleanPath(path), err)
	}
	return true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	return s.Update(ctx, map[string]interface{}{path: value})
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, updates map[string]interface{}) error {
	return s.write(ctx, "", updates)
}

// UpdateIfExists implements Store.
func (s *MemoryStore) UpdateIfExists(ctx context.Context, guard string, updates map[string]interface{}) error {
	guard = CleanPath(guard)
	if guard == "" {
		return fmt.Errorf("update guard: empty path")
	}
	return s.write(ctx, guard, updates)
}

func (s *MemoryStore) write(ctx context.Context, guard string, updates map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	writes, err := PrepareUpdate(updates)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	if guard != "" {
		if _, ok := Lookup(s.root, guard); !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrGuardMissing, guard)
		}
	}
	next, _ := Clone(s.root).(map[string]interface{})
	for _, w := range writes {
		if s.hook != nil {
			if err := s.hook(w.Path); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s: %v", ErrWriteFailed, w.Path, err)
			}
		}
		if err := Assign(next, w.Path, Clone(w.Value)); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, w.Path, err)
		}
	}
	s.root = next
	s.mu.Unlock()

	paths := make([]string, len(writes))
	for i, w := range writes {
		paths[i] = w.Path
	}
	return s.hub.Publish(ctx, paths)
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(path string, fn Listener) Subscription {
	return s.hub.Subscribe(path, fn)
}

// Hub exposes the notification hub.
func (s *MemoryStore) Hub() *Hub {
	return s.hub
}
