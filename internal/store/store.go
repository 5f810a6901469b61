// Package store defines the hierarchical record store the reconciliation
// engine is written against, together with an in-memory implementation and
// the change-notification hub shared by all implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrWriteFailed is wrapped by implementations when a multi-path write could not be applied.
var ErrWriteFailed = errors.New("record store write failed")

// ErrGuardMissing is returned by UpdateIfExists when the guard path holds nothing.
var ErrGuardMissing = errors.New("record store guard path missing")

// Change describes one path touched by a committed write.
type Change struct {
	Path string
	At   time.Time
}

// Listener receives change notifications for a subscribed path.
type Listener func(Change)

// Subscription is returned by Subscribe; Unsubscribe must be called on teardown.
type Subscription interface {
	Unsubscribe()
}

// Store is a path-addressable document store.
//
// Get decodes the subtree at path into dest and reports whether anything was there.
// Set replaces the subtree at path; a nil value deletes it.
// Update applies every path in updates atomically: all of them or none.
// UpdateIfExists is Update that first requires guard to hold a value, checked
// within the same write; otherwise nothing is written and ErrGuardMissing is returned.
// Subscribe registers interest in path and its descendants and ancestors.
type Store interface {
	Get(ctx context.Context, path string, dest interface{}) (bool, error)
	Set(ctx context.Context, path string, value interface{}) error
	Update(ctx context.Context, updates map[string]interface{}) error
	UpdateIfExists(ctx context.Context, guard string, updates map[string]interface{}) error
	Subscribe(path string, fn Listener) Subscription
}

// Keys lists the immediate child keys of path.
func Keys(ctx context.Context, s Store, path string) ([]string, error) {
	var node map[string]interface{}
	found, err := s.Get(ctx, path, &node)
	if err != nil || !found {
		return nil, err
	}
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	return keys, nil
}

// Publisher forwards committed change paths to subscribers.
type Publisher interface {
	Publish(ctx context.Context, paths []string) error
}
