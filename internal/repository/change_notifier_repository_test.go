package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pasi-sync-api/internal/store"
)

func TestChangeNotifierWithoutRedisDeliversLocally(t *testing.T) {
	hub := store.NewHub()
	notifier := NewChangeNotifierRepository(nil, "", hub, nil)

	var got []string
	sub := hub.Subscribe("pasiSyncReport", func(c store.Change) { got = append(got, c.Path) })
	defer sub.Unsubscribe()

	require.NoError(t, notifier.Publish(context.Background(), []string{"pasiSyncReport/schoolYear/24_25/meta"}))
	assert.Equal(t, []string{"pasiSyncReport/schoolYear/24_25/meta"}, got)
}

func TestChangeNotifierDispatchIgnoresMalformedPayload(t *testing.T) {
	hub := store.NewHub()
	notifier := NewChangeNotifierRepository(nil, "changes", hub, nil)

	var calls int
	sub := hub.Subscribe("", func(store.Change) { calls++ })
	defer sub.Unsubscribe()

	notifier.dispatch(context.Background(), "{not json")
	notifier.dispatch(context.Background(), `{"paths":[]}`)
	notifier.dispatch(context.Background(), `{"paths":["registryRecords/r1"]}`)
	assert.Equal(t, 1, calls)
}
