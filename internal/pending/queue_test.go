package pending

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"cashier-board/internal/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, kv.Store) {
	t.Helper()
	store, err := kv.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewQueue(store), store
}

func TestQueueAppendLoadClear(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	list, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	first := NewMutation(5, json.RawMessage(`{"state":"finish"}`), now)
	second := NewMutation(6, json.RawMessage(`{"state":"finish"}`), now.Add(time.Second))
	require.NoError(t, q.Append(ctx, first))
	require.NoError(t, q.Append(ctx, second))

	list, err = q.Load(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, int64(5), list[0].OrderID)
	assert.JSONEq(t, `{"state":"finish"}`, string(list[0].Body))
	assert.True(t, list[1].QueuedAt.Equal(now.Add(time.Second)))
	assert.NotEqual(t, list[0].ID, list[1].ID)

	require.NoError(t, q.Clear(ctx))
	list, err = q.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending.db")

	store, err := kv.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewQueue(store).Append(ctx, NewMutation(9, json.RawMessage(`{"state":"finish"}`), time.Now())))
	require.NoError(t, store.Close())

	store, err = kv.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	list, err := NewQueue(store).Load(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(9), list[0].OrderID)
}

func TestQueueCorruptSlot(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	require.NoError(t, store.Put(ctx, Slot, []byte("not json")))

	_, err := q.Load(ctx)
	assert.Error(t, err)
}
