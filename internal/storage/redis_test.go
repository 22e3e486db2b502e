package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, source string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, source)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_SaveLoad(t *testing.T) {
	store, mr := setupRedisStore(t, "north")
	ctx := context.Background()

	state, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsEmpty(), "missing key should be an empty state")

	saved := sampleState("north")
	require.NoError(t, store.Save(ctx, saved))
	assert.True(t, mr.Exists("events-monitor:state_north"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.Len(), loaded.Len())
	assert.True(t, saved.LastCheckedAt.Equal(loaded.LastCheckedAt))
}

func TestRedisStore_Corrupt(t *testing.T) {
	store, mr := setupRedisStore(t, "north")
	require.NoError(t, mr.Set(store.Key(), "{not json"))

	state, err := store.Load(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ReadCorrupt, storeErr.Kind)
	assert.True(t, state.IsEmpty())
}

func TestRedisStore_ServerDown(t *testing.T) {
	store, mr := setupRedisStore(t, "north")
	mr.Close()

	err := store.Save(context.Background(), sampleState("north"))
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, WriteFailed, storeErr.Kind)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url", "x")
	require.Error(t, err)
}
