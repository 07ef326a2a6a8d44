package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *SummaryCache, *storage.MemoryStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := storage.NewMemoryStore(nil)
	c := NewSummaryCache(client, inner, time.Minute, nil)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c, inner
}

func summary(id string, status session.TaskStatus) projection.SessionSummary {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return projection.SessionSummary{ID: id, Status: status, Title: "t", CreatedAt: at, UpdatedAt: at}
}

func TestSummaryCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, c, inner := setupMiniRedis(t)
	require.NoError(t, inner.SaveSummary(ctx, summary("s1", session.StatusInProgress)))

	got, ok, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusInProgress, got.Status)
	assert.True(t, mr.Exists(keyPrefix+"s1"))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"s1"))

	got, ok, err = c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestSummaryCache_Missing(t *testing.T) {
	mr, c, _ := setupMiniRedis(t)
	_, ok, err := c.GetSummary(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(keyPrefix+"nope"))
}

func TestSummaryCache_SaveInvalidates(t *testing.T) {
	ctx := context.Background()
	mr, c, _ := setupMiniRedis(t)

	require.NoError(t, c.SaveSummary(ctx, summary("s1", session.StatusInProgress)))
	_, _, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, mr.Exists(keyPrefix+"s1"))

	require.NoError(t, c.SaveSummary(ctx, summary("s1", session.StatusBlocked)))
	assert.False(t, mr.Exists(keyPrefix+"s1"))

	got, _, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBlocked, got.Status)
}

// racingStore invalidates the cache after the cache has read the old summary
// from it but before the fill, the way a concurrent projector save would.
type racingStore struct {
	*storage.MemoryStore
	onGet func()
}

func (r *racingStore) GetSummary(ctx context.Context, id string) (projection.SessionSummary, bool, error) {
	sum, ok, err := r.MemoryStore.GetSummary(ctx, id)
	if r.onGet != nil {
		hook := r.onGet
		r.onGet = nil
		hook()
	}
	return sum, ok, err
}

func TestSummaryCache_InvalidationBeatsSlowFill(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	inner := &racingStore{MemoryStore: storage.NewMemoryStore(nil)}
	c := NewSummaryCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), inner, time.Minute, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, inner.SaveSummary(ctx, summary("s1", session.StatusInProgress)))
	inner.onGet = func() {
		require.NoError(t, c.SaveSummary(ctx, summary("s1", session.StatusBlocked)))
	}

	got, ok, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusInProgress, got.Status, "the reader still sees what it read")
	assert.False(t, mr.Exists(keyPrefix+"s1"), "stale summary must not be cached")

	got, _, err = c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBlocked, got.Status)
	assert.True(t, mr.Exists(keyPrefix+"s1"))
}

func TestSummaryCache_InvalidateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	mr, c, _ := setupMiniRedis(t)

	require.NoError(t, c.Invalidate(ctx, "s1"))
	require.NoError(t, c.Invalidate(ctx, "s1"))

	gen, err := mr.Get(genKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, generationTTL, mr.TTL(genKey("s1")))
}

func TestSummaryCache_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	inner := storage.NewMemoryStore(nil)
	c := NewSummaryCache(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), inner, 0, nil)
	defer func() { _ = c.Close() }()
	require.NoError(t, inner.SaveSummary(ctx, summary("s1", session.StatusPaused)))
	mr.Close()

	got, ok, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusPaused, got.Status)

	assert.NoError(t, c.SaveSummary(ctx, summary("s2", session.StatusInProgress)))
	assert.Error(t, c.Invalidate(ctx, "s2"))
}

func TestSummaryCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, c, inner := setupMiniRedis(t)
	require.NoError(t, inner.SaveSummary(ctx, summary("s1", session.StatusCompleted)))
	require.NoError(t, mr.Set(keyPrefix+"s1", "{not json"))

	got, ok, err := c.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusCompleted, got.Status)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "redis connection failed")
}
