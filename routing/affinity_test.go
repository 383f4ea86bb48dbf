package routing

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/routex/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func affinityManager(t *testing.T, mr *miniredis.Miniredis) *cache.Manager {
	t.Helper()
	manager, err := cache.NewManager(cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestLRUSessionStore(t *testing.T) {
	store := NewLRUSessionStore(2, time.Hour)
	ctx := context.Background()

	store.Set(ctx, "s1", "ch-a")
	store.Set(ctx, "s2", "ch-b")

	got, ok := store.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "ch-a", got)

	// 容量满时淘汰最久未用的会话
	store.Set(ctx, "s3", "ch-c")
	_, ok = store.Get(ctx, "s2")
	assert.False(t, ok)
	_, ok = store.Get(ctx, "s1")
	assert.True(t, ok)

	store.Delete(ctx, "s1")
	_, ok = store.Get(ctx, "s1")
	assert.False(t, ok)
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisSessionStore(affinityManager(t, mr), time.Hour, nil)
	ctx := context.Background()

	_, ok := store.Get(ctx, "s1")
	assert.False(t, ok)

	store.Set(ctx, "s1", "ch-a")
	got, ok := store.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "ch-a", got)

	// TTL 写入了键
	ttl := mr.TTL(redisAffinityPrefix + "s1")
	assert.Greater(t, ttl, time.Duration(0))

	store.Delete(ctx, "s1")
	_, ok = store.Get(ctx, "s1")
	assert.False(t, ok)
}

func TestRedisSessionStore_TTLRefreshOnGet(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisSessionStore(affinityManager(t, mr), time.Hour, nil)
	ctx := context.Background()

	store.Set(ctx, "s1", "ch-a")
	mr.FastForward(30 * time.Minute)

	// 读取刷新 TTL 回满
	_, ok := store.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(redisAffinityPrefix+"s1"))
}
