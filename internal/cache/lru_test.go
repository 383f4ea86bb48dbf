package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(4, 0)

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(3, 0)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// 访问 a，使 b 成为最久未使用
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "%s should survive", key)
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU(16, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("session", "channel-1")

	// TTL 内可见
	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, ok := c.Get("session")
	require.True(t, ok)

	// 超过 TTL 后不可见
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok = c.Get("session")
	assert.False(t, ok)
}

func TestLRU_PruneRemovesExactlyExpired(t *testing.T) {
	c := NewLRU(16, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("old1", 1)
	c.Set("old2", 2)

	c.now = func() time.Time { return base.Add(50 * time.Minute) }
	c.Set("fresh", 3)

	c.now = func() time.Time { return base.Add(90 * time.Minute) }
	removed := c.Prune()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestLRU_SetRefreshesTTL(t *testing.T) {
	c := NewLRU(16, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(50 * time.Minute) }
	c.Set("k", 2)

	c.now = func() time.Time { return base.Add(80 * time.Minute) }
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

// 属性测试：缓存长度不超过容量，且最近写入的 key 总是可见。
func TestLRU_CapacityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 32).Draw(t, "capacity")
		n := rapid.IntRange(1, 128).Draw(t, "writes")

		c := NewLRU(capacity, 0)
		var lastKey string
		for i := 0; i < n; i++ {
			lastKey = fmt.Sprintf("k%d", rapid.IntRange(0, 64).Draw(t, "key"))
			c.Set(lastKey, i)
		}

		if c.Len() > capacity {
			t.Fatalf("len %d exceeds capacity %d", c.Len(), capacity)
		}
		if _, ok := c.Get(lastKey); !ok {
			t.Fatalf("most recent key %q missing", lastKey)
		}
	})
}
