// Package cache provides internal in-process caches.
// This package is internal and should not be imported by external projects.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// =============================================================================
// 💾 TTL LRU 缓存
// =============================================================================

// LRU 带 TTL 的 LRU 缓存
// 用于会话亲和映射、请求去重和内容分析备忘录。
// 所有操作 O(1)，内部加锁，可安全并发使用。
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element

	// now 可替换，便于测试时间相关行为
	now func() time.Time
}

type lruEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewLRU 创建 LRU 缓存
// capacity <= 0 时使用默认容量 1024；ttl <= 0 表示永不过期。
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get 获取缓存值并更新访问顺序
// 过期条目视为不存在并被删除。
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*lruEntry)
	if c.expired(entry) {
		c.removeElement(el)
		return nil, false
	}

	// 命中即提升到队首
	c.ll.MoveToFront(el)
	return entry.value, true
}

// Set 写入缓存
// 已存在时覆盖并刷新 TTL；超出容量时淘汰最久未使用的条目。
func (c *LRU) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
}

// Delete 删除条目
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len 返回当前条目数（含未清理的过期条目）
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Prune 清理所有过期条目，返回清理数量
func (c *LRU) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}

	removed := 0
	// 从队尾（最久未使用）向前扫描
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*lruEntry)) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Keys 返回当前所有未过期的 key（从最近到最久）
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*lruEntry)
		if !c.expired(entry) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

func (c *LRU) expired(entry *lruEntry) bool {
	return !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)
}

func (c *LRU) evictOldest() {
	if el := c.ll.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *LRU) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*lruEntry).key)
}
