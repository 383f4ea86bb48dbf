package routing

import (
	"context"
	"time"

	"github.com/BaSui01/routex/internal/cache"

	"go.uber.org/zap"
)

// =============================================================================
// 会话亲和
// =============================================================================

// DefaultAffinityTTL 会话亲和默认存活时间
const DefaultAffinityTTL = 5 * time.Hour

// SessionStore 会话 → 渠道的粘性映射。
// 实现必须内部同步；查找应更新近期性（如实现支持）。
type SessionStore interface {
	// Get 查找会话绑定的渠道 id
	Get(ctx context.Context, sessionID string) (string, bool)

	// Set 记录会话绑定
	Set(ctx context.Context, sessionID, channelID string)

	// Delete 解除会话绑定
	Delete(ctx context.Context, sessionID string)
}

// LRUSessionStore 进程内 LRU 会话存储（默认实现）
type LRUSessionStore struct {
	lru *cache.LRU
}

// NewLRUSessionStore 创建进程内会话存储
// ttl <= 0 时使用默认 5 小时。
func NewLRUSessionStore(capacity int, ttl time.Duration) *LRUSessionStore {
	if ttl <= 0 {
		ttl = DefaultAffinityTTL
	}
	return &LRUSessionStore{lru: cache.NewLRU(capacity, ttl)}
}

func (s *LRUSessionStore) Get(_ context.Context, sessionID string) (string, bool) {
	v, ok := s.lru.Get(sessionID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *LRUSessionStore) Set(_ context.Context, sessionID, channelID string) {
	s.lru.Set(sessionID, channelID)
}

func (s *LRUSessionStore) Delete(_ context.Context, sessionID string) {
	s.lru.Delete(sessionID)
}

// Prune 清理过期映射，返回清理数量
func (s *LRUSessionStore) Prune() int {
	return s.lru.Prune()
}

// RedisSessionStore 基于缓存管理器的会话存储，
// 多副本部署时保证跨实例的会话粘性。
// 读取采用滑动过期：每次命中重置 TTL。
type RedisSessionStore struct {
	manager *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
}

const redisAffinityPrefix = "routex:affinity:"

// NewRedisSessionStore 创建 Redis 会话存储
func NewRedisSessionStore(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultAffinityTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{manager: manager, ttl: ttl, logger: logger}
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (string, bool) {
	val, err := s.manager.GetEx(ctx, redisAffinityPrefix+sessionID, s.ttl)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("affinity get failed", zap.Error(err))
		}
		return "", false
	}
	return val, true
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionID, channelID string) {
	if err := s.manager.Set(ctx, redisAffinityPrefix+sessionID, channelID, s.ttl); err != nil {
		s.logger.Warn("affinity set failed", zap.Error(err))
	}
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) {
	if err := s.manager.Delete(ctx, redisAffinityPrefix+sessionID); err != nil {
		s.logger.Warn("affinity delete failed", zap.Error(err))
	}
}
