package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrDuplicateName   = errors.New("channel name already exists")
)

// Store 渠道运行时注册表。
// 读取方拿到的是值快照（深拷贝），在途请求不受后续变更影响；
// 计数器与门控字段的变更在锁内串行执行。
type Store struct {
	mu       sync.RWMutex
	channels map[string]*Channel // key: id
	byName   map[string]string   // name -> id

	// probes 半开状态下在途探测请求（渠道 id → true）
	probes map[string]bool

	breaker *Breaker
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore 创建渠道注册表
func NewStore(breaker *Breaker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig(), logger)
	}
	return &Store{
		channels: make(map[string]*Channel),
		byName:   make(map[string]string),
		probes:   make(map[string]bool),
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
	}
}

// Load 整体替换渠道集合（启动时从持久层加载）。
func (s *Store) Load(channels []*Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Channel, len(channels))
	byName := make(map[string]string, len(channels))
	for _, c := range channels {
		if _, dup := byName[c.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
		}
		cp := c.Clone()
		if cp.Status == "" {
			cp.Status = StatusEnabled
		}
		next[cp.ID] = cp
		byName[cp.Name] = cp.ID
	}

	s.channels = next
	s.byName = byName
	s.probes = make(map[string]bool)

	s.logger.Info("channels loaded", zap.Int("count", len(next)))
	return nil
}

// Upsert 新增或更新渠道配置。
// 更新时保留运行期计数器与门控字段。
func (s *Store) Upsert(c *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byName[c.Name]; ok && existingID != c.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}

	cp := c.Clone()
	if cp.Status == "" {
		cp.Status = StatusEnabled
	}

	if old, ok := s.channels[cp.ID]; ok {
		delete(s.byName, old.Name)
		cp.RequestCount = old.RequestCount
		cp.SuccessCount = old.SuccessCount
		cp.FailureCount = old.FailureCount
		cp.ConsecutiveFailures = old.ConsecutiveFailures
		cp.BreakerTrips = old.BreakerTrips
		cp.LastFailureAt = old.LastFailureAt
		cp.CircuitBreakerUntil = old.CircuitBreakerUntil
		cp.RateLimitedUntil = old.RateLimitedUntil
		cp.LastUsedAt = old.LastUsedAt
	}

	s.channels[cp.ID] = cp
	s.byName[cp.Name] = cp.ID
	return nil
}

// Delete 删除渠道（在途请求继续持有其快照完成）。
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return ErrChannelNotFound
	}
	delete(s.byName, c.Name)
	delete(s.channels, id)
	delete(s.probes, id)
	return nil
}

// Get 按 id 获取渠道快照
func (s *Store) Get(id string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.channels[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// GetByName 按名称获取渠道快照
func (s *Store) GetByName(name string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.channels[id].Clone(), true
}

// Resolve 按 id 或名称解析渠道快照
func (s *Store) Resolve(idOrName string) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.channels[idOrName]; ok {
		return c.Clone(), true
	}
	if id, ok := s.byName[idOrName]; ok {
		return s.channels[id].Clone(), true
	}
	return nil, false
}

// List 返回全部渠道快照（按 id 稳定排序）
func (s *Store) List() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Eligible 返回可参与选择的渠道快照：
// enabled、熔断/限流已到期、支持请求模型。
// 半开（熔断到期）渠道仅在无在途探测时可见。
func (s *Store) Eligible(model string) []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*Channel, 0, len(s.channels))
	for id, c := range s.channels {
		if !c.Eligible(now, model) {
			continue
		}
		if c.Status == StatusCircuitBroken && s.probes[id] {
			// 半开状态只放行一个探测请求
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus 运维端启用/禁用渠道
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return ErrChannelNotFound
	}
	c.Status = status
	if status == StatusEnabled {
		c.CircuitBreakerUntil = time.Time{}
		c.RateLimitedUntil = time.Time{}
		c.ConsecutiveFailures = 0
		c.BreakerTrips = 0
	}
	c.UpdatedAt = s.now()
	return nil
}

// MarkDispatch 派发计数：requestCount++、lastUsedAt=now。
// 半开渠道在此登记探测，直到 MarkSuccess/MarkFailure 释放。
func (s *Store) MarkDispatch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return ErrChannelNotFound
	}
	c.RequestCount++
	c.LastUsedAt = s.now()
	if c.Status == StatusCircuitBroken {
		s.probes[id] = true
	}
	return nil
}

// MarkSuccess 完成计数：successCount++，并通知熔断器成功。
func (s *Store) MarkSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return
	}
	c.SuccessCount++
	delete(s.probes, id)
	s.breaker.OnSuccess(c)
}

// MarkFailure 完成计数：failureCount++，并通知熔断器失败。
func (s *Store) MarkFailure(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return
	}
	c.FailureCount++
	delete(s.probes, id)
	s.breaker.OnFailure(c)
}

// MarkRateLimited 记录上游限流（计入失败计数但不触发熔断累计）。
func (s *Store) MarkRateLimited(id string, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return
	}
	c.FailureCount++
	delete(s.probes, id)
	s.breaker.OnRateLimited(c, retryAfter)
}

// Stats 渠道统计信息
type Stats struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Type                Type      `json:"type"`
	Status              Status    `json:"status"`
	RequestCount        int64     `json:"request_count"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	SuccessRate         float64   `json:"success_rate"`
	CircuitBreakerUntil time.Time `json:"circuit_breaker_until,omitempty"`
	RateLimitedUntil    time.Time `json:"rate_limited_until,omitempty"`
	LastUsedAt          time.Time `json:"last_used_at,omitempty"`
}

// GetStats 获取全部渠道统计
func (s *Store) GetStats() []Stats {
	channels := s.List()
	out := make([]Stats, 0, len(channels))
	for _, c := range channels {
		out = append(out, Stats{
			ID:                  c.ID,
			Name:                c.Name,
			Type:                c.Type,
			Status:              c.Status,
			RequestCount:        c.RequestCount,
			SuccessCount:        c.SuccessCount,
			FailureCount:        c.FailureCount,
			ConsecutiveFailures: c.ConsecutiveFailures,
			SuccessRate:         c.SuccessRate(),
			CircuitBreakerUntil: c.CircuitBreakerUntil,
			RateLimitedUntil:    c.RateLimitedUntil,
			LastUsedAt:          c.LastUsedAt,
		})
	}
	return out
}
