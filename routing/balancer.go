package routing

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/routex/channel"

	"go.uber.org/zap"
)

// =============================================================================
// 负载均衡器
// =============================================================================

// Strategy 负载均衡策略
type Strategy string

const (
	StrategyPriority   Strategy = "priority"    // 优先级
	StrategyRoundRobin Strategy = "round_robin" // 轮询
	StrategyWeighted   Strategy = "weighted"    // 加权随机
	StrategyLeastUsed  Strategy = "least_used"  // 最少使用
)

// Balancer 在可选渠道中按策略选择。
// 策略进程级配置；单次请求可通过 metadata["strategy"] 覆盖。
// 会话亲和：sessionId 存在且映射的渠道仍可选时直接返回。
type Balancer struct {
	strategy Strategy
	affinity SessionStore

	// 每策略独立的轮询游标（进程本地）
	rrCursor atomic.Uint64

	rngMu sync.Mutex // 保护 rng 的并发访问
	rng   *rand.Rand

	logger *zap.Logger
}

// NewBalancer 创建负载均衡器
// affinity 为 nil 时禁用会话亲和。
func NewBalancer(strategy Strategy, affinity SessionStore, logger *zap.Logger) *Balancer {
	if strategy == "" {
		strategy = StrategyPriority
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Balancer{
		strategy: strategy,
		affinity: affinity,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}
}

// Pick 选择一个渠道；eligible 为空时返回 nil。
func (b *Balancer) Pick(ctx context.Context, rc *Context, eligible []*channel.Channel) *channel.Channel {
	if len(eligible) == 0 {
		return nil
	}

	// 会话亲和：映射的渠道仍可选则直接返回
	if b.affinity != nil && rc.SessionID != "" {
		if channelID, ok := b.affinity.Get(ctx, rc.SessionID); ok {
			if c := findChannel(eligible, channelID); c != nil {
				return c
			}
			// 渠道已不可选，解除旧绑定
			b.affinity.Delete(ctx, rc.SessionID)
		}
	}

	strategy := b.strategy
	if rc.Metadata != nil {
		if override := rc.Metadata["strategy"]; override != "" {
			strategy = Strategy(override)
		}
	}

	var selected *channel.Channel
	switch strategy {
	case StrategyRoundRobin:
		selected = b.pickRoundRobin(eligible)
	case StrategyWeighted:
		selected = b.pickWeighted(eligible)
	case StrategyLeastUsed:
		selected = b.pickLeastUsed(eligible)
	default:
		selected = b.pickPriority(eligible)
	}

	if selected != nil && b.affinity != nil && rc.SessionID != "" {
		b.affinity.Set(ctx, rc.SessionID, selected.ID)
	}
	return selected
}

// pickPriority 最小 priority；稳定并列顺序：requestCount 最小，再按 id。
func (b *Balancer) pickPriority(eligible []*channel.Channel) *channel.Channel {
	sorted := make([]*channel.Channel, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		if sorted[i].RequestCount != sorted[j].RequestCount {
			return sorted[i].RequestCount < sorted[j].RequestCount
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

// pickRoundRobin 原子游标轮询可选快照。
// 可选集合稳定时，一个周期内每个渠道恰好被选中一次。
func (b *Balancer) pickRoundRobin(eligible []*channel.Channel) *channel.Channel {
	idx := (b.rrCursor.Add(1) - 1) % uint64(len(eligible))
	return eligible[idx]
}

// pickWeighted 按权重比例随机采样；总权重为 0 时回退轮询。
func (b *Balancer) pickWeighted(eligible []*channel.Channel) *channel.Channel {
	total := 0
	for _, c := range eligible {
		if c.Weight > 0 {
			total += c.Weight
		}
	}
	if total == 0 {
		return b.pickRoundRobin(eligible)
	}

	b.rngMu.Lock()
	target := b.rng.Intn(total)
	b.rngMu.Unlock()

	cumulative := 0
	for _, c := range eligible {
		if c.Weight <= 0 {
			continue
		}
		cumulative += c.Weight
		if cumulative > target {
			return c
		}
	}
	return eligible[0]
}

// pickLeastUsed 最小 requestCount；并列取 lastUsedAt 最早。
func (b *Balancer) pickLeastUsed(eligible []*channel.Channel) *channel.Channel {
	sorted := make([]*channel.Channel, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RequestCount != sorted[j].RequestCount {
			return sorted[i].RequestCount < sorted[j].RequestCount
		}
		return sorted[i].LastUsedAt.Before(sorted[j].LastUsedAt)
	})
	return sorted[0]
}
