package channel

import (
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 熔断与限流门控
// =============================================================================

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int `yaml:"threshold" json:"threshold"`

	// Window 失败计数窗口：距上次失败超过该时长后计数重置
	Window time.Duration `yaml:"window" json:"window"`

	// InitialBackoff 首次熔断时长
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`

	// MaxBackoff 指数退避上限
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:      5,
		Window:         60 * time.Second,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     8 * time.Minute,
	}
}

// Breaker 按渠道执行熔断状态机：
// closed → open（连续失败达阈值）→ half-open（退避到期放行单次探测）
// → closed（探测成功）或 open（探测失败，退避翻倍）。
// Breaker 本身无状态，渠道上的字段承载全部状态；调用方负责串行化
// 对同一渠道的变更（Store 持有渠道锁）。
type Breaker struct {
	config BreakerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewBreaker 创建熔断器
func NewBreaker(config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 30 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 8 * time.Minute
	}
	return &Breaker{config: config, logger: logger, now: time.Now}
}

// OnSuccess 记录一次成功：清零连续失败、关闭熔断、恢复状态。
func (b *Breaker) OnSuccess(c *Channel) {
	wasBroken := c.Status == StatusCircuitBroken

	c.ConsecutiveFailures = 0
	c.BreakerTrips = 0
	c.CircuitBreakerUntil = time.Time{}
	if c.Status == StatusCircuitBroken || c.Status == StatusRateLimited {
		c.Status = StatusEnabled
	}

	if wasBroken {
		b.logger.Info("熔断器恢复正常",
			zap.String("channel", c.Name),
		)
	}
}

// OnFailure 记录一次失败；连续失败在窗口内达到阈值时打开熔断，
// 退避按档位指数增长直至上限。
func (b *Breaker) OnFailure(c *Channel) {
	now := b.now()

	// 窗口外的历史失败不再累计
	if !c.LastFailureAt.IsZero() && now.Sub(c.LastFailureAt) > b.config.Window {
		c.ConsecutiveFailures = 0
	}

	c.ConsecutiveFailures++
	c.LastFailureAt = now

	halfOpenProbeFailed := c.Status == StatusCircuitBroken && !now.Before(c.CircuitBreakerUntil)

	if int(c.ConsecutiveFailures) >= b.config.Threshold || halfOpenProbeFailed {
		c.BreakerTrips++
		backoff := b.backoffFor(c.BreakerTrips)
		c.CircuitBreakerUntil = now.Add(backoff)
		c.Status = StatusCircuitBroken

		b.logger.Warn("熔断器打开",
			zap.String("channel", c.Name),
			zap.Int64("consecutive_failures", c.ConsecutiveFailures),
			zap.Int("trips", c.BreakerTrips),
			zap.Duration("backoff", backoff),
		)
	}
}

// OnRateLimited 记录上游 429/503 限流，retryAfter <= 0 时默认 60 秒。
func (b *Breaker) OnRateLimited(c *Channel, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = 60 * time.Second
	}
	c.RateLimitedUntil = b.now().Add(retryAfter)
	c.Status = StatusRateLimited

	b.logger.Warn("渠道被限流",
		zap.String("channel", c.Name),
		zap.Duration("retry_after", retryAfter),
	)
}

// backoffFor 返回第 trips 档的退避时长（指数增长，封顶）。
func (b *Breaker) backoffFor(trips int) time.Duration {
	backoff := b.config.InitialBackoff
	for i := 1; i < trips; i++ {
		backoff *= 2
		if backoff >= b.config.MaxBackoff {
			return b.config.MaxBackoff
		}
	}
	if backoff > b.config.MaxBackoff {
		return b.config.MaxBackoff
	}
	return backoff
}
