package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(now *time.Time) *Breaker {
	b := NewBreaker(DefaultBreakerConfig(), zap.NewNop())
	b.now = func() time.Time { return *now }
	return b
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)
	c := &Channel{ID: "c1", Name: "primary", Status: StatusEnabled}

	// 10 秒内 5 次连续失败
	for i := 0; i < 5; i++ {
		b.OnFailure(c)
		now = now.Add(2 * time.Second)
	}

	assert.Equal(t, StatusCircuitBroken, c.Status)
	assert.Equal(t, int64(5), c.ConsecutiveFailures)
	// 首次熔断退避 30 秒
	assert.WithinDuration(t, now.Add(-2*time.Second).Add(30*time.Second), c.CircuitBreakerUntil, time.Second)
	assert.False(t, c.Eligible(now, ""))
}

func TestBreaker_WindowResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)
	c := &Channel{ID: "c1", Name: "primary", Status: StatusEnabled}

	for i := 0; i < 4; i++ {
		b.OnFailure(c)
	}
	require.Equal(t, StatusEnabled, c.Status)

	// 窗口（60 秒）之外的失败不与历史累计
	now = now.Add(2 * time.Minute)
	b.OnFailure(c)

	assert.Equal(t, StatusEnabled, c.Status)
	assert.Equal(t, int64(1), c.ConsecutiveFailures)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)
	c := &Channel{ID: "c1", Name: "primary", Status: StatusEnabled}

	for i := 0; i < 5; i++ {
		b.OnFailure(c)
	}
	require.Equal(t, StatusCircuitBroken, c.Status)

	// 退避期内不可选
	now = now.Add(10 * time.Second)
	assert.False(t, c.Eligible(now, ""))

	// 退避到期后进入半开，可被选中做探测
	now = now.Add(25 * time.Second)
	assert.True(t, c.Eligible(now, ""))

	// 探测成功 → 熔断清除
	b.OnSuccess(c)
	assert.Equal(t, StatusEnabled, c.Status)
	assert.Zero(t, c.ConsecutiveFailures)
	assert.True(t, c.CircuitBreakerUntil.IsZero())
}

func TestBreaker_ProbeFailureDoublesBackoff(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)
	c := &Channel{ID: "c1", Name: "primary", Status: StatusEnabled}

	for i := 0; i < 5; i++ {
		b.OnFailure(c)
	}
	first := c.CircuitBreakerUntil

	// 半开探测失败 → 重新打开，退避翻倍（60 秒）
	now = now.Add(31 * time.Second)
	b.OnFailure(c)

	assert.Equal(t, StatusCircuitBroken, c.Status)
	assert.Equal(t, 2, c.BreakerTrips)
	assert.Equal(t, now.Add(60*time.Second), c.CircuitBreakerUntil)
	assert.True(t, c.CircuitBreakerUntil.After(first))
}

func TestBreaker_BackoffCapped(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig(), zap.NewNop())

	assert.Equal(t, 30*time.Second, b.backoffFor(1))
	assert.Equal(t, 60*time.Second, b.backoffFor(2))
	assert.Equal(t, 4*time.Minute, b.backoffFor(4))
	assert.Equal(t, 8*time.Minute, b.backoffFor(5))
	// 封顶
	assert.Equal(t, 8*time.Minute, b.backoffFor(10))
}

func TestBreaker_RateLimited(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now)
	c := &Channel{ID: "c1", Name: "primary", Status: StatusEnabled}

	b.OnRateLimited(c, 90*time.Second)

	assert.Equal(t, StatusRateLimited, c.Status)
	assert.False(t, c.Eligible(now.Add(89*time.Second), ""))
	assert.True(t, c.Eligible(now.Add(91*time.Second), ""))
}
