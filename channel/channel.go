// Package channel 管理上游账号（渠道）的运行时状态：
// 状态快照、计数器、熔断与限流门控。
package channel

import (
	"time"
)

// Type 渠道的上游提供者类型
type Type string

const (
	TypeAnthropic Type = "anthropic"
	TypeOpenAI    Type = "openai"
	TypeAzure     Type = "azure"
	TypeGoogle    Type = "google"
	TypeZhipu     Type = "zhipu"
	TypeCustom    Type = "custom"
)

// Status 渠道状态
type Status string

const (
	StatusEnabled       Status = "enabled"
	StatusDisabled      Status = "disabled"
	StatusRateLimited   Status = "rate_limited"
	StatusCircuitBroken Status = "circuit_broken"
)

// TransformerConfig 渠道级转换器配置条目
type TransformerConfig struct {
	Name        string         `json:"name" yaml:"name"`
	Options     map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	SkipOnError bool           `json:"skip_on_error,omitempty" yaml:"skip_on_error,omitempty"`
}

// Channel 上游账号描述符
// 计数器与时间戳由代理流程修改；状态与配置由运维端修改。
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    Type     `json:"type"`
	BaseURL string   `json:"base_url,omitempty"`
	APIKey  string   `json:"-"`
	Models  []string `json:"models,omitempty"` // 空表示支持任意模型

	Priority int    `json:"priority"` // 越小越优先
	Weight   int    `json:"weight"`   // 非负，加权策略使用
	Status   Status `json:"status"`

	// 计数器（不变式：SuccessCount + FailureCount <= RequestCount）
	RequestCount        int64 `json:"request_count"`
	SuccessCount        int64 `json:"success_count"`
	FailureCount        int64 `json:"failure_count"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`

	// 熔断退避档位（每次熔断递增，成功后清零）
	BreakerTrips int `json:"-"`

	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	CircuitBreakerUntil time.Time `json:"circuit_breaker_until,omitempty"`
	RateLimitedUntil    time.Time `json:"rate_limited_until,omitempty"`
	LastUsedAt          time.Time `json:"last_used_at,omitempty"`

	// Transformers 渠道级转换器链（可选）
	Transformers []TransformerConfig `json:"transformers,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Eligible 判断渠道在指定时间对指定模型是否可被选中。
// 规则：enabled 状态（或熔断/限流已到期）、模型列表为空或包含该模型。
func (c *Channel) Eligible(now time.Time, model string) bool {
	switch c.Status {
	case StatusDisabled:
		return false
	case StatusCircuitBroken:
		if now.Before(c.CircuitBreakerUntil) {
			return false
		}
		// 熔断到期，允许半开探测
	case StatusRateLimited:
		if now.Before(c.RateLimitedUntil) {
			return false
		}
	}

	if now.Before(c.CircuitBreakerUntil) || now.Before(c.RateLimitedUntil) {
		return false
	}

	return c.SupportsModel(model)
}

// SupportsModel 判断渠道是否支持指定模型（空列表 = 任意模型）。
func (c *Channel) SupportsModel(model string) bool {
	if model == "" || len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Clone 返回渠道的深拷贝，供在途请求持有快照。
func (c *Channel) Clone() *Channel {
	cp := *c
	if c.Models != nil {
		cp.Models = append([]string(nil), c.Models...)
	}
	if c.Transformers != nil {
		cp.Transformers = make([]TransformerConfig, len(c.Transformers))
		copy(cp.Transformers, c.Transformers)
	}
	return &cp
}

// SuccessRate 返回成功率，无请求时为 1.0。
func (c *Channel) SuccessRate() float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(c.SuccessCount) / float64(total)
}
