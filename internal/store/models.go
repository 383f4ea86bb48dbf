// Package store provides the relational persistence layer.
// This package is internal and should not be imported by external projects.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/routing"
	"github.com/BaSui01/routex/tee"
)

// =============================================================================
// 🗄️ 数据模型
// =============================================================================

// ChannelRecord 渠道表
type ChannelRecord struct {
	ID                  string    `gorm:"primaryKey;size:64" json:"id"`
	Name                string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Type                string    `gorm:"size:20;not null" json:"type"`
	BaseURL             string    `gorm:"size:500" json:"base_url"`
	APIKey              string    `gorm:"size:500" json:"-"`
	RefreshToken        string    `gorm:"size:500" json:"-"`
	ModelsJSON          string    `gorm:"type:text" json:"models_json"`
	Priority            int       `gorm:"default:100" json:"priority"`
	Weight              int       `gorm:"default:1" json:"weight"`
	Status              string    `gorm:"size:20;default:enabled" json:"status"`
	RequestCount        int64     `gorm:"default:0" json:"request_count"`
	SuccessCount        int64     `gorm:"default:0" json:"success_count"`
	FailureCount        int64     `gorm:"default:0" json:"failure_count"`
	ConsecutiveFailures int64     `gorm:"default:0" json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	CircuitBreakerUntil time.Time `json:"circuit_breaker_until"`
	RateLimitedUntil    time.Time `json:"rate_limited_until"`
	LastUsedAt          time.Time `json:"last_used_at"`
	TransformersJSON    string    `gorm:"type:text" json:"transformers_json"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName 表名
func (ChannelRecord) TableName() string { return "channels" }

// RuleRecord 路由规则表
type RuleRecord struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Name          string    `gorm:"size:100;not null" json:"name"`
	Type          string    `gorm:"size:20;default:conditional" json:"type"`
	ConditionJSON string    `gorm:"type:text" json:"condition_json"`
	TargetChannel string    `gorm:"size:100;index" json:"target_channel"`
	TargetModel   string    `gorm:"size:100" json:"target_model"`
	Priority      int       `gorm:"default:0;index:idx_rules_priority,sort:desc" json:"priority"`
	Enabled       bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName 表名
func (RuleRecord) TableName() string { return "routing_rules" }

// TeeDestinationRecord tee 目的地表
type TeeDestinationRecord struct {
	ID         string `gorm:"primaryKey;size:64" json:"id"`
	Name       string `gorm:"size:100;not null" json:"name"`
	Type       string `gorm:"size:20;not null" json:"type"`
	ConfigJSON string `gorm:"type:text" json:"config_json"`
	FilterJSON string `gorm:"type:text" json:"filter_json"`
	Enabled    bool   `gorm:"default:true" json:"enabled"`
}

// TableName 表名
func (TeeDestinationRecord) TableName() string { return "tee_destinations" }

// RequestLog 请求日志表
type RequestLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ChannelID    string    `gorm:"size:64;index" json:"channel_id"`
	Model        string    `gorm:"size:100" json:"model"`
	Method       string    `gorm:"size:10" json:"method"`
	Path         string    `gorm:"size:200" json:"path"`
	StatusCode   int       `json:"status_code"`
	LatencyMs    int64     `json:"latency_ms"`
	InTokens     int64     `json:"in_tokens"`
	OutTokens    int64     `json:"out_tokens"`
	CachedTokens int64     `json:"cached_tokens"`
	Success      bool      `json:"success"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	Timestamp    time.Time `gorm:"column:ts;index" json:"ts"`
}

// TableName 表名
func (RequestLog) TableName() string { return "request_logs" }

// =============================================================================
// 🔄 领域对象转换
// =============================================================================

// ToChannel 数据记录 → 领域对象
func (r *ChannelRecord) ToChannel() (*channel.Channel, error) {
	c := &channel.Channel{
		ID:                  r.ID,
		Name:                r.Name,
		Type:                channel.Type(r.Type),
		BaseURL:             r.BaseURL,
		APIKey:              r.APIKey,
		Priority:            r.Priority,
		Weight:              r.Weight,
		Status:              channel.Status(r.Status),
		RequestCount:        r.RequestCount,
		SuccessCount:        r.SuccessCount,
		FailureCount:        r.FailureCount,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastFailureAt:       r.LastFailureTime,
		CircuitBreakerUntil: r.CircuitBreakerUntil,
		RateLimitedUntil:    r.RateLimitedUntil,
		LastUsedAt:          r.LastUsedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ModelsJSON != "" {
		if err := json.Unmarshal([]byte(r.ModelsJSON), &c.Models); err != nil {
			return nil, fmt.Errorf("channel %s: parse models_json: %w", r.Name, err)
		}
	}
	if r.TransformersJSON != "" {
		if err := json.Unmarshal([]byte(r.TransformersJSON), &c.Transformers); err != nil {
			return nil, fmt.Errorf("channel %s: parse transformers_json: %w", r.Name, err)
		}
	}
	return c, nil
}

// ChannelToRecord 领域对象 → 数据记录
func ChannelToRecord(c *channel.Channel) (*ChannelRecord, error) {
	models, err := json.Marshal(c.Models)
	if err != nil {
		return nil, fmt.Errorf("marshal models: %w", err)
	}
	transformers, err := json.Marshal(c.Transformers)
	if err != nil {
		return nil, fmt.Errorf("marshal transformers: %w", err)
	}
	return &ChannelRecord{
		ID:                  c.ID,
		Name:                c.Name,
		Type:                string(c.Type),
		BaseURL:             c.BaseURL,
		APIKey:              c.APIKey,
		ModelsJSON:          string(models),
		Priority:            c.Priority,
		Weight:              c.Weight,
		Status:              string(c.Status),
		RequestCount:        c.RequestCount,
		SuccessCount:        c.SuccessCount,
		FailureCount:        c.FailureCount,
		ConsecutiveFailures: c.ConsecutiveFailures,
		LastFailureTime:     c.LastFailureAt,
		CircuitBreakerUntil: c.CircuitBreakerUntil,
		RateLimitedUntil:    c.RateLimitedUntil,
		LastUsedAt:          c.LastUsedAt,
		TransformersJSON:    string(transformers),
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}, nil
}

// ToRule 数据记录 → 领域对象
func (r *RuleRecord) ToRule() (*routing.Rule, error) {
	rule := &routing.Rule{
		ID:            r.ID,
		Name:          r.Name,
		Priority:      r.Priority,
		Enabled:       r.Enabled,
		TargetChannel: r.TargetChannel,
		TargetModel:   r.TargetModel,
	}
	if r.ConditionJSON != "" {
		if err := json.Unmarshal([]byte(r.ConditionJSON), &rule.Condition); err != nil {
			return nil, fmt.Errorf("rule %s: parse condition_json: %w", r.Name, err)
		}
	}
	return rule, nil
}

// RuleToRecord 领域对象 → 数据记录
func RuleToRecord(rule *routing.Rule) (*RuleRecord, error) {
	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return nil, fmt.Errorf("marshal condition: %w", err)
	}
	return &RuleRecord{
		ID:            rule.ID,
		Name:          rule.Name,
		Type:          "conditional",
		ConditionJSON: string(cond),
		TargetChannel: rule.TargetChannel,
		TargetModel:   rule.TargetModel,
		Priority:      rule.Priority,
		Enabled:       rule.Enabled,
	}, nil
}

// teeConfig 目的地连接配置的持久化形态
type teeConfig struct {
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	FilePath   string            `json:"file_path,omitempty"`
	HandlerRef string            `json:"handler_ref,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	Retries    int               `json:"retries,omitempty"`
}

// ToDestination 数据记录 → 领域对象
func (r *TeeDestinationRecord) ToDestination() (*tee.Destination, error) {
	d := &tee.Destination{
		ID:      r.ID,
		Name:    r.Name,
		Type:    tee.Kind(r.Type),
		Enabled: r.Enabled,
	}
	if r.ConfigJSON != "" {
		var cfg teeConfig
		if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
			return nil, fmt.Errorf("destination %s: parse config_json: %w", r.Name, err)
		}
		d.URL = cfg.URL
		d.Method = cfg.Method
		d.Headers = cfg.Headers
		d.FilePath = cfg.FilePath
		d.HandlerRef = cfg.HandlerRef
		d.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		d.Retries = cfg.Retries
	}
	if r.FilterJSON != "" {
		if err := json.Unmarshal([]byte(r.FilterJSON), &d.Filter); err != nil {
			return nil, fmt.Errorf("destination %s: parse filter_json: %w", r.Name, err)
		}
	}
	return d, nil
}

// DestinationToRecord 领域对象 → 数据记录
func DestinationToRecord(d *tee.Destination) (*TeeDestinationRecord, error) {
	cfg, err := json.Marshal(teeConfig{
		URL:        d.URL,
		Method:     d.Method,
		Headers:    d.Headers,
		FilePath:   d.FilePath,
		HandlerRef: d.HandlerRef,
		TimeoutMs:  d.Timeout.Milliseconds(),
		Retries:    d.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	filter, err := json.Marshal(d.Filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	return &TeeDestinationRecord{
		ID:         d.ID,
		Name:       d.Name,
		Type:       string(d.Type),
		ConfigJSON: string(cfg),
		FilterJSON: string(filter),
		Enabled:    d.Enabled,
	}, nil
}
