// Package provider 实现各上游供应商的适配：鉴权头、URL 构造、
// 格式修补与用量解析。适配器全部无状态，可被并发请求共享。
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/routex/channel"
)

// Usage 上游响应中的 token 用量
type Usage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
}

// Adapter 上游供应商适配器
type Adapter interface {
	// Kind 适配的渠道类型
	Kind() channel.Type

	// DefaultBaseURL 默认上游地址；为空表示必须由渠道配置提供
	DefaultBaseURL() string

	// AuthHeaders 渠道凭据 → 请求头
	AuthHeaders(c *channel.Channel) map[string]string

	// BuildURL 组装上游完整 URL
	BuildURL(c *channel.Channel, path string) string

	// TransformRequest 发送前的格式级修补（用户管线之后执行）
	TransformRequest(ctx context.Context, body map[string]any) (map[string]any, error)

	// TransformResponse 返回前的格式级修补
	TransformResponse(ctx context.Context, body map[string]any) (map[string]any, error)

	// ExtractTokenUsage 从响应 body 解析用量；无用量字段时返回零值
	ExtractTokenUsage(body map[string]any) Usage

	// Validate 校验渠道配置对该类型是否完整
	Validate(c *channel.Channel) error
}

// ErrUnsupportedType 渠道类型无对应适配器
var ErrUnsupportedType = errors.New("unsupported channel type")

var adapters = map[channel.Type]Adapter{
	channel.TypeAnthropic: &AnthropicAdapter{},
	channel.TypeOpenAI:    &OpenAIAdapter{},
	channel.TypeAzure:     &AzureAdapter{},
	channel.TypeGoogle:    &GoogleAdapter{},
	channel.TypeZhipu:     &ZhipuAdapter{},
	channel.TypeCustom:    &CustomAdapter{},
}

// ForType 按渠道类型查找适配器
func ForType(t channel.Type) (Adapter, error) {
	a, ok := adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return a, nil
}

// baseURL 渠道覆盖优先，否则用适配器默认值。
func baseURL(a Adapter, c *channel.Channel) string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(a.DefaultBaseURL(), "/")
}

func joinURL(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func usageInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func nestedMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func requireAPIKey(c *channel.Channel) error {
	if c.APIKey == "" {
		return fmt.Errorf("channel %s: api key required", c.Name)
	}
	return nil
}
