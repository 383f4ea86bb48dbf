package provider

import (
	"context"
	"fmt"

	"github.com/BaSui01/routex/channel"
)

// CustomAdapter 自建 OpenAI 兼容上游，地址必须由渠道配置提供。
type CustomAdapter struct{}

func (a *CustomAdapter) Kind() channel.Type { return channel.TypeCustom }

func (a *CustomAdapter) DefaultBaseURL() string { return "" }

func (a *CustomAdapter) AuthHeaders(c *channel.Channel) map[string]string {
	if c.APIKey == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

func (a *CustomAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path)
}

func (a *CustomAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *CustomAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *CustomAdapter) ExtractTokenUsage(body map[string]any) Usage {
	// 先按 OpenAI 形态解析，失败再尝试 Anthropic 形态
	if u := (&OpenAIAdapter{}).ExtractTokenUsage(body); u != (Usage{}) {
		return u
	}
	return (&AnthropicAdapter{}).ExtractTokenUsage(body)
}

func (a *CustomAdapter) Validate(c *channel.Channel) error {
	if c.BaseURL == "" {
		return fmt.Errorf("channel %s: custom requires base_url", c.Name)
	}
	return nil
}
