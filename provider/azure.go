package provider

import (
	"context"
	"fmt"

	"github.com/BaSui01/routex/channel"
)

// AzureAdapter Azure OpenAI 部署。地址含资源名，必须由渠道配置提供。
type AzureAdapter struct{}

func (a *AzureAdapter) Kind() channel.Type { return channel.TypeAzure }

func (a *AzureAdapter) DefaultBaseURL() string { return "" }

func (a *AzureAdapter) AuthHeaders(c *channel.Channel) map[string]string {
	return map[string]string{"api-key": c.APIKey}
}

func (a *AzureAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path)
}

func (a *AzureAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *AzureAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *AzureAdapter) ExtractTokenUsage(body map[string]any) Usage {
	// 响应体与 OpenAI 同构
	return (&OpenAIAdapter{}).ExtractTokenUsage(body)
}

func (a *AzureAdapter) Validate(c *channel.Channel) error {
	if c.BaseURL == "" {
		return fmt.Errorf("channel %s: azure requires base_url", c.Name)
	}
	return requireAPIKey(c)
}
