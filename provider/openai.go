package provider

import (
	"context"

	"github.com/BaSui01/routex/channel"
)

// OpenAIAdapter OpenAI Chat Completions API
type OpenAIAdapter struct{}

func (a *OpenAIAdapter) Kind() channel.Type { return channel.TypeOpenAI }

func (a *OpenAIAdapter) DefaultBaseURL() string { return "https://api.openai.com" }

func (a *OpenAIAdapter) AuthHeaders(c *channel.Channel) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

func (a *OpenAIAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path)
}

func (a *OpenAIAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *OpenAIAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *OpenAIAdapter) ExtractTokenUsage(body map[string]any) Usage {
	usage := nestedMap(body, "usage")
	if usage == nil {
		return Usage{}
	}
	u := Usage{
		Input:  usageInt(usage, "prompt_tokens"),
		Output: usageInt(usage, "completion_tokens"),
		Cached: usageInt(usage, "cached_tokens"),
	}
	// 新版 API 把缓存命中挂在 prompt_tokens_details 下
	if u.Cached == 0 {
		if details := nestedMap(usage, "prompt_tokens_details"); details != nil {
			u.Cached = usageInt(details, "cached_tokens")
		}
	}
	return u
}

func (a *OpenAIAdapter) Validate(c *channel.Channel) error {
	return requireAPIKey(c)
}
