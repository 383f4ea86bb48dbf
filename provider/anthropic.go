package provider

import (
	"context"

	"github.com/BaSui01/routex/channel"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter Anthropic Messages API
type AnthropicAdapter struct{}

func (a *AnthropicAdapter) Kind() channel.Type { return channel.TypeAnthropic }

func (a *AnthropicAdapter) DefaultBaseURL() string { return "https://api.anthropic.com" }

func (a *AnthropicAdapter) AuthHeaders(c *channel.Channel) map[string]string {
	return map[string]string{
		"x-api-key":         c.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

func (a *AnthropicAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path)
}

func (a *AnthropicAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *AnthropicAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *AnthropicAdapter) ExtractTokenUsage(body map[string]any) Usage {
	usage := nestedMap(body, "usage")
	if usage == nil {
		return Usage{}
	}
	return Usage{
		Input:  usageInt(usage, "input_tokens"),
		Output: usageInt(usage, "output_tokens"),
		Cached: usageInt(usage, "cache_read_input_tokens"),
	}
}

func (a *AnthropicAdapter) Validate(c *channel.Channel) error {
	return requireAPIKey(c)
}
