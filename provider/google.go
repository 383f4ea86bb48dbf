package provider

import (
	"context"

	"github.com/BaSui01/routex/channel"
)

// GoogleAdapter Google Gemini API。凭据以查询参数传递。
type GoogleAdapter struct{}

func (a *GoogleAdapter) Kind() channel.Type { return channel.TypeGoogle }

func (a *GoogleAdapter) DefaultBaseURL() string { return "https://generativelanguage.googleapis.com" }

func (a *GoogleAdapter) AuthHeaders(_ *channel.Channel) map[string]string {
	return map[string]string{}
}

func (a *GoogleAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path) + "?key=" + c.APIKey
}

func (a *GoogleAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *GoogleAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *GoogleAdapter) ExtractTokenUsage(body map[string]any) Usage {
	meta := nestedMap(body, "usageMetadata")
	if meta == nil {
		return Usage{}
	}
	return Usage{
		Input:  usageInt(meta, "promptTokenCount"),
		Output: usageInt(meta, "candidatesTokenCount"),
		Cached: usageInt(meta, "cachedContentTokenCount"),
	}
}

func (a *GoogleAdapter) Validate(c *channel.Channel) error {
	return requireAPIKey(c)
}
