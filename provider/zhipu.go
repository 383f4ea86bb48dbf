package provider

import (
	"context"

	"github.com/BaSui01/routex/channel"
)

// ZhipuAdapter 智谱 GLM，OpenAI 兼容接口。
type ZhipuAdapter struct{}

func (a *ZhipuAdapter) Kind() channel.Type { return channel.TypeZhipu }

func (a *ZhipuAdapter) DefaultBaseURL() string { return "https://open.bigmodel.cn/api/paas" }

func (a *ZhipuAdapter) AuthHeaders(c *channel.Channel) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

func (a *ZhipuAdapter) BuildURL(c *channel.Channel, path string) string {
	return joinURL(baseURL(a, c), path)
}

func (a *ZhipuAdapter) TransformRequest(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *ZhipuAdapter) TransformResponse(_ context.Context, body map[string]any) (map[string]any, error) {
	return body, nil
}

func (a *ZhipuAdapter) ExtractTokenUsage(body map[string]any) Usage {
	return (&OpenAIAdapter{}).ExtractTokenUsage(body)
}

func (a *ZhipuAdapter) Validate(c *channel.Channel) error {
	return requireAPIKey(c)
}
