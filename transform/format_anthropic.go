package transform

import "context"

// AnthropicTransformer 面向 Anthropic 上游的格式适配器：
// 请求 OpenAI Chat Completions → Anthropic Messages，响应反向。
type AnthropicTransformer struct{}

func (t *AnthropicTransformer) Name() string { return "anthropic" }

func (t *AnthropicTransformer) TransformRequest(_ context.Context, body map[string]any, _ Options) (*Result, error) {
	out, err := openaiToAnthropicRequest(body)
	if err != nil {
		return nil, err
	}
	return &Result{Body: out}, nil
}

func (t *AnthropicTransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return anthropicToOpenAIResponse(body)
}
