package transform

import "context"

// OpenAITransformer 面向 OpenAI 兼容上游的格式适配器：
// 请求 Anthropic Messages → OpenAI Chat Completions，响应反向。
type OpenAITransformer struct{}

func (t *OpenAITransformer) Name() string { return "openai" }

func (t *OpenAITransformer) TransformRequest(_ context.Context, body map[string]any, _ Options) (*Result, error) {
	out, err := anthropicToOpenAIRequest(body)
	if err != nil {
		return nil, err
	}
	return &Result{Body: out}, nil
}

func (t *OpenAITransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return openaiToAnthropicResponse(body)
}
