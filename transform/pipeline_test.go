package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/routex/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerTransformer 测试用：透传 body 并附带一个头
type headerTransformer struct {
	name    string
	headers map[string]string
}

func (t *headerTransformer) Name() string { return t.name }

func (t *headerTransformer) TransformRequest(_ context.Context, body map[string]any, _ Options) (*Result, error) {
	return &Result{Body: body, Headers: t.headers}, nil
}

func (t *headerTransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return body, nil
}

// failingTransformer 测试用：总是失败
type failingTransformer struct{}

func (t *failingTransformer) Name() string { return "failing" }

func (t *failingTransformer) TransformRequest(_ context.Context, _ map[string]any, _ Options) (*Result, error) {
	return nil, errors.New("boom")
}

func (t *failingTransformer) TransformResponse(_ context.Context, _ map[string]any, _ Options) (map[string]any, error) {
	return nil, errors.New("boom")
}

func anthropicRequestBody() map[string]any {
	return map[string]any{
		"model":      "claude-sonnet-4",
		"max_tokens": float64(5000),
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}
}

func TestPipeline_RequestDeclaredOrder(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil)
	specs := []Spec{
		{Name: "maxtoken", Options: Options{"max_tokens": 1000}},
		{Name: "openai"},
	}

	out, err := p.Request(context.Background(), specs, anthropicRequestBody(), &routing.Context{})
	require.NoError(t, err)

	assert.Equal(t, []string{"maxtoken", "openai"}, out.Metadata.AppliedTransformers)
	assert.Empty(t, out.Metadata.SkippedTransformers)

	// maxtoken 先收紧，openai 再转换格式
	assert.Equal(t, 1000, out.Body["max_tokens"])
	msgs, ok := out.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello", first["content"])
}

func TestPipeline_ResponseReverseOrder(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil)
	specs := []Spec{
		{Name: "maxtoken", Options: Options{"max_tokens": 1000}},
		{Name: "openai"},
	}

	// OpenAI 形态的上游响应
	resp := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": "hi"},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(5)},
	}

	out, err := p.Response(context.Background(), specs, resp, &routing.Context{})
	require.NoError(t, err)

	// 响应方向严格逆序
	assert.Equal(t, []string{"openai", "maxtoken"}, out.Metadata.AppliedTransformers)

	// openai 转换器把响应转回 Anthropic 形态
	assert.Equal(t, "message", out.Body["type"])
	assert.Equal(t, "end_turn", out.Body["stop_reason"])
	usage := out.Body["usage"].(map[string]any)
	assert.Equal(t, float64(10), usage["input_tokens"])
	assert.Equal(t, float64(5), usage["output_tokens"])
}

func TestPipeline_ConditionFalseSkips(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil)
	specs := []Spec{
		{
			Name:      "maxtoken",
			Options:   Options{"max_tokens": 1000},
			Condition: func(body map[string]any, rc *routing.Context) bool { return false },
		},
	}

	out, err := p.Request(context.Background(), specs, anthropicRequestBody(), &routing.Context{})
	require.NoError(t, err)
	assert.Empty(t, out.Metadata.AppliedTransformers)
	assert.Equal(t, []string{"maxtoken"}, out.Metadata.SkippedTransformers)
	assert.Equal(t, float64(5000), out.Body["max_tokens"])
}

func TestPipeline_MissingTransformerSkipped(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil)
	specs := []Spec{{Name: "no-such"}}

	out, err := p.Request(context.Background(), specs, anthropicRequestBody(), &routing.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"no-such"}, out.Metadata.SkippedTransformers)
}

func TestPipeline_SkipOnError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&failingTransformer{})
	p := NewPipeline(reg, nil)

	// skipOnError 吞错并记录
	out, err := p.Request(context.Background(), []Spec{
		{Name: "failing", SkipOnError: true},
		{Name: "maxtoken", Options: Options{"max_tokens": 1000}},
	}, anthropicRequestBody(), &routing.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"maxtoken"}, out.Metadata.AppliedTransformers)
	assert.Equal(t, []string{"failing"}, out.Metadata.SkippedTransformers)
	require.Len(t, out.Metadata.Errors, 1)
	assert.Equal(t, "failing", out.Metadata.Errors[0].Transformer)
	assert.Contains(t, out.Metadata.Errors[0].Message, "boom")

	// 未配置 skipOnError 时整体失败
	_, err = p.Request(context.Background(), []Spec{{Name: "failing"}}, anthropicRequestBody(), &routing.Context{})
	assert.Error(t, err)
}

func TestPipeline_HeaderMergeLastWriteWins(t *testing.T) {
	reg := NewEmptyRegistry()
	reg.Register(&headerTransformer{name: "h1", headers: map[string]string{"X-A": "1", "X-B": "first"}})
	reg.Register(&headerTransformer{name: "h2", headers: map[string]string{"X-B": "second", "X-C": "3"}})
	p := NewPipeline(reg, nil)

	out, err := p.Request(context.Background(), []Spec{{Name: "h1"}, {Name: "h2"}},
		map[string]any{}, &routing.Context{})
	require.NoError(t, err)

	assert.Equal(t, "1", out.Headers["X-A"])
	assert.Equal(t, "second", out.Headers["X-B"])
	assert.Equal(t, "3", out.Headers["X-C"])
}

func TestPipeline_ContextCancelAborts(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Request(ctx, []Spec{{Name: "maxtoken"}}, anthropicRequestBody(), &routing.Context{})
	assert.Error(t, err)
}

func TestSpecsFromChannel(t *testing.T) {
	specs := SpecsFromChannel(nil)
	assert.Empty(t, specs)
}

func TestPresets(t *testing.T) {
	for _, name := range PresetNames() {
		specs, ok := Preset(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, specs, name)
	}

	_, ok := Preset("nope")
	assert.False(t, ok)

	// 拼接保持顺序
	combined, ok := Compose([]string{"safe", "balanced"}, Spec{Name: "openai"})
	require.True(t, ok)
	safe, _ := Preset("safe")
	balanced, _ := Preset("balanced")
	require.Len(t, combined, len(safe)+len(balanced)+1)
	assert.Equal(t, "openai", combined[len(combined)-1].Name)

	// 预设步骤全部可解析
	reg := NewRegistry()
	for _, spec := range combined {
		_, found := reg.Get(spec.Name)
		assert.True(t, found, spec.Name)
	}
}
