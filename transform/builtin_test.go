package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxToken_Clamp(t *testing.T) {
	tr := &MaxTokenTransformer{}

	out, err := tr.TransformRequest(context.Background(),
		map[string]any{"max_tokens": float64(9000)}, Options{"max_tokens": 1000})
	require.NoError(t, err)
	assert.Equal(t, 1000, out.Body["max_tokens"])

	// 未超限不动
	out, err = tr.TransformRequest(context.Background(),
		map[string]any{"max_tokens": float64(500)}, Options{"max_tokens": 1000})
	require.NoError(t, err)
	assert.Equal(t, float64(500), out.Body["max_tokens"])

	// 缺失时注入上限
	out, err = tr.TransformRequest(context.Background(), map[string]any{}, Options{"max_tokens": 1000})
	require.NoError(t, err)
	assert.Equal(t, 1000, out.Body["max_tokens"])
}

func TestMaxToken_Strict(t *testing.T) {
	tr := &MaxTokenTransformer{}

	_, err := tr.TransformRequest(context.Background(),
		map[string]any{"max_tokens": float64(9000)},
		Options{"max_tokens": 1000, "strict": true})
	assert.Error(t, err)
}

func TestMaxToken_DoesNotMutateInput(t *testing.T) {
	tr := &MaxTokenTransformer{}
	in := map[string]any{"max_tokens": float64(9000)}

	_, err := tr.TransformRequest(context.Background(), in, Options{"max_tokens": 1000})
	require.NoError(t, err)
	assert.Equal(t, float64(9000), in["max_tokens"])
}

func TestSampling_Clamp(t *testing.T) {
	tr := &SamplingTransformer{}

	out, err := tr.TransformRequest(context.Background(),
		map[string]any{"temperature": float64(1.8), "top_p": float64(0.99)},
		Options{"max_temperature": 1.0, "max_top_p": 0.95})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Body["temperature"])
	assert.Equal(t, 0.95, out.Body["top_p"])

	// 区间内不动
	out, err = tr.TransformRequest(context.Background(),
		map[string]any{"temperature": float64(0.5)},
		Options{"max_temperature": 1.0})
	require.NoError(t, err)
	assert.Equal(t, float64(0.5), out.Body["temperature"])
}

func TestSampling_InjectDefaults(t *testing.T) {
	tr := &SamplingTransformer{}

	out, err := tr.TransformRequest(context.Background(), map[string]any{},
		Options{"default_temperature": 0.7, "default_top_p": 0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.7, out.Body["temperature"])
	assert.Equal(t, 0.9, out.Body["top_p"])

	// 已有值不覆盖
	out, err = tr.TransformRequest(context.Background(),
		map[string]any{"temperature": float64(0.2)},
		Options{"default_temperature": 0.7})
	require.NoError(t, err)
	assert.Equal(t, float64(0.2), out.Body["temperature"])
}

func TestCleanCache_StripsRecursively(t *testing.T) {
	tr := &CleanCacheTransformer{}

	in := map[string]any{
		"system": []any{
			map[string]any{"type": "text", "text": "rules", "cache_control": map[string]any{"type": "ephemeral"}},
		},
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "hi", "cache_control": map[string]any{"type": "ephemeral"}},
				},
			},
		},
	}

	out, err := tr.TransformRequest(context.Background(), in, nil)
	require.NoError(t, err)

	sys := out.Body["system"].([]any)[0].(map[string]any)
	assert.NotContains(t, sys, "cache_control")
	assert.Equal(t, "rules", sys["text"])

	block := out.Body["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.NotContains(t, block, "cache_control")
	assert.Equal(t, "hi", block["text"])

	// 原始 body 不被修改
	origSys := in["system"].([]any)[0].(map[string]any)
	assert.Contains(t, origSys, "cache_control")
}
