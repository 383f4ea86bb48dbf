package transform

import (
	"context"
	"fmt"
)

// =============================================================================
// 内置安全转换器
// =============================================================================

// MaxTokenTransformer 将 max_tokens 压到配置上限之内。
// 选项：max_tokens（上限，默认 4096）、strict（超限直接报错而非收紧）。
type MaxTokenTransformer struct{}

func (t *MaxTokenTransformer) Name() string { return "maxtoken" }

func (t *MaxTokenTransformer) TransformRequest(_ context.Context, body map[string]any, opts Options) (*Result, error) {
	limit := optInt(opts, "max_tokens", 4096)
	strict := optBool(opts, "strict", false)

	out := cloneBody(body)
	current, ok := numValue(out["max_tokens"])
	switch {
	case !ok:
		out["max_tokens"] = limit
	case int(current) > limit:
		if strict {
			return nil, fmt.Errorf("max_tokens %d exceeds limit %d", int(current), limit)
		}
		out["max_tokens"] = limit
	}
	return &Result{Body: out}, nil
}

func (t *MaxTokenTransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return body, nil
}

// SamplingTransformer 将采样参数夹到配置区间，可选注入默认值。
// 选项：min_temperature/max_temperature、min_top_p/max_top_p、
// default_temperature/default_top_p（缺省时注入）。
type SamplingTransformer struct{}

func (t *SamplingTransformer) Name() string { return "sampling" }

func (t *SamplingTransformer) TransformRequest(_ context.Context, body map[string]any, opts Options) (*Result, error) {
	out := cloneBody(body)

	clampField(out, "temperature",
		optFloat(opts, "min_temperature", 0),
		optFloat(opts, "max_temperature", 2))
	clampField(out, "top_p",
		optFloat(opts, "min_top_p", 0),
		optFloat(opts, "max_top_p", 1))

	if _, ok := out["temperature"]; !ok {
		if def, has := opts["default_temperature"]; has {
			if v, okNum := numValue(def); okNum {
				out["temperature"] = v
			}
		}
	}
	if _, ok := out["top_p"]; !ok {
		if def, has := opts["default_top_p"]; has {
			if v, okNum := numValue(def); okNum {
				out["top_p"] = v
			}
		}
	}
	return &Result{Body: out}, nil
}

func (t *SamplingTransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return body, nil
}

func clampField(body map[string]any, key string, min, max float64) {
	v, ok := numValue(body[key])
	if !ok {
		return
	}
	if v < min {
		body[key] = min
	} else if v > max {
		body[key] = max
	}
}

// CleanCacheTransformer 递归剥离 cache_control 缓存标记。
// 转发到不支持提示缓存的上游前使用。
type CleanCacheTransformer struct{}

func (t *CleanCacheTransformer) Name() string { return "cleancache" }

func (t *CleanCacheTransformer) TransformRequest(_ context.Context, body map[string]any, _ Options) (*Result, error) {
	cleaned := stripCacheControl(body)
	return &Result{Body: cleaned.(map[string]any)}, nil
}

func (t *CleanCacheTransformer) TransformResponse(_ context.Context, body map[string]any, _ Options) (map[string]any, error) {
	return body, nil
}

func stripCacheControl(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			if k == "cache_control" {
				continue
			}
			out[k] = stripCacheControl(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = stripCacheControl(child)
		}
		return out
	default:
		return v
	}
}
