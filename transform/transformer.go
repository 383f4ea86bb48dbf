// Package transform 实现请求/响应的双向转换管线：
// 客户端格式 ⇄ 上游格式的适配，以及安全约束（token 上限、采样范围）的执行。
package transform

import (
	"context"
)

// Options 转换器选项（来自渠道配置的 JSON，数值按 float64 解码）
type Options map[string]any

// Result 请求方向转换的结果；Headers 可选，由管线合并。
type Result struct {
	Body    map[string]any
	Headers map[string]string
}

// Transformer 命名转换器。请求方向可以附带头部；响应方向只变换 body。
// 实现必须无状态：同一实例会被并发请求共享。
type Transformer interface {
	// Name 注册名
	Name() string

	// TransformRequest 请求方向变换
	TransformRequest(ctx context.Context, body map[string]any, opts Options) (*Result, error)

	// TransformResponse 响应方向变换
	TransformResponse(ctx context.Context, body map[string]any, opts Options) (map[string]any, error)
}

// ---------------------------------------------------------------------------
// 选项读取辅助：渠道配置经 JSON 反序列化，数值统一为 float64
// ---------------------------------------------------------------------------

func optInt(opts Options, key string, def int) int {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func optFloat(opts Options, key string, def float64) float64 {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

func optBool(opts Options, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

func numValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// cloneBody 浅拷贝顶层 map，转换器修改顶层键时不污染调用方。
func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}
