package transform

import (
	"context"
	"fmt"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/routing"

	"go.uber.org/zap"
)

// =============================================================================
// 转换管线
// =============================================================================

// Condition 转换步骤的可选前置条件；false 时跳过该步骤。
type Condition func(body map[string]any, rc *routing.Context) bool

// Spec 单个转换步骤：命名转换器 + 选项 + 可选条件。
type Spec struct {
	Name        string    `json:"name"`
	Options     Options   `json:"options,omitempty"`
	SkipOnError bool      `json:"skip_on_error,omitempty"`
	Condition   Condition `json:"-"`
}

// SpecsFromChannel 渠道配置 → 管线步骤
func SpecsFromChannel(cfgs []channel.TransformerConfig) []Spec {
	out := make([]Spec, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Spec{
			Name:        c.Name,
			Options:     Options(c.Options),
			SkipOnError: c.SkipOnError,
		})
	}
	return out
}

// StepError 被 skipOnError 吞掉并记录的步骤错误
type StepError struct {
	Transformer string `json:"transformer"`
	Message     string `json:"message"`
}

// Metadata 管线执行记录
type Metadata struct {
	AppliedTransformers []string    `json:"appliedTransformers"`
	SkippedTransformers []string    `json:"skippedTransformers"`
	Errors              []StepError `json:"errors,omitempty"`
}

// Outcome 管线输出
type Outcome struct {
	Body     map[string]any
	Headers  map[string]string
	Metadata Metadata
}

// Pipeline 有序、可条件、双向的转换管线。
// 请求方向按声明顺序执行，响应方向严格逆序。
// 管线自身无状态，可被并发请求共享。
type Pipeline struct {
	registry *Registry
	logger   *zap.Logger
}

// NewPipeline 创建管线
func NewPipeline(registry *Registry, logger *zap.Logger) *Pipeline {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{registry: registry, logger: logger}
}

// Registry 返回管线使用的注册表
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Request 按声明顺序执行请求方向变换。
// 头部合并采用后写覆盖；条件为假或转换器缺失记为跳过；
// 步骤出错时 skipOnError 吞掉并记录，否则整体失败。
func (p *Pipeline) Request(ctx context.Context, specs []Spec, body map[string]any, rc *routing.Context) (*Outcome, error) {
	out := &Outcome{
		Body:    body,
		Headers: make(map[string]string),
		Metadata: Metadata{
			AppliedTransformers: make([]string, 0, len(specs)),
			SkippedTransformers: make([]string, 0),
		},
	}

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transformer pipeline aborted: %w", err)
		}

		t, skip := p.resolve(spec, out.Body, rc, &out.Metadata)
		if skip {
			continue
		}

		result, err := t.TransformRequest(ctx, out.Body, spec.Options)
		if err != nil {
			if spec.SkipOnError {
				p.recordError(spec.Name, err, &out.Metadata)
				continue
			}
			return nil, fmt.Errorf("transformer %s: %w", spec.Name, err)
		}

		out.Body = result.Body
		for k, v := range result.Headers {
			out.Headers[k] = v
		}
		out.Metadata.AppliedTransformers = append(out.Metadata.AppliedTransformers, spec.Name)
	}

	return out, nil
}

// Response 按声明顺序的逆序执行响应方向变换。
func (p *Pipeline) Response(ctx context.Context, specs []Spec, body map[string]any, rc *routing.Context) (*Outcome, error) {
	out := &Outcome{
		Body:    body,
		Headers: make(map[string]string),
		Metadata: Metadata{
			AppliedTransformers: make([]string, 0, len(specs)),
			SkippedTransformers: make([]string, 0),
		},
	}

	for i := len(specs) - 1; i >= 0; i-- {
		spec := specs[i]
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transformer pipeline aborted: %w", err)
		}

		t, skip := p.resolve(spec, out.Body, rc, &out.Metadata)
		if skip {
			continue
		}

		next, err := t.TransformResponse(ctx, out.Body, spec.Options)
		if err != nil {
			if spec.SkipOnError {
				p.recordError(spec.Name, err, &out.Metadata)
				continue
			}
			return nil, fmt.Errorf("transformer %s: %w", spec.Name, err)
		}

		out.Body = next
		out.Metadata.AppliedTransformers = append(out.Metadata.AppliedTransformers, spec.Name)
	}

	return out, nil
}

// resolve 求值条件并查找转换器；skip 为真时已记入 metadata。
func (p *Pipeline) resolve(spec Spec, body map[string]any, rc *routing.Context, md *Metadata) (Transformer, bool) {
	if spec.Condition != nil && !spec.Condition(body, rc) {
		md.SkippedTransformers = append(md.SkippedTransformers, spec.Name)
		return nil, true
	}

	t, ok := p.registry.Get(spec.Name)
	if !ok {
		p.logger.Warn("transformer not registered, skipping", zap.String("name", spec.Name))
		md.SkippedTransformers = append(md.SkippedTransformers, spec.Name)
		return nil, true
	}
	return t, false
}

func (p *Pipeline) recordError(name string, err error, md *Metadata) {
	p.logger.Warn("transformer failed, skipped by config",
		zap.String("name", name),
		zap.Error(err))
	md.SkippedTransformers = append(md.SkippedTransformers, name)
	md.Errors = append(md.Errors, StepError{Transformer: name, Message: err.Error()})
}
