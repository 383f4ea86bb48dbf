package routing

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/internal/cache"
	"github.com/BaSui01/routex/routing/tokenest"

	"go.uber.org/zap"
)

// =============================================================================
// 智能路由器：规则引擎
// =============================================================================

// Rule 路由规则：条件 → 目标渠道
type Rule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"` // 越大越优先
	Enabled  bool   `json:"enabled"`

	Condition ConditionSpec `json:"condition"`

	// TargetChannel 渠道 id 或名称
	TargetChannel string `json:"target_channel"`
	// TargetModel 可选的模型覆盖
	TargetModel string `json:"target_model,omitempty"`

	compiled Condition
}

// Decision 路由决策
type Decision struct {
	// Channel 选中的渠道；无规则命中时为 nil（由负载均衡器继续选择）
	Channel *channel.Channel
	// Model 模型覆盖（可为空）
	Model string
	// Rule 命中的规则（可为 nil）
	Rule *Rule
	// Analysis 本次请求的内容分析
	Analysis *Analysis
}

// SmartRouter 规则智能路由器。
// 规则集采用写时复制快照：配置更新安装新快照，在途请求
// 继续使用其捕获的快照。
type SmartRouter struct {
	rules    atomic.Pointer[[]*Rule]
	analyzer *Analyzer
	registry *CustomRegistry
	memo     *cache.LRU // request id → *Analysis
	logger   *zap.Logger
}

// NewSmartRouter 创建智能路由器
func NewSmartRouter(registry *CustomRegistry, logger *zap.Logger) *SmartRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewCustomRegistry()
	}
	r := &SmartRouter{
		analyzer: NewAnalyzer(),
		registry: registry,
		memo:     cache.NewLRU(4096, 0),
		logger:   logger,
	}
	empty := make([]*Rule, 0)
	r.rules.Store(&empty)
	return r
}

// WithTokenCounter 替换分析器使用的 token 计数器。
// 应在开始服务请求前调用，返回 r 便于链式构造。
func (r *SmartRouter) WithTokenCounter(counter tokenest.Counter) *SmartRouter {
	r.analyzer = NewAnalyzerWithCounter(counter)
	return r
}

// Registry 返回自定义路由注册表
func (r *SmartRouter) Registry() *CustomRegistry {
	return r.registry
}

// SetRules 编译并安装新的规则集快照。
// 规则按优先级降序排序，相同优先级按 id 升序稳定排序。
func (r *SmartRouter) SetRules(rules []*Rule) error {
	next := make([]*Rule, 0, len(rules))
	for _, rule := range rules {
		cp := *rule
		compiled, err := cp.Condition.Compile(r.registry)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		cp.compiled = compiled
		next = append(next, &cp)
	}

	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Priority != next[j].Priority {
			return next[i].Priority > next[j].Priority
		}
		return next[i].ID < next[j].ID
	})

	r.rules.Store(&next)
	r.logger.Info("routing rules installed", zap.Int("count", len(next)))
	return nil
}

// Rules 返回当前规则集快照
func (r *SmartRouter) Rules() []*Rule {
	return *r.rules.Load()
}

// Analyze 对请求做内容分析；携带 request_id 元数据时按 id 备忘。
func (r *SmartRouter) Analyze(rc *Context) *Analysis {
	requestID := ""
	if rc.Metadata != nil {
		requestID = rc.Metadata["request_id"]
	}
	if requestID != "" {
		if v, ok := r.memo.Get(requestID); ok {
			return v.(*Analysis)
		}
	}

	analysis := r.analyzer.Analyze(rc.Messages, rc.Tools)
	if requestID != "" {
		r.memo.Set(requestID, analysis)
	}
	return analysis
}

// Route 在可选渠道中依据规则选择渠道。
// 规则按优先级降序求值；第一条条件满足且目标可解析的规则胜出。
// 目标不可解析（含已禁用/熔断/限流，即不在 available 中）则继续下一条。
// 无规则命中时返回 Channel 为 nil 的决策，由负载均衡器继续。
func (r *SmartRouter) Route(ctx context.Context, rc *Context, available []*channel.Channel) (*Decision, error) {
	analysis := r.Analyze(rc)
	in := &EvalInput{
		Ctx:      rc,
		Analysis: analysis,
		UserText: rc.UserText(),
		Channels: available,
	}

	for _, rule := range *r.rules.Load() {
		if !rule.Enabled {
			continue
		}

		in.Selected = nil
		ok, err := rule.compiled.Evaluate(ctx, in)
		if err != nil {
			// 自定义函数异常等按不匹配处理，继续下一条规则
			r.logger.Debug("rule condition error, treated as non-match",
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		// 自定义函数直选渠道：验证仍在可选集合内
		if in.Selected != nil {
			if c := findChannel(available, in.Selected.ID); c != nil {
				return &Decision{Channel: c, Model: rule.TargetModel, Rule: rule, Analysis: analysis}, nil
			}
			r.logger.Debug("custom-selected channel not eligible, falling through",
				zap.String("rule", rule.Name),
				zap.String("channel", in.Selected.Name))
			continue
		}

		// 按 id 或名称解析目标渠道
		if c := resolveChannel(available, rule.TargetChannel); c != nil {
			r.logger.Debug("rule matched",
				zap.String("rule", rule.Name),
				zap.String("channel", c.Name))
			return &Decision{Channel: c, Model: rule.TargetModel, Rule: rule, Analysis: analysis}, nil
		}
	}

	return &Decision{Analysis: analysis}, nil
}

func findChannel(channels []*channel.Channel, id string) *channel.Channel {
	for _, c := range channels {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func resolveChannel(channels []*channel.Channel, idOrName string) *channel.Channel {
	if idOrName == "" {
		return nil
	}
	for _, c := range channels {
		if c.ID == idOrName || c.Name == idOrName {
			return c
		}
	}
	return nil
}
