package routing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/routex/channel"
)

// =============================================================================
// 规则条件：带类型的谓词变体
// =============================================================================

// EvalInput 谓词求值输入（单次路由内共享，文本与分析只算一次）
type EvalInput struct {
	Ctx      *Context
	Analysis *Analysis
	UserText string

	// Channels 当前可选渠道快照（自定义路由函数可见）
	Channels []*channel.Channel

	// Selected 自定义路由函数直接选中的渠道（短路负载均衡）
	Selected *channel.Channel
}

// Predicate 规则谓词。一个条件是若干谓词的合取。
type Predicate interface {
	// Kind 返回谓词种类（用于日志和调试）
	Kind() string

	// Evaluate 求值；错误视为不匹配由调用方处理
	Evaluate(ctx context.Context, in *EvalInput) (bool, error)
}

// Condition 合取条件
type Condition []Predicate

// Evaluate 按合取求值；任一谓词为假或出错即为假。
func (c Condition) Evaluate(ctx context.Context, in *EvalInput) (bool, error) {
	for _, p := range c {
		ok, err := p.Evaluate(ctx, in)
		if err != nil {
			return false, fmt.Errorf("predicate %s: %w", p.Kind(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// token 门槛
// ---------------------------------------------------------------------------

// TokenThresholdPredicate 估算 token 数达到门槛
type TokenThresholdPredicate struct {
	Min int
}

func (p *TokenThresholdPredicate) Kind() string { return "token_threshold" }

func (p *TokenThresholdPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	return in.Analysis.EstimatedTokens >= p.Min, nil
}

// ---------------------------------------------------------------------------
// 文本匹配
// ---------------------------------------------------------------------------

// KeywordPredicate 任一关键词命中用户文本（大小写不敏感子串）
type KeywordPredicate struct {
	Keywords []string
}

func (p *KeywordPredicate) Kind() string { return "keywords" }

func (p *KeywordPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	lower := strings.ToLower(in.UserText)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true, nil
		}
	}
	return false, nil
}

// TextPatternPredicate 正则匹配用户文本
type TextPatternPredicate struct {
	Pattern *regexp.Regexp
}

func (p *TextPatternPredicate) Kind() string { return "user_pattern" }

func (p *TextPatternPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	return p.Pattern.MatchString(in.UserText), nil
}

// ModelPatternPredicate 正则匹配请求模型名
type ModelPatternPredicate struct {
	Pattern *regexp.Regexp
}

func (p *ModelPatternPredicate) Kind() string { return "model_pattern" }

func (p *ModelPatternPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	return p.Pattern.MatchString(in.Ctx.Model), nil
}

// ---------------------------------------------------------------------------
// 布尔标志
// ---------------------------------------------------------------------------

// FlagKind 布尔标志种类
type FlagKind string

const (
	FlagTools  FlagKind = "tools"
	FlagImages FlagKind = "images"
	FlagCode   FlagKind = "code"
)

// FlagPredicate 观测到的布尔特征与期望值相等
type FlagPredicate struct {
	Flag FlagKind
	Want bool
}

func (p *FlagPredicate) Kind() string { return "flag_" + string(p.Flag) }

func (p *FlagPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	var got bool
	switch p.Flag {
	case FlagTools:
		got = in.Analysis.HasTools
	case FlagImages:
		got = in.Analysis.HasImages
	case FlagCode:
		got = in.Analysis.HasCode
	default:
		return false, fmt.Errorf("unknown flag: %s", p.Flag)
	}
	return got == p.Want, nil
}

// ---------------------------------------------------------------------------
// 内容分析
// ---------------------------------------------------------------------------

// ContentPredicate 内容分析谓词（类别/复杂度/意图/语言/词数区间）
// 零值字段不参与判断。
type ContentPredicate struct {
	Category     Category
	Complexity   Complexity
	Intent       Intent
	Language     string
	MinWordCount int
	MaxWordCount int
}

func (p *ContentPredicate) Kind() string { return "content" }

func (p *ContentPredicate) Evaluate(_ context.Context, in *EvalInput) (bool, error) {
	a := in.Analysis
	if p.Category != "" && a.Category != p.Category {
		return false, nil
	}
	if p.Complexity != "" && a.Complexity != p.Complexity {
		return false, nil
	}
	if p.Intent != "" && a.Intent != p.Intent {
		return false, nil
	}
	if p.Language != "" && !a.HasLanguage(p.Language) {
		return false, nil
	}
	if p.MinWordCount > 0 && a.WordCount < p.MinWordCount {
		return false, nil
	}
	if p.MaxWordCount > 0 && a.WordCount > p.MaxWordCount {
		return false, nil
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// 自定义路由函数
// ---------------------------------------------------------------------------

// CustomPredicate 调用注册表中的命名路由函数。
// 函数返回布尔（条件）或直接返回渠道（写入 in.Selected，短路负载均衡）。
type CustomPredicate struct {
	Name     string
	Registry *CustomRegistry
}

func (p *CustomPredicate) Kind() string { return "custom:" + p.Name }

func (p *CustomPredicate) Evaluate(ctx context.Context, in *EvalInput) (ok bool, err error) {
	fn, found := p.Registry.Get(p.Name)
	if !found {
		return false, fmt.Errorf("custom router not registered: %s", p.Name)
	}

	// 自定义函数的 panic 按不匹配处理
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("custom router %s panicked: %v", p.Name, r)
		}
	}()

	verdict, err := fn(ctx, in, in.Channels)
	if err != nil {
		return false, err
	}
	if verdict.Channel != nil {
		in.Selected = verdict.Channel
		return true, nil
	}
	return verdict.Match, nil
}

// =============================================================================
// 条件的持久化形态与编译
// =============================================================================

// ConditionSpec 条件的配置/存储形态（JSON）
type ConditionSpec struct {
	TokenThreshold      int      `json:"token_threshold,omitempty"`
	Keywords            []string `json:"keywords,omitempty"`
	UserPattern         string   `json:"user_pattern,omitempty"`
	ModelPattern        string   `json:"model_pattern,omitempty"`
	HasTools            *bool    `json:"has_tools,omitempty"`
	HasImages           *bool    `json:"has_images,omitempty"`
	CustomFunction      string   `json:"custom_function,omitempty"`
	ContentCategory     string   `json:"content_category,omitempty"`
	ComplexityLevel     string   `json:"complexity_level,omitempty"`
	HasCode             *bool    `json:"has_code,omitempty"`
	ProgrammingLanguage string   `json:"programming_language,omitempty"`
	Intent              string   `json:"intent,omitempty"`
	MinWordCount        int      `json:"min_word_count,omitempty"`
	MaxWordCount        int      `json:"max_word_count,omitempty"`
}

// Compile 将配置形态编译为带类型的谓词合取。
// 正则在编译期解析（大小写不敏感），求值路径零解析开销。
func (s ConditionSpec) Compile(registry *CustomRegistry) (Condition, error) {
	var cond Condition

	if s.TokenThreshold > 0 {
		cond = append(cond, &TokenThresholdPredicate{Min: s.TokenThreshold})
	}
	if len(s.Keywords) > 0 {
		cond = append(cond, &KeywordPredicate{Keywords: s.Keywords})
	}
	if s.UserPattern != "" {
		re, err := regexp.Compile("(?i)" + s.UserPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid user_pattern: %w", err)
		}
		cond = append(cond, &TextPatternPredicate{Pattern: re})
	}
	if s.ModelPattern != "" {
		re, err := regexp.Compile("(?i)" + s.ModelPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid model_pattern: %w", err)
		}
		cond = append(cond, &ModelPatternPredicate{Pattern: re})
	}
	if s.HasTools != nil {
		cond = append(cond, &FlagPredicate{Flag: FlagTools, Want: *s.HasTools})
	}
	if s.HasImages != nil {
		cond = append(cond, &FlagPredicate{Flag: FlagImages, Want: *s.HasImages})
	}
	if s.HasCode != nil {
		cond = append(cond, &FlagPredicate{Flag: FlagCode, Want: *s.HasCode})
	}
	if s.CustomFunction != "" {
		cond = append(cond, &CustomPredicate{Name: s.CustomFunction, Registry: registry})
	}

	content := &ContentPredicate{
		Category:     Category(s.ContentCategory),
		Complexity:   Complexity(s.ComplexityLevel),
		Intent:       Intent(s.Intent),
		Language:     s.ProgrammingLanguage,
		MinWordCount: s.MinWordCount,
		MaxWordCount: s.MaxWordCount,
	}
	if *content != (ContentPredicate{}) {
		cond = append(cond, content)
	}

	return cond, nil
}
