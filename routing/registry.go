package routing

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/BaSui01/routex/channel"
)

// =============================================================================
// 自定义路由函数注册表
// =============================================================================

// Verdict 自定义路由函数的结果：布尔条件或直接选中渠道。
type Verdict struct {
	Match   bool
	Channel *channel.Channel
}

// MatchVerdict 构造布尔结果
func MatchVerdict(match bool) Verdict { return Verdict{Match: match} }

// ChannelVerdict 构造直选结果（短路负载均衡）
func ChannelVerdict(c *channel.Channel) Verdict { return Verdict{Match: c != nil, Channel: c} }

// RouterFunc 自定义路由函数
type RouterFunc func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error)

// RouterInfo 路由函数的描述信息
type RouterInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type customEntry struct {
	fn   RouterFunc
	info RouterInfo
}

// CustomRegistry 进程级自定义路由注册表。
// 写入采用写时复制：每次注册安装新快照，读取方持有指针无锁读取。
type CustomRegistry struct {
	snapshot atomic.Pointer[map[string]customEntry]
}

// NewCustomRegistry 创建注册表
func NewCustomRegistry() *CustomRegistry {
	r := &CustomRegistry{}
	empty := make(map[string]customEntry)
	r.snapshot.Store(&empty)
	return r
}

// Register 注册路由函数（同名覆盖）
func (r *CustomRegistry) Register(name string, fn RouterFunc, info RouterInfo) {
	if info.Name == "" {
		info.Name = name
	}
	for {
		old := r.snapshot.Load()
		next := make(map[string]customEntry, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[name] = customEntry{fn: fn, info: info}
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Unregister 注销路由函数
func (r *CustomRegistry) Unregister(name string) {
	for {
		old := r.snapshot.Load()
		if _, ok := (*old)[name]; !ok {
			return
		}
		next := make(map[string]customEntry, len(*old))
		for k, v := range *old {
			if k != name {
				next[k] = v
			}
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Get 查找路由函数
func (r *CustomRegistry) Get(name string) (RouterFunc, bool) {
	entry, ok := (*r.snapshot.Load())[name]
	if !ok {
		return nil, false
	}
	return entry.fn, true
}

// List 返回全部路由函数信息
func (r *CustomRegistry) List() []RouterInfo {
	snap := *r.snapshot.Load()
	out := make([]RouterInfo, 0, len(snap))
	for _, entry := range snap {
		out = append(out, entry.info)
	}
	return out
}

// =============================================================================
// 组合子
// =============================================================================

// And 所有子函数都匹配才匹配；任一子函数直选渠道时采用其渠道。
func And(fns ...RouterFunc) RouterFunc {
	return func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		var selected *channel.Channel
		for _, fn := range fns {
			v, err := fn(ctx, in, channels)
			if err != nil {
				return Verdict{}, err
			}
			if v.Channel != nil {
				selected = v.Channel
			} else if !v.Match {
				return MatchVerdict(false), nil
			}
		}
		return Verdict{Match: true, Channel: selected}, nil
	}
}

// Or 任一子函数匹配即匹配；第一个直选渠道的结果立即返回。
func Or(fns ...RouterFunc) RouterFunc {
	return func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		for _, fn := range fns {
			v, err := fn(ctx, in, channels)
			if err != nil {
				continue // 出错的分支按不匹配处理
			}
			if v.Channel != nil || v.Match {
				return v, nil
			}
		}
		return MatchVerdict(false), nil
	}
}

// Not 取反；直选渠道视为匹配，因此取反后不匹配。
func Not(fn RouterFunc) RouterFunc {
	return func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		v, err := fn(ctx, in, channels)
		if err != nil {
			return Verdict{}, err
		}
		return MatchVerdict(!(v.Match || v.Channel != nil)), nil
	}
}

// When 条件为真时执行 then，否则不匹配。
func When(cond RouterFunc, then RouterFunc) RouterFunc {
	return func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		c, err := cond(ctx, in, channels)
		if err != nil {
			return Verdict{}, err
		}
		if !c.Match && c.Channel == nil {
			return MatchVerdict(false), nil
		}
		return then(ctx, in, channels)
	}
}

// Fallback 依次尝试，返回第一个成功且匹配的结果。
func Fallback(fns ...RouterFunc) RouterFunc {
	return func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		var lastErr error
		for _, fn := range fns {
			v, err := fn(ctx, in, channels)
			if err != nil {
				lastErr = err
				continue
			}
			if v.Match || v.Channel != nil {
				return v, nil
			}
		}
		if lastErr != nil {
			return Verdict{}, fmt.Errorf("all fallback routers failed: %w", lastErr)
		}
		return MatchVerdict(false), nil
	}
}
