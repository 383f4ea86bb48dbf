package transform

import (
	"sort"
	"sync/atomic"
)

// =============================================================================
// 转换器注册表（写时复制）
// =============================================================================

// Registry 进程级转换器注册表。
// 写入安装新快照，读取方无锁；在途请求使用其捕获的快照。
type Registry struct {
	snapshot atomic.Pointer[map[string]Transformer]
}

// NewRegistry 创建注册表并注册全部内置转换器
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Transformer)
	r.snapshot.Store(&empty)

	for _, t := range builtins() {
		r.Register(t)
	}
	return r
}

// NewEmptyRegistry 创建不含内置转换器的空注册表（测试用）
func NewEmptyRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Transformer)
	r.snapshot.Store(&empty)
	return r
}

// Register 注册转换器（同名覆盖）
func (r *Registry) Register(t Transformer) {
	for {
		old := r.snapshot.Load()
		next := make(map[string]Transformer, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[t.Name()] = t
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Unregister 注销转换器
func (r *Registry) Unregister(name string) {
	for {
		old := r.snapshot.Load()
		if _, ok := (*old)[name]; !ok {
			return
		}
		next := make(map[string]Transformer, len(*old))
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

// Get 查找转换器
func (r *Registry) Get(name string) (Transformer, bool) {
	t, ok := (*r.snapshot.Load())[name]
	return t, ok
}

// Names 返回已注册的转换器名（升序）
func (r *Registry) Names() []string {
	snap := *r.snapshot.Load()
	out := make([]string, 0, len(snap))
	for name := range snap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func builtins() []Transformer {
	return []Transformer{
		&MaxTokenTransformer{},
		&SamplingTransformer{},
		&CleanCacheTransformer{},
		&OpenAITransformer{},
		&AnthropicTransformer{},
	}
}
