// Package tokenest 提供路由决策所需的 Token 估算，
// 按模型家族（claude/openai）使用字符比例估算，
// 并可选接入 tiktoken 精确计数。估算值仅作为路由信号，
// 是上界估计，绝不用于截断请求。
package tokenest
