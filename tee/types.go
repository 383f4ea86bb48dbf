// Package tee 实现请求/响应信封向外部汇的尽力而为异步复制：
// 批量、过滤、重试，队列有界于内存、不落盘。
package tee

import (
	"time"

	"github.com/google/uuid"
)

// Kind 目的地类型
type Kind string

const (
	KindHTTP    Kind = "http"
	KindWebhook Kind = "webhook"
	KindFile    Kind = "file"
	KindCustom  Kind = "custom"
)

// Filter 目的地筛选条件。零值字段不参与筛选。
type Filter struct {
	// SampleRate 采样率 (0,1]；0 视为未设置（全量）
	SampleRate  float64  `json:"sample_rate,omitempty"`
	SuccessOnly bool     `json:"success_only,omitempty"`
	FailureOnly bool     `json:"failure_only,omitempty"`
	Channels    []string `json:"channels,omitempty"`
	Models      []string `json:"models,omitempty"`
	StatusCodes []int    `json:"status_codes,omitempty"`
}

// Destination 汇描述符
type Destination struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    Kind   `json:"type"`
	Filter  Filter `json:"filter"`
	Enabled bool   `json:"enabled"`

	// http/webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"` // 默认 POST
	Headers map[string]string `json:"headers,omitempty"`

	// file
	FilePath string `json:"file_path,omitempty"`

	// custom
	HandlerRef string `json:"handler_ref,omitempty"`

	// Timeout 单次投递超时，默认 10s
	Timeout time.Duration `json:"timeout,omitempty"`
	// Retries 最大尝试次数，默认 3
	Retries int `json:"retries,omitempty"`
}

func (d *Destination) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 10 * time.Second
}

func (d *Destination) retries() int {
	if d.Retries > 0 {
		return d.Retries
	}
	return 3
}

// ChannelInfo 信封中的渠道摘要
type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// RequestInfo 信封中的请求摘要
type RequestInfo struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Model   string            `json:"model,omitempty"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ResponseInfo 信封中的响应摘要
type ResponseInfo struct {
	Status  int               `json:"status"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Latency time.Duration     `json:"latency"`
}

// TokenUsage 信封中的 token 用量
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
}

// Payload 不可变的请求/响应信封。入队后归队列所有。
type Payload struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Channel   ChannelInfo  `json:"channel"`
	Request   RequestInfo  `json:"request"`
	Response  ResponseInfo `json:"response"`
	Tokens    TokenUsage   `json:"tokens"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
}

func newPayload(ch ChannelInfo, req RequestInfo, resp ResponseInfo, tokens TokenUsage, success bool, errMsg string, now time.Time) *Payload {
	return &Payload{
		ID:        uuid.NewString(),
		Timestamp: now,
		Channel:   ch,
		Request:   req,
		Response:  resp,
		Tokens:    tokens,
		Success:   success,
		Error:     errMsg,
	}
}

// matches 采样之外的确定性筛选
func (f *Filter) matches(p *Payload) bool {
	if f.SuccessOnly && !p.Success {
		return false
	}
	if f.FailureOnly && p.Success {
		return false
	}
	if len(f.Channels) > 0 && !containsString(f.Channels, p.Channel.ID) && !containsString(f.Channels, p.Channel.Name) {
		return false
	}
	if len(f.Models) > 0 && !containsString(f.Models, p.Request.Model) {
		return false
	}
	if len(f.StatusCodes) > 0 && !containsInt(f.StatusCodes, p.Response.Status) {
		return false
	}
	return true
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func containsInt(xs []int, want int) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
