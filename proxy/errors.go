// Package proxy 实现每请求的转发流程：
// 内容分析 → 智能路由 → 负载均衡 → 转换管线 → 上游调用 → 逆序响应变换，
// 并负责重试预算、响应头、指标与 tee 的旁路汇报。
package proxy

import (
	"errors"
	"fmt"
)

// Kind 统一的网关错误种类，用于对齐 HTTP 状态与可重试性。
type Kind string

const (
	KindValidation         Kind = "validation_error"          // 请求/配置格式错误
	KindNotFound           Kind = "not_found"                 // 渠道/规则/目的地不存在
	KindServiceUnavailable Kind = "service_unavailable"       // 无可用渠道
	KindTransformer        Kind = "transformer_error"         // 管线步骤失败
	KindUpstream           Kind = "upstream_error"            // 上游 4xx/5xx 或网络错误
	KindTimeout            Kind = "timeout"                   // 任一环节超时
	KindCircuitOpen        Kind = "circuit_open"              // 候选渠道全部熔断
)

// Error 带种类标签的网关错误
type Error struct {
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap 暴露底层错误链
func (e *Error) Unwrap() error { return e.cause }

// ResponseBody 客户端可见的错误体 {error: {kind, message, details?}}
func (e *Error) ResponseBody() map[string]any {
	inner := map[string]any{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		inner["details"] = e.Details
	}
	return map[string]any{"error": inner}
}

// AsError 从任意 error 提取 *Error；非标签错误归为上游 502。
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:       KindUpstream,
		Message:    err.Error(),
		HTTPStatus: 502,
		Retryable:  true,
		cause:      err,
	}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), HTTPStatus: 400}
}

func notFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), HTTPStatus: 404}
}

func unavailableError(message string) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: message, HTTPStatus: 503}
}

func circuitOpenError(model string) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Message:    "all candidate channels are circuit-broken",
		HTTPStatus: 503,
		Retryable:  true,
		Details:    map[string]any{"model": model},
	}
}

func transformerError(err error) *Error {
	return &Error{Kind: KindTransformer, Message: err.Error(), HTTPStatus: 500, cause: err}
}

func upstreamError(status int, message string, retryable bool) *Error {
	httpStatus := status
	if httpStatus < 400 {
		httpStatus = 502
	}
	return &Error{
		Kind:       KindUpstream,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  retryable,
		Details:    map[string]any{"upstream_status": status},
	}
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "upstream request timed out", HTTPStatus: 504, Retryable: true, cause: err}
}
