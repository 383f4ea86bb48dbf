package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/internal/metrics"
	"github.com/BaSui01/routex/provider"
	"github.com/BaSui01/routex/routing"
	"github.com/BaSui01/routex/tee"
	"github.com/BaSui01/routex/transform"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 转发引擎
// =============================================================================

// Config 引擎配置
type Config struct {
	// UpstreamTimeout 单次上游调用超时，默认 60s
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" json:"upstream_timeout"`

	// MaxRetries 失败后换渠道重试的预算，默认 2；
	// 同一请求内绝不重试同一渠道。
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

func (c Config) withDefaults() Config {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	return c
}

// Request 入口请求
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    map[string]any

	// SessionID 可选的会话亲和键；为空时从 body metadata 推导
	SessionID string
	// RequestID 可选；为空时生成
	RequestID string
}

// Response 转发结果
type Response struct {
	Status  int
	Body    map[string]any
	Headers map[string]string

	ChannelName string
	RuleName    string
	Usage       provider.Usage
	Latency     time.Duration
}

// Record 单次上游调用的日志记录（传给持久化回调）
type Record struct {
	ChannelID    string
	ChannelName  string
	Model        string
	Method       string
	Path         string
	StatusCode   int
	Latency      time.Duration
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	Success      bool
	Error        string
	Timestamp    time.Time
}

// Engine 每请求的转发流程。
// 引擎自身无请求级状态，可被并发请求共享；
// 渠道计数与门控的变更全部经由 channel.Store 串行化。
type Engine struct {
	cfg      Config
	channels *channel.Store
	router   *routing.SmartRouter
	balancer *routing.Balancer
	pipeline *transform.Pipeline
	stream   *tee.Stream        // 可为 nil
	metrics  *metrics.Collector // 可为 nil
	onRecord func(Record)       // 可为 nil；每次上游调用结束后异步回调
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

// Option 引擎可选依赖
type Option func(*Engine)

// WithTee 挂接 tee 流
func WithTee(s *tee.Stream) Option {
	return func(e *Engine) { e.stream = s }
}

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecordSink 挂接请求日志回调（异步调用）
func WithRecordSink(fn func(Record)) Option {
	return func(e *Engine) { e.onRecord = fn }
}

// WithHTTPClient 覆盖上游 HTTP 客户端（测试注入）
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// NewEngine 创建转发引擎
func NewEngine(cfg Config, channels *channel.Store, router *routing.SmartRouter, balancer *routing.Balancer, pipeline *transform.Pipeline, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pipeline == nil {
		pipeline = transform.NewPipeline(nil, logger)
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		channels: channels,
		router:   router,
		balancer: balancer,
		pipeline: pipeline,
		client:   &http.Client{},
		logger:   logger.With(zap.String("component", "proxy")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forward 执行完整转发流程。
// 返回的 error 总是 *Error；失败时 Response 可能携带最后一次
// 尝试的 X-Channel-Name 头。
func (e *Engine) Forward(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Body == nil {
		return nil, validationError("request body required")
	}
	rc, err := e.routeContext(req)
	if err != nil {
		return nil, err
	}

	attempted := make(map[string]bool)
	var lastErr *Error
	var lastChannel string

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		eligible := e.eligibleExcluding(rc.Model, attempted)
		if len(eligible) == 0 {
			break
		}

		decision, routeErr := e.router.Route(ctx, rc, eligible)
		if routeErr != nil {
			return nil, AsError(routeErr)
		}

		ch := decision.Channel
		source := "rule"
		if ch == nil {
			ch = e.balancer.Pick(ctx, rc, eligible)
			source = "balancer"
		}
		if ch == nil {
			break
		}
		attempted[ch.ID] = true
		lastChannel = ch.Name

		ruleName := ""
		if decision.Rule != nil {
			ruleName = decision.Rule.Name
		}
		if e.metrics != nil {
			e.metrics.RecordRoutingDecision(source, ruleName)
		}

		model := rc.Model
		if decision.Model != "" {
			model = decision.Model
		}

		resp, attemptErr := e.attempt(ctx, req, rc, ch, model, ruleName, attempt)
		if attemptErr == nil {
			return resp, nil
		}
		lastErr = attemptErr

		if !attemptErr.Retryable {
			break
		}
		if e.metrics != nil && attempt < e.cfg.MaxRetries {
			e.metrics.RecordRetry(ch.Name)
		}
		e.logger.Warn("upstream attempt failed, retrying on another channel",
			zap.String("channel", ch.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(attemptErr),
		)
	}

	if lastErr == nil {
		if e.allCircuitBroken(rc.Model) {
			return nil, circuitOpenError(rc.Model)
		}
		return nil, unavailableError("no eligible channel for model " + rc.Model)
	}
	if lastChannel != "" {
		if lastErr.Details == nil {
			lastErr.Details = make(map[string]any)
		}
		lastErr.Details["channel"] = lastChannel
	}
	return nil, lastErr
}

// allCircuitBroken 判断支持该模型的非禁用渠道是否全部处于熔断窗口内。
// 存在至少一个候选且无一可用时才成立；空渠道列表不算熔断。
func (e *Engine) allCircuitBroken(model string) bool {
	now := e.now()
	broken := false
	for _, c := range e.channels.List() {
		if c.Status == channel.StatusDisabled || !c.SupportsModel(model) {
			continue
		}
		if c.Status == channel.StatusCircuitBroken && now.Before(c.CircuitBreakerUntil) {
			broken = true
			continue
		}
		return false
	}
	return broken
}

// eligibleExcluding 返回未尝试过的可选渠道
func (e *Engine) eligibleExcluding(model string, attempted map[string]bool) []*channel.Channel {
	eligible := e.channels.Eligible(model)
	if len(attempted) == 0 {
		return eligible
	}
	out := eligible[:0]
	for _, c := range eligible {
		if !attempted[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// attempt 在单个渠道上执行一次上游调用。
func (e *Engine) attempt(ctx context.Context, req *Request, rc *routing.Context, ch *channel.Channel, model, ruleName string, attempt int) (*Response, *Error) {
	adapter, err := provider.ForType(ch.Type)
	if err != nil {
		return nil, validationError("channel %s: %v", ch.Name, err)
	}
	if err := adapter.Validate(ch); err != nil {
		return nil, validationError("%v", err)
	}

	wasBroken := ch.Status == channel.StatusCircuitBroken
	if wasBroken && e.metrics != nil {
		e.metrics.RecordBreakerTransition(ch.Name, "half_open")
	}

	body := cloneTop(req.Body)
	if model != "" {
		body["model"] = model
	}

	// 用户管线（声明顺序）→ 提供者格式修补
	specs := transform.SpecsFromChannel(ch.Transformers)
	reqOut, perr := e.pipeline.Request(ctx, specs, body, rc)
	if perr != nil {
		return nil, transformerError(perr)
	}
	upstreamBody, perr := adapter.TransformRequest(ctx, reqOut.Body)
	if perr != nil {
		return nil, transformerError(perr)
	}

	payload, perr := json.Marshal(upstreamBody)
	if perr != nil {
		return nil, validationError("marshal upstream body: %v", perr)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.UpstreamTimeout)
	defer cancel()

	httpReq, perr := http.NewRequestWithContext(callCtx, req.Method, adapter.BuildURL(ch, req.Path), bytes.NewReader(payload))
	if perr != nil {
		return nil, validationError("build upstream request: %v", perr)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range adapter.AuthHeaders(ch) {
		httpReq.Header.Set(k, v)
	}
	for k, v := range reqOut.Headers {
		httpReq.Header.Set(k, v)
	}

	if err := e.channels.MarkDispatch(ch.ID); err != nil {
		return nil, notFoundError("channel %s: %v", ch.Name, err)
	}

	start := e.now()
	httpResp, callErr := e.client.Do(httpReq)
	latency := e.now().Sub(start)

	if callErr != nil {
		e.channels.MarkFailure(ch.ID)
		e.observeBreaker(ch, wasBroken)
		tagged := classifyTransportError(callErr)
		e.report(req, rc, ch, model, nil, tagged.HTTPStatus, latency, provider.Usage{}, false, tagged.Message)
		return nil, tagged
	}
	defer httpResp.Body.Close()

	raw, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		e.channels.MarkFailure(ch.ID)
		e.observeBreaker(ch, wasBroken)
		tagged := upstreamError(502, "read upstream response: "+readErr.Error(), true)
		e.report(req, rc, ch, model, nil, 502, latency, provider.Usage{}, false, tagged.Message)
		return nil, tagged
	}

	var respBody map[string]any
	if len(raw) > 0 {
		// 错误响应可能不是 JSON，按文本透传
		if jerr := json.Unmarshal(raw, &respBody); jerr != nil {
			respBody = map[string]any{"raw": string(raw)}
		}
	}

	if httpResp.StatusCode >= 400 {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"), e.now())
		switch {
		case httpResp.StatusCode == http.StatusTooManyRequests,
			httpResp.StatusCode == http.StatusServiceUnavailable && retryAfter > 0:
			e.channels.MarkRateLimited(ch.ID, retryAfter)
			if e.metrics != nil {
				e.metrics.RecordRateLimited(ch.Name)
			}
		default:
			e.channels.MarkFailure(ch.ID)
			e.observeBreaker(ch, wasBroken)
		}

		msg := upstreamMessage(respBody, httpResp.StatusCode)
		retryable := httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests
		tagged := upstreamError(httpResp.StatusCode, msg, retryable)
		e.report(req, rc, ch, model, respBody, httpResp.StatusCode, latency, provider.Usage{}, false, msg)
		return nil, tagged
	}

	e.channels.MarkSuccess(ch.ID)
	if wasBroken && e.metrics != nil {
		e.metrics.RecordBreakerTransition(ch.Name, "closed")
	}

	usage := adapter.ExtractTokenUsage(respBody)

	// 提供者格式修补 → 用户管线逆序
	fixed, perr := adapter.TransformResponse(ctx, respBody)
	if perr != nil {
		return nil, transformerError(perr)
	}
	respOut, perr := e.pipeline.Response(ctx, specs, fixed, rc)
	if perr != nil {
		return nil, transformerError(perr)
	}

	headers := make(map[string]string, len(reqOut.Headers)+2)
	for k, v := range reqOut.Headers {
		headers[k] = v
	}
	headers["X-Channel-Name"] = ch.Name
	if ruleName != "" {
		headers["X-Routing-Rule"] = ruleName
	}

	status := "2xx"
	if e.metrics != nil {
		e.metrics.RecordProxyRequest(ch.Name, model, status, latency, usage.Input, usage.Output, usage.Cached)
	}
	e.report(req, rc, ch, model, respOut.Body, httpResp.StatusCode, latency, usage, true, "")

	e.logger.Debug("request proxied",
		zap.String("channel", ch.Name),
		zap.String("model", model),
		zap.Int("attempt", attempt+1),
		zap.Duration("latency", latency),
	)

	return &Response{
		Status:      httpResp.StatusCode,
		Body:        respOut.Body,
		Headers:     headers,
		ChannelName: ch.Name,
		RuleName:    ruleName,
		Usage:       usage,
		Latency:     latency,
	}, nil
}

// observeBreaker 失败后上报熔断状态迁移
func (e *Engine) observeBreaker(ch *channel.Channel, wasBroken bool) {
	if e.metrics == nil {
		return
	}
	after, ok := e.channels.Get(ch.ID)
	if !ok {
		return
	}
	if after.Status == channel.StatusCircuitBroken && !wasBroken {
		e.metrics.RecordBreakerTransition(ch.Name, "open")
	}
}

// report 旁路汇报：tee 与请求日志，绝不影响客户端响应。
func (e *Engine) report(req *Request, rc *routing.Context, ch *channel.Channel, model string, respBody map[string]any, status int, latency time.Duration, usage provider.Usage, success bool, errMsg string) {
	if e.stream != nil {
		e.stream.Tee(ch,
			tee.RequestInfo{Method: req.Method, Path: req.Path, Model: model, Body: req.Body, Headers: req.Headers},
			tee.ResponseInfo{Status: status, Body: respBody, Latency: latency},
			tee.TokenUsage{Input: usage.Input, Output: usage.Output, Cached: usage.Cached},
			success, errMsg)
		if e.metrics != nil {
			e.metrics.SetTeeQueueSize(e.stream.Stats().QueueSize)
		}
	}
	if e.onRecord != nil {
		rec := Record{
			ChannelID:    ch.ID,
			ChannelName:  ch.Name,
			Model:        model,
			Method:       req.Method,
			Path:         req.Path,
			StatusCode:   status,
			Latency:      latency,
			InputTokens:  usage.Input,
			OutputTokens: usage.Output,
			CachedTokens: usage.Cached,
			Success:      success,
			Error:        errMsg,
			Timestamp:    e.now(),
		}
		go e.onRecord(rec)
	}
}

// routeContext 从请求体构造路由上下文。
// 支持 Anthropic Messages 与 OpenAI Chat Completions 两种消息形态。
func (e *Engine) routeContext(req *Request) (*routing.Context, *Error) {
	model, _ := req.Body["model"].(string)
	if model == "" {
		return nil, validationError("model required")
	}

	rc := &routing.Context{
		Model:     model,
		SessionID: req.SessionID,
		Metadata:  map[string]string{},
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	rc.Metadata["request_id"] = requestID

	if rc.SessionID == "" {
		if md, ok := req.Body["metadata"].(map[string]any); ok {
			if uid, ok := md["user_id"].(string); ok {
				rc.SessionID = uid
			}
		}
	}

	if system, ok := req.Body["system"].(string); ok && system != "" {
		rc.Messages = append(rc.Messages, routing.TextMessage("system", system))
	}
	if msgs, ok := req.Body["messages"].([]any); ok {
		for _, m := range msgs {
			mm, ok := m.(map[string]any)
			if !ok {
				continue
			}
			role, _ := mm["role"].(string)
			rc.Messages = append(rc.Messages, parseMessage(role, mm["content"]))
		}
	}
	if len(rc.Messages) == 0 {
		return nil, validationError("messages required")
	}

	if tools, ok := req.Body["tools"].([]any); ok {
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			name, _ := tm["name"].(string)
			if name == "" {
				if fn, ok := tm["function"].(map[string]any); ok {
					name, _ = fn["name"].(string)
				}
			}
			if name != "" {
				rc.Tools = append(rc.Tools, routing.Tool{Name: name})
			}
		}
	}

	return rc, nil
}

func parseMessage(role string, content any) routing.Message {
	msg := routing.Message{Role: role}
	switch c := content.(type) {
	case string:
		msg.Content = []routing.ContentBlock{{Type: "text", Text: c}}
	case []any:
		for _, block := range c {
			bm, ok := block.(map[string]any)
			if !ok {
				continue
			}
			blockType, _ := bm["type"].(string)
			text, _ := bm["text"].(string)
			if blockType == "image_url" {
				blockType = "image"
			}
			msg.Content = append(msg.Content, routing.ContentBlock{Type: blockType, Text: text})
		}
	}
	return msg
}

// classifyTransportError 网络层错误 → 标签错误
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var uerr interface{ Timeout() bool }
	if errors.As(err, &uerr) && uerr.Timeout() {
		return timeoutError(err)
	}
	return upstreamError(502, fmt.Sprintf("upstream request failed: %v", err), true)
}

// parseRetryAfter 解析 Retry-After 头（秒数或 HTTP 日期）。
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func upstreamMessage(body map[string]any, status int) string {
	if body != nil {
		if em, ok := body["error"].(map[string]any); ok {
			if msg, ok := em["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := body["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("upstream returned status %d", status)
}

func cloneTop(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
