package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BaSui01/routex/proxy"

	"go.uber.org/zap"
)

// =============================================================================
// 🔀 代理入口 Handler
// =============================================================================

// ProxyHandler 代理入口处理器。
// 接收 Anthropic Messages / OpenAI Chat Completions 形态的请求体，
// 交由引擎转发并透传上游响应。
type ProxyHandler struct {
	engine  *proxy.Engine
	logger  *zap.Logger
	maxBody int64
}

// NewProxyHandler 创建代理处理器
func NewProxyHandler(engine *proxy.Engine, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{engine: engine, logger: logger, maxBody: defaultProxyBodyLimit}
}

// WithMaxBodyBytes 设置请求体上限；n <= 0 时保留默认值
func (h *ProxyHandler) WithMaxBodyBytes(n int64) *ProxyHandler {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// defaultProxyBodyLimit 代理请求体默认上限
const defaultProxyBodyLimit = 32 << 20 // 32 MB

// HandleProxy 处理 POST /v1/messages 与 POST /v1/chat/completions
// @Summary 转发 LLM 请求
// @Description 按路由规则与负载均衡策略选择上游渠道并转发
// @Tags 代理
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any "上游响应"
// @Failure 503 {object} map[string]any "无可用渠道"
// @Router /v1/messages [post]
func (h *ProxyHandler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeProxyError(w, &proxy.Error{
			Kind: proxy.KindValidation, Message: "method not allowed", HTTPStatus: http.StatusMethodNotAllowed,
		})
		return
	}

	var body map[string]any
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := decoder.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeProxyError(w, &proxy.Error{
				Kind: proxy.KindValidation, Message: "request body too large", HTTPStatus: http.StatusRequestEntityTooLarge,
			})
			return
		}
		h.writeProxyError(w, &proxy.Error{
			Kind: proxy.KindValidation, Message: "invalid JSON body", HTTPStatus: http.StatusBadRequest,
		})
		return
	}

	req := &proxy.Request{
		Method:    http.MethodPost,
		Path:      r.URL.Path,
		Headers:   proxyHeaders(r),
		Body:      body,
		SessionID: r.Header.Get("X-Session-Id"),
		RequestID: r.Header.Get("X-Request-Id"),
	}

	resp, err := h.engine.Forward(r.Context(), req)
	if err != nil {
		tagged := proxy.AsError(err)
		if ch, ok := tagged.Details["channel"].(string); ok {
			w.Header().Set("X-Channel-Name", ch)
		}
		h.writeProxyError(w, tagged)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	WriteJSON(w, resp.Status, resp.Body)
}

// writeProxyError 客户端可见错误体 {error: {kind, message, details?}}
func (h *ProxyHandler) writeProxyError(w http.ResponseWriter, err *proxy.Error) {
	h.logger.Warn("proxy request failed",
		zap.String("kind", string(err.Kind)),
		zap.Int("status", err.HTTPStatus),
		zap.String("message", err.Message),
	)
	WriteJSON(w, err.HTTPStatus, err.ResponseBody())
}

// proxyHeaders 提取与转发/tee 相关的入站头（剥离鉴权）。
func proxyHeaders(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, k := range []string{"Content-Type", "User-Agent", "X-Request-Id", "X-Session-Id"} {
		if v := r.Header.Get(k); v != "" {
			out[k] = v
		}
	}
	return out
}
