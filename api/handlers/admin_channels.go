package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/internal/store"
	"github.com/BaSui01/routex/provider"
	"github.com/BaSui01/routex/proxy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 渠道管理 Handler
// =============================================================================

// ChannelHandler 渠道 CRUD 与测试处理器。
// 运行时注册表是事实来源；持久层（可选）在每次变更后同步写入。
type ChannelHandler struct {
	channels *channel.Store
	db       *store.Store // 可为 nil（纯内存模式）
	client   *http.Client
	logger   *zap.Logger
}

// NewChannelHandler 创建渠道处理器
func NewChannelHandler(channels *channel.Store, db *store.Store, logger *zap.Logger) *ChannelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelHandler{
		channels: channels,
		db:       db,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// channelRequest 创建/更新渠道的请求体
type channelRequest struct {
	Name         string                      `json:"name"`
	Type         string                      `json:"type"`
	BaseURL      string                      `json:"base_url,omitempty"`
	APIKey       string                      `json:"api_key,omitempty"`
	Models       []string                    `json:"models,omitempty"`
	Priority     int                         `json:"priority"`
	Weight       int                         `json:"weight"`
	Status       string                      `json:"status,omitempty"`
	Transformers []channel.TransformerConfig `json:"transformers,omitempty"`
}

// channelResponse 脱敏后的渠道响应
type channelResponse struct {
	ID           string                      `json:"id"`
	Name         string                      `json:"name"`
	Type         string                      `json:"type"`
	BaseURL      string                      `json:"base_url,omitempty"`
	APIKeyMasked string                      `json:"api_key"`
	Models       []string                    `json:"models,omitempty"`
	Priority     int                         `json:"priority"`
	Weight       int                         `json:"weight"`
	Status       string                      `json:"status"`
	RequestCount int64                       `json:"request_count"`
	SuccessCount int64                       `json:"success_count"`
	FailureCount int64                       `json:"failure_count"`
	Transformers []channel.TransformerConfig `json:"transformers,omitempty"`
}

// maskAPIKey 脱敏凭据，仅显示末 4 位
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func toChannelResponse(c *channel.Channel) channelResponse {
	return channelResponse{
		ID:           c.ID,
		Name:         c.Name,
		Type:         string(c.Type),
		BaseURL:      c.BaseURL,
		APIKeyMasked: maskAPIKey(c.APIKey),
		Models:       c.Models,
		Priority:     c.Priority,
		Weight:       c.Weight,
		Status:       string(c.Status),
		RequestCount: c.RequestCount,
		SuccessCount: c.SuccessCount,
		FailureCount: c.FailureCount,
		Transformers: c.Transformers,
	}
}

// channelID 从路径提取渠道 id（Go 1.22+ PathValue）
func channelID(r *http.Request) string {
	return r.PathValue("id")
}

// =============================================================================
// 🎯 CRUD
// =============================================================================

// HandleList GET /api/v1/channels
func (h *ChannelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	channels := h.channels.List()
	out := make([]channelResponse, 0, len(channels))
	for _, c := range channels {
		out = append(out, toChannelResponse(c))
	}
	WriteSuccess(w, out)
}

// HandleGet GET /api/v1/channels/{id}
func (h *ChannelHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	c, ok := h.channels.Get(channelID(r))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "channel not found", h.logger)
		return
	}
	WriteSuccess(w, toChannelResponse(c))
}

// HandleCreate POST /api/v1/channels
func (h *ChannelHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	var req channelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	c := req.toChannel(uuid.NewString())
	if err := h.validate(c); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	if err := h.channels.Upsert(c); err != nil {
		WriteErrorMessage(w, http.StatusConflict, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	h.persist(c)

	WriteSuccess(w, toChannelResponse(c))
}

// HandleUpdate PUT /api/v1/channels/{id}
func (h *ChannelHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut, h.logger) {
		return
	}
	id := channelID(r)
	existing, ok := h.channels.Get(id)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "channel not found", h.logger)
		return
	}

	var req channelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	c := req.toChannel(id)
	if c.APIKey == "" {
		// 更新请求可省略凭据，保留原值
		c.APIKey = existing.APIKey
	}
	if err := h.validate(c); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	if err := h.channels.Upsert(c); err != nil {
		WriteErrorMessage(w, http.StatusConflict, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	h.persist(c)

	updated, _ := h.channels.Get(id)
	WriteSuccess(w, toChannelResponse(updated))
}

// HandleDelete DELETE /api/v1/channels/{id}
func (h *ChannelHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete, h.logger) {
		return
	}
	id := channelID(r)
	if err := h.channels.Delete(id); err != nil {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "channel not found", h.logger)
		return
	}
	if h.db != nil {
		if err := h.db.DeleteChannel(id); err != nil && err != store.ErrNotFound {
			h.logger.Error("delete channel from database failed", zap.String("id", id), zap.Error(err))
		}
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleSetStatus POST /api/v1/channels/{id}/enable 与 /disable
func (h *ChannelHandler) HandleSetStatus(status channel.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodPost, h.logger) {
			return
		}
		id := channelID(r)
		if err := h.channels.SetStatus(id, status); err != nil {
			WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "channel not found", h.logger)
			return
		}
		if c, ok := h.channels.Get(id); ok {
			h.persist(c)
			WriteSuccess(w, toChannelResponse(c))
			return
		}
		WriteSuccess(w, map[string]string{"id": id, "status": string(status)})
	}
}

// HandleStats GET /api/v1/channels/stats
func (h *ChannelHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, h.channels.GetStats())
}

// =============================================================================
// 🔍 探测
// =============================================================================

// testResult 渠道探测结果
type testResult struct {
	Reachable bool   `json:"reachable"`
	Status    int    `json:"status,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HandleTest POST /api/v1/channels/{id}/test
// 向上游发送最小探测请求，不计入渠道计数器。
func (h *ChannelHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	c, ok := h.channels.Get(channelID(r))
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "channel not found", h.logger)
		return
	}

	adapter, err := provider.ForType(c.Type)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}

	model := "probe"
	if len(c.Models) > 0 {
		model = c.Models[0]
	}
	probe := map[string]any{
		"model":      model,
		"max_tokens": 1,
		"messages": []any{
			map[string]any{"role": "user", "content": "ping"},
		},
	}
	payload, _ := json.Marshal(probe)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		adapter.BuildURL(c, "/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range adapter.AuthHeaders(c) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	latency := time.Since(start)

	result := testResult{LatencyMs: latency.Milliseconds()}
	if err != nil {
		result.Error = err.Error()
	} else {
		defer resp.Body.Close()
		result.Reachable = true
		result.Status = resp.StatusCode
	}
	WriteSuccess(w, result)
}

// =============================================================================
// 🔧 辅助
// =============================================================================

func (req *channelRequest) toChannel(id string) *channel.Channel {
	status := channel.Status(req.Status)
	if status == "" {
		status = channel.StatusEnabled
	}
	return &channel.Channel{
		ID:           id,
		Name:         req.Name,
		Type:         channel.Type(req.Type),
		BaseURL:      req.BaseURL,
		APIKey:       req.APIKey,
		Models:       req.Models,
		Priority:     req.Priority,
		Weight:       req.Weight,
		Status:       status,
		Transformers: req.Transformers,
	}
}

func (h *ChannelHandler) validate(c *channel.Channel) error {
	if c.Name == "" {
		return &proxy.Error{Kind: proxy.KindValidation, Message: "name required", HTTPStatus: http.StatusBadRequest}
	}
	adapter, err := provider.ForType(c.Type)
	if err != nil {
		return err
	}
	return adapter.Validate(c)
}

// persist 同步写入持久层；失败只记日志，运行时状态不回滚。
func (h *ChannelHandler) persist(c *channel.Channel) {
	if h.db == nil {
		return
	}
	if err := h.db.SaveChannel(c); err != nil {
		h.logger.Error("persist channel failed", zap.String("channel", c.Name), zap.Error(err))
	}
}
