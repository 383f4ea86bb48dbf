package handlers

import (
	"net/http"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/internal/store"
	"github.com/BaSui01/routex/proxy"
	"github.com/BaSui01/routex/routing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🧭 路由规则管理 Handler
// =============================================================================

// RuleHandler 路由规则 CRUD 与试算处理器。
// 规则集整体安装：每次变更后重新编译并安装新快照。
type RuleHandler struct {
	router   *routing.SmartRouter
	channels *channel.Store
	db       *store.Store // 可为 nil
	logger   *zap.Logger
}

// NewRuleHandler 创建规则处理器
func NewRuleHandler(router *routing.SmartRouter, channels *channel.Store, db *store.Store, logger *zap.Logger) *RuleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleHandler{router: router, channels: channels, db: db, logger: logger}
}

// ruleRequest 创建/更新规则的请求体
type ruleRequest struct {
	Name          string                `json:"name"`
	Priority      int                   `json:"priority"`
	Enabled       *bool                 `json:"enabled,omitempty"`
	Condition     routing.ConditionSpec `json:"condition"`
	TargetChannel string                `json:"target_channel"`
	TargetModel   string                `json:"target_model,omitempty"`
}

func (req *ruleRequest) toRule(id string) *routing.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &routing.Rule{
		ID:            id,
		Name:          req.Name,
		Priority:      req.Priority,
		Enabled:       enabled,
		Condition:     req.Condition,
		TargetChannel: req.TargetChannel,
		TargetModel:   req.TargetModel,
	}
}

func ruleID(r *http.Request) string {
	return r.PathValue("id")
}

// =============================================================================
// 🎯 CRUD
// =============================================================================

// HandleList GET /api/v1/rules
func (h *RuleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, h.router.Rules())
}

// HandleGet GET /api/v1/rules/{id}
func (h *RuleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	if rule := h.findRule(ruleID(r)); rule != nil {
		WriteSuccess(w, rule)
		return
	}
	WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "rule not found", h.logger)
}

// HandleCreate POST /api/v1/rules
func (h *RuleHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	var req ruleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" || req.TargetChannel == "" {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, "name and target_channel required", h.logger)
		return
	}

	rule := req.toRule(uuid.NewString())
	if err := h.install(append(h.router.Rules(), rule)); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	h.persist(rule)
	WriteSuccess(w, rule)
}

// HandleUpdate PUT /api/v1/rules/{id}
func (h *RuleHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut, h.logger) {
		return
	}
	id := ruleID(r)
	if h.findRule(id) == nil {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "rule not found", h.logger)
		return
	}

	var req ruleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	rule := req.toRule(id)

	next := make([]*routing.Rule, 0, len(h.router.Rules()))
	for _, existing := range h.router.Rules() {
		if existing.ID == id {
			next = append(next, rule)
		} else {
			next = append(next, existing)
		}
	}
	if err := h.install(next); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	h.persist(rule)
	WriteSuccess(w, rule)
}

// HandleDelete DELETE /api/v1/rules/{id}
func (h *RuleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete, h.logger) {
		return
	}
	id := ruleID(r)
	current := h.router.Rules()
	next := make([]*routing.Rule, 0, len(current))
	for _, rule := range current {
		if rule.ID != id {
			next = append(next, rule)
		}
	}
	if len(next) == len(current) {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "rule not found", h.logger)
		return
	}
	if err := h.install(next); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, proxy.KindValidation, err.Error(), h.logger)
		return
	}
	if h.db != nil {
		if err := h.db.DeleteRule(id); err != nil && err != store.ErrNotFound {
			h.logger.Error("delete rule from database failed", zap.String("id", id), zap.Error(err))
		}
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleSetEnabled POST /api/v1/rules/{id}/enable 与 /disable
func (h *RuleHandler) HandleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodPost, h.logger) {
			return
		}
		id := ruleID(r)
		var updated *routing.Rule
		next := make([]*routing.Rule, 0, len(h.router.Rules()))
		for _, existing := range h.router.Rules() {
			if existing.ID == id {
				cp := *existing
				cp.Enabled = enabled
				updated = &cp
				next = append(next, &cp)
			} else {
				next = append(next, existing)
			}
		}
		if updated == nil {
			WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "rule not found", h.logger)
			return
		}
		if err := h.install(next); err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, proxy.KindValidation, err.Error(), h.logger)
			return
		}
		h.persist(updated)
		WriteSuccess(w, updated)
	}
}

// =============================================================================
// 🧪 规则试算
// =============================================================================

// ruleTestRequest 试算请求：合成的入站请求描述
type ruleTestRequest struct {
	Model     string            `json:"model"`
	Messages  []routing.Message `json:"messages"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ruleTestResponse 试算结果：命中的规则与解析到的渠道
type ruleTestResponse struct {
	Matched  bool             `json:"matched"`
	Rule     *routing.Rule    `json:"rule,omitempty"`
	Channel  *channelResponse `json:"channel,omitempty"`
	Model    string           `json:"model,omitempty"`
	Analysis *routing.Analysis `json:"analysis,omitempty"`
}

// HandleTest POST /api/v1/rules/test
// 对合成请求运行路由，返回会命中的规则与解析到的渠道；不派发请求。
func (h *RuleHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	var req ruleTestRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Model == "" {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, "model required", h.logger)
		return
	}

	rc := &routing.Context{
		Model:     req.Model,
		Messages:  req.Messages,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	}
	eligible := h.channels.Eligible(req.Model)
	decision, err := h.router.Route(r.Context(), rc, eligible)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, proxy.KindValidation, err.Error(), h.logger)
		return
	}

	resp := ruleTestResponse{Analysis: decision.Analysis}
	if decision.Channel != nil {
		resp.Matched = true
		resp.Rule = decision.Rule
		resp.Model = decision.Model
		cr := toChannelResponse(decision.Channel)
		resp.Channel = &cr
	}
	WriteSuccess(w, resp)
}

// =============================================================================
// 🔧 辅助
// =============================================================================

func (h *RuleHandler) findRule(id string) *routing.Rule {
	for _, rule := range h.router.Rules() {
		if rule.ID == id {
			return rule
		}
	}
	return nil
}

func (h *RuleHandler) install(rules []*routing.Rule) error {
	return h.router.SetRules(rules)
}

func (h *RuleHandler) persist(rule *routing.Rule) {
	if h.db == nil {
		return
	}
	if err := h.db.SaveRule(rule); err != nil {
		h.logger.Error("persist rule failed", zap.String("rule", rule.Name), zap.Error(err))
	}
}
