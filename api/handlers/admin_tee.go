package handlers

import (
	"net/http"
	"time"

	"github.com/BaSui01/routex/internal/store"
	"github.com/BaSui01/routex/proxy"
	"github.com/BaSui01/routex/tee"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 📤 Tee 目的地管理 Handler
// =============================================================================

// TeeHandler tee 目的地 CRUD 与状态处理器。
// 目的地集合整体安装到流上；持久层（可选）同步写入。
type TeeHandler struct {
	stream *tee.Stream
	db     *store.Store // 可为 nil
	logger *zap.Logger
}

// NewTeeHandler 创建 tee 处理器
func NewTeeHandler(stream *tee.Stream, db *store.Store, logger *zap.Logger) *TeeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeeHandler{stream: stream, db: db, logger: logger}
}

// destinationRequest 创建/更新目的地的请求体
type destinationRequest struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Enabled    *bool             `json:"enabled,omitempty"`
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	FilePath   string            `json:"file_path,omitempty"`
	HandlerRef string            `json:"handler_ref,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	Retries    int               `json:"retries,omitempty"`
	Filter     tee.Filter        `json:"filter"`
}

func (req *destinationRequest) toDestination(id string) *tee.Destination {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &tee.Destination{
		ID:         id,
		Name:       req.Name,
		Type:       tee.Kind(req.Type),
		Enabled:    enabled,
		URL:        req.URL,
		Method:     req.Method,
		Headers:    req.Headers,
		FilePath:   req.FilePath,
		HandlerRef: req.HandlerRef,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		Retries:    req.Retries,
		Filter:     req.Filter,
	}
}

func validateDestination(d *tee.Destination) string {
	if d.Name == "" {
		return "name required"
	}
	switch d.Type {
	case tee.KindHTTP, tee.KindWebhook:
		if d.URL == "" {
			return "url required for http/webhook destinations"
		}
	case tee.KindFile:
		if d.FilePath == "" {
			return "file_path required for file destinations"
		}
	case tee.KindCustom:
		if d.HandlerRef == "" {
			return "handler_ref required for custom destinations"
		}
	default:
		return "unknown destination type: " + string(d.Type)
	}
	return ""
}

func destinationID(r *http.Request) string {
	return r.PathValue("id")
}

// =============================================================================
// 🎯 CRUD
// =============================================================================

// HandleList GET /api/v1/tee/destinations
func (h *TeeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, h.stream.Destinations())
}

// HandleGet GET /api/v1/tee/destinations/{id}
func (h *TeeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	if d := h.find(destinationID(r)); d != nil {
		WriteSuccess(w, d)
		return
	}
	WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "destination not found", h.logger)
}

// HandleCreate POST /api/v1/tee/destinations
func (h *TeeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	var req destinationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	d := req.toDestination(uuid.NewString())
	if msg := validateDestination(d); msg != "" {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, msg, h.logger)
		return
	}

	h.stream.SetDestinations(append(h.stream.Destinations(), d))
	h.persist(d)
	WriteSuccess(w, d)
}

// HandleUpdate PUT /api/v1/tee/destinations/{id}
func (h *TeeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut, h.logger) {
		return
	}
	id := destinationID(r)
	if h.find(id) == nil {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "destination not found", h.logger)
		return
	}

	var req destinationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	d := req.toDestination(id)
	if msg := validateDestination(d); msg != "" {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, msg, h.logger)
		return
	}

	next := make([]*tee.Destination, 0, len(h.stream.Destinations()))
	for _, existing := range h.stream.Destinations() {
		if existing.ID == id {
			next = append(next, d)
		} else {
			next = append(next, existing)
		}
	}
	h.stream.SetDestinations(next)
	h.persist(d)
	WriteSuccess(w, d)
}

// HandleDelete DELETE /api/v1/tee/destinations/{id}
func (h *TeeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete, h.logger) {
		return
	}
	id := destinationID(r)
	current := h.stream.Destinations()
	next := make([]*tee.Destination, 0, len(current))
	for _, d := range current {
		if d.ID != id {
			next = append(next, d)
		}
	}
	if len(next) == len(current) {
		WriteErrorMessage(w, http.StatusNotFound, proxy.KindNotFound, "destination not found", h.logger)
		return
	}
	h.stream.SetDestinations(next)
	if h.db != nil {
		if err := h.db.DeleteDestination(id); err != nil && err != store.ErrNotFound {
			h.logger.Error("delete destination from database failed", zap.String("id", id), zap.Error(err))
		}
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleStats GET /api/v1/tee/stats
// 队列长度是背压信号，运维据此判断下游是否跟得上。
func (h *TeeHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, h.stream.Stats())
}

// =============================================================================
// 🔧 辅助
// =============================================================================

func (h *TeeHandler) find(id string) *tee.Destination {
	for _, d := range h.stream.Destinations() {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (h *TeeHandler) persist(d *tee.Destination) {
	if h.db == nil {
		return
	}
	if err := h.db.SaveDestination(d); err != nil {
		h.logger.Error("persist destination failed", zap.String("destination", d.Name), zap.Error(err))
	}
}
