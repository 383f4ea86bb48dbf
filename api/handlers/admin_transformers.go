package handlers

import (
	"net/http"

	"github.com/BaSui01/routex/proxy"
	"github.com/BaSui01/routex/routing"
	"github.com/BaSui01/routex/transform"

	"go.uber.org/zap"
)

// =============================================================================
// 🔧 转换器管理 Handler
// =============================================================================

// TransformerHandler 转换器列表与单发试算处理器
type TransformerHandler struct {
	pipeline *transform.Pipeline
	logger   *zap.Logger
}

// NewTransformerHandler 创建转换器处理器
func NewTransformerHandler(pipeline *transform.Pipeline, logger *zap.Logger) *TransformerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransformerHandler{pipeline: pipeline, logger: logger}
}

// HandleList GET /api/v1/transformers
// 返回已注册转换器与可用预设。
func (h *TransformerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteSuccess(w, map[string]any{
		"transformers": h.pipeline.Registry().Names(),
		"presets":      transform.PresetNames(),
	})
}

// transformerTestRequest 单发试算请求
type transformerTestRequest struct {
	// Transformers 管线步骤；与 Preset 二选一
	Transformers []transformerTestSpec `json:"transformers,omitempty"`
	// Preset 预设名（safe/strict/balanced/quality）
	Preset string `json:"preset,omitempty"`
	// Direction request（默认）或 response
	Direction string `json:"direction,omitempty"`
	// Body 被变换的 JSON 体
	Body map[string]any `json:"body"`
	// Model 可选的路由上下文模型
	Model string `json:"model,omitempty"`
}

type transformerTestSpec struct {
	Name        string            `json:"name"`
	Options     map[string]any    `json:"options,omitempty"`
	SkipOnError bool              `json:"skip_on_error,omitempty"`
}

// transformerTestResponse 试算结果
type transformerTestResponse struct {
	Body     map[string]any     `json:"body"`
	Headers  map[string]string  `json:"headers,omitempty"`
	Metadata transform.Metadata `json:"metadata"`
}

// HandleTest POST /api/v1/transformers/test
// 对给定 body 单发运行一条管线，返回变换结果与执行记录。
func (h *TransformerHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	var req transformerTestRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, "body required", h.logger)
		return
	}

	var specs []transform.Spec
	switch {
	case req.Preset != "":
		preset, ok := transform.Preset(req.Preset)
		if !ok {
			WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, "unknown preset: "+req.Preset, h.logger)
			return
		}
		specs = preset
	case len(req.Transformers) > 0:
		specs = make([]transform.Spec, 0, len(req.Transformers))
		for _, s := range req.Transformers {
			specs = append(specs, transform.Spec{
				Name:        s.Name,
				Options:     transform.Options(s.Options),
				SkipOnError: s.SkipOnError,
			})
		}
	default:
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindValidation, "transformers or preset required", h.logger)
		return
	}

	rc := &routing.Context{Model: req.Model}

	var outcome *transform.Outcome
	var err error
	if req.Direction == "response" {
		outcome, err = h.pipeline.Response(r.Context(), specs, req.Body, rc)
	} else {
		outcome, err = h.pipeline.Request(r.Context(), specs, req.Body, rc)
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, proxy.KindTransformer, err.Error(), h.logger)
		return
	}

	WriteSuccess(w, transformerTestResponse{
		Body:     outcome.Body,
		Headers:  outcome.Headers,
		Metadata: outcome.Metadata,
	})
}
