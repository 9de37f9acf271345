package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/eval"
	applog "skillrag/internal/platform/log"
)

// evaluator 评估管线端口（便于 handler 单测替身）
type evaluator interface {
	Evaluate(ctx context.Context, tenant *directory.Tenant, req *eval.Request) (*eval.Result, error)
	EvaluateBatch(ctx context.Context, tenant *directory.Tenant, reqs []eval.Request) ([]eval.BatchItem, error)
	PreviewContext(ctx context.Context, tenant *directory.Tenant, req *eval.Request) (*eval.ContextPreview, error)
}

// EvaluateHandler 评估 API
type EvaluateHandler struct {
	pipeline evaluator
}

// NewEvaluateHandler 创建评估 handler
func NewEvaluateHandler(pipeline evaluator) *EvaluateHandler {
	return &EvaluateHandler{pipeline: pipeline}
}

// Evaluate POST /api/v1/evaluate
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())

	var req eval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.pipeline.Evaluate(r.Context(), scope.Tenant, &req)
	if err != nil {
		h.writeEvalError(w, scope.Tenant.Slug, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Evaluations []eval.Request `json:"evaluations"`
}

type batchItemResponse struct {
	Result *eval.Result `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type batchResponse struct {
	Items []batchItemResponse `json:"items"`
	Total int                 `json:"total"`
}

// EvaluateBatch POST /api/v1/evaluate/batch
func (h *EvaluateHandler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	items, err := h.pipeline.EvaluateBatch(r.Context(), scope.Tenant, req.Evaluations)
	if err != nil {
		h.writeEvalError(w, scope.Tenant.Slug, err)
		return
	}

	resp := batchResponse{
		Items: make([]batchItemResponse, len(items)),
		Total: len(items),
	}
	for i, item := range items {
		if item.Err != nil {
			resp.Items[i] = batchItemResponse{Error: item.Err.Error()}
			continue
		}
		resp.Items[i] = batchItemResponse{Result: item.Result}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PreviewContext POST /api/v1/evaluate/preview-context
func (h *EvaluateHandler) PreviewContext(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())

	var req eval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	preview, err := h.pipeline.PreviewContext(r.Context(), scope.Tenant, &req)
	if err != nil {
		h.writeEvalError(w, scope.Tenant.Slug, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// writeEvalError 按错误类别映射 HTTP 状态：
// 校验错误 400，检索/生成故障 502，其余 500。
func (h *EvaluateHandler) writeEvalError(w http.ResponseWriter, tenantSlug string, err error) {
	switch {
	case errors.Is(err, eval.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eval.ErrRetrieval), errors.Is(err, eval.ErrGeneration):
		applog.Error("[API/Evaluate] Upstream failure", "tenant", tenantSlug, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		applog.Error("[API/Evaluate] Internal error", "tenant", tenantSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
