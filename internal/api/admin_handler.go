package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/kb"
	applog "skillrag/internal/platform/log"
)

// cacheInvalidator 评估缓存的管理端口
type cacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) int
}

// AdminHandler 管理面 API：租户、API key、提示词、缓存。
type AdminHandler struct {
	repo    directory.Repository
	cache   cacheInvalidator
	store   kb.VectorStore
	authCfg *AdminAuthConfig
}

// NewAdminHandler 创建管理 handler
func NewAdminHandler(repo directory.Repository, cache cacheInvalidator, store kb.VectorStore, authCfg *AdminAuthConfig) *AdminHandler {
	return &AdminHandler{
		repo:    repo,
		cache:   cache,
		store:   store,
		authCfg: authCfg,
	}
}

// RegisterPublicRoutes 公开路由（换取管理 token）
func (h *AdminHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/admin/token", h.IssueToken)
}

// RegisterRoutes 管理路由（挂在 adminAuth 中间件之后）
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/tenants", func(r chi.Router) {
		r.Post("/", h.CreateTenant)
		r.Get("/", h.ListTenants)
		r.Get("/{id}", h.GetTenant)
		r.Put("/{id}", h.UpdateTenant)
		r.Delete("/{id}", h.DeleteTenant)

		r.Post("/{id}/keys", h.CreateAPIKey)
		r.Get("/{id}/keys", h.ListAPIKeys)
		r.Delete("/{id}/keys/{keyID}", h.RevokeAPIKey)

		r.Post("/{id}/prompts", h.CreatePrompt)
		r.Get("/{id}/prompts", h.ListPrompts)
		r.Put("/{id}/prompts/{promptID}", h.UpdatePrompt)
		r.Delete("/{id}/prompts/{promptID}", h.DeletePrompt)
		r.Post("/{id}/prompts/{promptID}/activate", h.ActivatePrompt)

		r.Post("/{id}/cache/invalidate", h.InvalidateCache)
	})
	r.Get("/admin/stats", h.Stats)
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken POST /api/v1/admin/token
// 请求体携带共享密钥，换取短期管理 JWT。
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Secret == "" || req.Secret != h.authCfg.Secret {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid admin credentials")
		return
	}

	token, expiresAt, err := IssueAdminToken(h.authCfg)
	if err != nil {
		applog.Error("[API/Admin] Failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

// --- 租户 ---

var reSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var tenant directory.Tenant
	if err := json.NewDecoder(r.Body).Decode(&tenant); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tenant.Name == "" || tenant.Slug == "" {
		writeError(w, http.StatusBadRequest, "name and slug are required")
		return
	}
	if !reSlug.MatchString(tenant.Slug) {
		writeError(w, http.StatusBadRequest, "slug must be lowercase alphanumeric with hyphens")
		return
	}

	existing, err := h.repo.GetTenantBySlug(r.Context(), tenant.Slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "slug already in use")
		return
	}

	tenant.IsActive = true
	if err := h.repo.CreateTenant(r.Context(), &tenant); err != nil {
		applog.Error("[API/Admin] Failed to create tenant", "slug", tenant.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}
	applog.Info("[API/Admin] Tenant created", "tenant_id", tenant.ID, "slug", tenant.Slug)
	writeJSON(w, http.StatusCreated, tenant)
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.repo.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *AdminHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Model       *string `json:"model"`
		IsActive    *bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Description != nil {
		tenant.Description = *req.Description
	}
	if req.Model != nil {
		tenant.Model = *req.Model
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}
	if tenant.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.repo.UpdateTenant(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// DeleteTenant 删除租户并清理其缓存与向量数据
func (h *AdminHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteTenant(r.Context(), tenant.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete tenant")
		return
	}

	h.cache.InvalidateTenant(r.Context(), tenant.ID)
	if h.store != nil {
		if err := h.store.DeleteNamespace(r.Context(), tenant.Namespace()); err != nil {
			applog.Warn("[API/Admin] Failed to purge tenant namespace", "namespace", tenant.Namespace(), "error", err)
		}
	}

	applog.Info("[API/Admin] Tenant deleted", "tenant_id", tenant.ID, "slug", tenant.Slug)
	writeError(w, http.StatusOK, "ok")
}

// --- API key ---

type createKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	directory.APIKey
	Key string `json:"key"` // 明文只在此返回一次
}

func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	fullKey, prefix, hash, err := directory.GenerateAPIKey()
	if err != nil {
		applog.Error("[API/Admin] Failed to generate api key", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate api key")
		return
	}

	key := directory.APIKey{
		TenantID:  tenant.ID,
		Name:      req.Name,
		KeyPrefix: prefix,
		KeyHash:   hash,
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.repo.CreateAPIKey(r.Context(), &key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	applog.Info("[API/Admin] API key created", "tenant_id", tenant.ID, "key_prefix", prefix)
	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: key, Key: fullKey})
}

func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	keys, err := h.repo.ListAPIKeys(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AdminHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	keyID := chi.URLParam(r, "keyID")
	if err := h.repo.RevokeAPIKey(r.Context(), tenant.ID, keyID); err != nil {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	writeError(w, http.StatusOK, "ok")
}

// --- 提示词 ---

func (h *AdminHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}

	var prompt directory.Prompt
	if err := json.NewDecoder(r.Body).Decode(&prompt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !prompt.Type.Valid() {
		writeError(w, http.StatusBadRequest, "type must be system or evaluation")
		return
	}
	if prompt.Name == "" || prompt.Content == "" {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}

	prompt.TenantID = tenant.ID
	prompt.IsActive = false
	if err := h.repo.CreatePrompt(r.Context(), &prompt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create prompt")
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

func (h *AdminHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	prompts, err := h.repo.ListPrompts(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *AdminHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	promptID := chi.URLParam(r, "promptID")

	existing, err := h.repo.GetPrompt(r.Context(), tenant.ID, promptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update prompt")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Content != nil {
		existing.Content = *req.Content
	}
	if existing.Name == "" || existing.Content == "" {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}

	if err := h.repo.UpdatePrompt(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update prompt")
		return
	}

	// 改激活中的提示词等于换了评估口径，旧缓存立即作废
	if existing.IsActive {
		h.cache.InvalidateTenant(r.Context(), tenant.ID)
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *AdminHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	promptID := chi.URLParam(r, "promptID")
	if err := h.repo.DeletePrompt(r.Context(), tenant.ID, promptID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete prompt")
		return
	}
	writeError(w, http.StatusOK, "ok")
}

func (h *AdminHandler) ActivatePrompt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	promptID := chi.URLParam(r, "promptID")
	if err := h.repo.ActivatePrompt(r.Context(), tenant.ID, promptID); err != nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}

	applog.Info("[API/Admin] Prompt activated", "tenant_id", tenant.ID, "prompt_id", promptID)
	writeError(w, http.StatusOK, "ok")
}

// --- 缓存与统计 ---

func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	deleted := h.cache.InvalidateTenant(r.Context(), tenant.ID)
	writeJSON(w, http.StatusOK, map[string]int{"keys_deleted": deleted})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"namespaces": map[string]kb.NamespaceStats{}})
		return
	}
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		applog.Error("[API/Admin] Failed to get vector store stats", "error", err)
		writeError(w, http.StatusBadGateway, "failed to get vector store stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"namespaces": stats})
}

// loadTenant 从路径参数加载租户，不存在时写 404。
func (h *AdminHandler) loadTenant(w http.ResponseWriter, r *http.Request) (*directory.Tenant, bool) {
	id := chi.URLParam(r, "id")
	tenant, err := h.repo.GetTenant(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get tenant")
		return nil, false
	}
	if tenant == nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return nil, false
	}
	return tenant, true
}
