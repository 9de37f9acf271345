package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/kb"
	applog "skillrag/internal/platform/log"
)

// DocumentHandler 知识库文档 API：上传解析入库、列表、删除。
type DocumentHandler struct {
	repo      directory.Repository
	parsers   *kb.ParserRegistry
	indexer   *kb.Indexer
	cache     cacheInvalidator
	maxFileMB int
}

// NewDocumentHandler 创建文档 handler
func NewDocumentHandler(repo directory.Repository, parsers *kb.ParserRegistry, indexer *kb.Indexer, cache cacheInvalidator, maxFileMB int) *DocumentHandler {
	if maxFileMB <= 0 {
		maxFileMB = 20
	}
	return &DocumentHandler{
		repo:      repo,
		parsers:   parsers,
		indexer:   indexer,
		cache:     cache,
		maxFileMB: maxFileMB,
	}
}

// RegisterRoutes 注册文档路由（挂在租户鉴权之后）
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Post("/text", h.UploadText)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
}

// Upload POST /api/v1/documents
// multipart 上传：file 必填，title/document_type 可选。
// 解析同步校验，向量化入库异步执行，立即返回 pending 状态的文档。
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())

	maxBytes := int64(h.maxFileMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	parser, err := h.parsers.Get(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	doc := directory.Document{
		TenantID:     scope.Tenant.ID,
		Title:        title,
		DocumentType: r.FormValue("document_type"),
		Filename:     header.Filename,
		Source:       header.Filename,
		Status:       directory.DocumentStatusPending,
	}
	if err := h.repo.CreateDocument(r.Context(), &doc); err != nil {
		applog.Error("[API/Documents] Failed to create document record", "tenant", scope.Tenant.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	// 入库流程放后台执行，HTTP 请求不等待向量化
	go h.processDocument(scope.Tenant, doc, parser, data)

	writeJSON(w, http.StatusAccepted, doc)
}

// UploadText POST /api/v1/documents/text
// 免文件的纯文本入库：title 和 content 必填。
func (h *DocumentHandler) UploadText(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())

	var req struct {
		Title        string `json:"title"`
		Content      string `json:"content"`
		DocumentType string `json:"document_type"`
		Source       string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}
	if len(req.Content) > h.maxFileMB<<20 {
		writeError(w, http.StatusBadRequest, "content too large")
		return
	}

	source := req.Source
	if source == "" {
		source = "inline"
	}

	doc := directory.Document{
		TenantID:     scope.Tenant.ID,
		Title:        req.Title,
		DocumentType: req.DocumentType,
		Source:       source,
		Status:       directory.DocumentStatusPending,
	}
	if err := h.repo.CreateDocument(r.Context(), &doc); err != nil {
		applog.Error("[API/Documents] Failed to create document record", "tenant", scope.Tenant.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	go h.indexText(scope.Tenant, doc, req.Content)

	writeJSON(w, http.StatusAccepted, doc)
}

// indexText 后台将纯文本入库（跳过文件解析），完成后更新状态。
func (h *DocumentHandler) indexText(tenant *directory.Tenant, doc directory.Document, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := h.repo.UpdateDocumentStatus(ctx, doc.ID, directory.DocumentStatusProcessing, 0, ""); err != nil {
		applog.Warn("[API/Documents] Failed to mark document processing", "doc_id", doc.ID, "error", err)
	}

	chunks, err := h.indexer.Index(ctx, tenant.Namespace(), &kb.IndexRequest{
		DocID:   doc.ID,
		Title:   doc.Title,
		Content: content,
		Source:  doc.Source,
		DocType: doc.DocumentType,
	})
	if err != nil {
		h.failDocument(ctx, doc.ID, "index failed: "+err.Error())
		return
	}

	if err := h.repo.UpdateDocumentStatus(ctx, doc.ID, directory.DocumentStatusCompleted, chunks, ""); err != nil {
		applog.Warn("[API/Documents] Failed to mark document completed", "doc_id", doc.ID, "error", err)
	}

	h.cache.InvalidateTenant(ctx, tenant.ID)

	applog.Info("[API/Documents] Text document indexed",
		"tenant", tenant.Slug, "doc_id", doc.ID, "chunks", chunks)
}

// processDocument 后台解析并入库一篇文档，完成后更新状态。
func (h *DocumentHandler) processDocument(tenant *directory.Tenant, doc directory.Document, parser kb.Parser, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := h.repo.UpdateDocumentStatus(ctx, doc.ID, directory.DocumentStatusProcessing, 0, ""); err != nil {
		applog.Warn("[API/Documents] Failed to mark document processing", "doc_id", doc.ID, "error", err)
	}

	parsed, err := parser.Parse(bytes.NewReader(data), doc.Filename)
	if err != nil {
		h.failDocument(ctx, doc.ID, "parse failed: "+err.Error())
		return
	}

	chunks, err := h.indexer.Index(ctx, tenant.Namespace(), &kb.IndexRequest{
		DocID:   doc.ID,
		Title:   doc.Title,
		Content: parsed.Content,
		Source:  doc.Filename,
		DocType: doc.DocumentType,
	})
	if err != nil {
		h.failDocument(ctx, doc.ID, "index failed: "+err.Error())
		return
	}

	if err := h.repo.UpdateDocumentStatus(ctx, doc.ID, directory.DocumentStatusCompleted, chunks, ""); err != nil {
		applog.Warn("[API/Documents] Failed to mark document completed", "doc_id", doc.ID, "error", err)
	}

	// 知识库变了，旧评估结果不再可信
	h.cache.InvalidateTenant(ctx, tenant.ID)

	applog.Info("[API/Documents] Document processed",
		"tenant", tenant.Slug, "doc_id", doc.ID, "chunks", chunks)
}

func (h *DocumentHandler) failDocument(ctx context.Context, docID, msg string) {
	applog.Error("[API/Documents] Document processing failed", "doc_id", docID, "error", msg)
	if err := h.repo.UpdateDocumentStatus(ctx, docID, directory.DocumentStatusFailed, 0, msg); err != nil {
		applog.Warn("[API/Documents] Failed to mark document failed", "doc_id", docID, "error", err)
	}
}

// List GET /api/v1/documents
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())
	docs, err := h.repo.ListDocuments(r.Context(), scope.Tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Get GET /api/v1/documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())
	id := chi.URLParam(r, "id")

	doc, err := h.repo.GetDocument(r.Context(), scope.Tenant.ID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Delete DELETE /api/v1/documents/{id}
// 同时删除向量库中该文档的全部 chunk。
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope := MustScopeFrom(r.Context())
	id := chi.URLParam(r, "id")

	doc, err := h.repo.GetDocument(r.Context(), scope.Tenant.ID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	if err := h.indexer.Remove(r.Context(), scope.Tenant.Namespace(), doc.ID); err != nil {
		applog.Error("[API/Documents] Failed to remove document vectors", "doc_id", doc.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to remove document vectors")
		return
	}
	if err := h.repo.DeleteDocument(r.Context(), scope.Tenant.ID, doc.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	h.cache.InvalidateTenant(r.Context(), scope.Tenant.ID)
	writeJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": "deleted"})
}
