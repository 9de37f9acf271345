package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/kb"
	applog "skillrag/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Admin        *AdminAuthConfig
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

// Probe 就绪检查探针
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server HTTP 服务器
type Server struct {
	config   *ServerConfig
	repo     directory.Repository
	pipeline evaluator
	cache    cacheInvalidator
	store    kb.VectorStore

	parsers   *kb.ParserRegistry
	indexer   *kb.Indexer
	maxFileMB int

	probes  []Probe
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, repo directory.Repository, pipeline evaluator, cache cacheInvalidator, store kb.VectorStore) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:   config,
		repo:     repo,
		pipeline: pipeline,
		cache:    cache,
		store:    store,
	}
}

// SetKB 设置知识库组件（启用文档上传 API）
func (s *Server) SetKB(parsers *kb.ParserRegistry, indexer *kb.Indexer, maxFileMB int) {
	s.parsers = parsers
	s.indexer = indexer
	s.maxFileMB = maxFileMB
}

// SetProbes 设置就绪检查探针
func (s *Server) SetProbes(probes ...Probe) {
	s.probes = probes
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Evaluation API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if s.config.Admin == nil || strings.TrimSpace(s.config.Admin.Secret) == "" {
		return nil, fmt.Errorf("ADMIN_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", s.handleReady)

	evaluateHandler := NewEvaluateHandler(s.pipeline)
	adminHandler := NewAdminHandler(s.repo, s.cache, s.store, s.config.Admin)
	apiKeyMW := apiKeyAuthMiddleware(s.repo)
	adminMW := adminAuthMiddleware(s.config.Admin)
	kbEnabled := s.indexer != nil && s.parsers != nil

	r.Route("/api/v1", func(r chi.Router) {
		adminHandler.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(adminMW)
			adminHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiKeyMW)
			r.Post("/evaluate", evaluateHandler.Evaluate)
			r.Post("/evaluate/batch", evaluateHandler.EvaluateBatch)
			r.Post("/evaluate/preview-context", evaluateHandler.PreviewContext)

			if kbEnabled {
				docHandler := NewDocumentHandler(s.repo, s.parsers, s.indexer, s.cache, s.maxFileMB)
				docHandler.RegisterRoutes(r)
			}
		})
	})

	if kbEnabled {
		applog.Info("📚 Knowledge base API enabled")
	}
	return r, nil
}

// handleReady 就绪检查：逐个探针验证依赖可达。
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.probes))
	for _, p := range s.probes {
		if err := p.Check(ctx); err != nil {
			applog.Warn("[Health] Dependency not ready", "component", p.Name, "error", err)
			components[p.Name] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[p.Name] = "ok"
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Admin-Secret")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
