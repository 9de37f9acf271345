package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"skillrag/internal/api"
	"skillrag/internal/app/bootstrap"
	"skillrag/internal/db/pinecone"
	"skillrag/internal/db/postgres"
	redisdb "skillrag/internal/db/redis"
	"skillrag/internal/domain/eval"
	"skillrag/internal/domain/kb"
	"skillrag/internal/platform/config"
	applog "skillrag/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// --- PostgreSQL ---
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	repo := postgres.NewRepository(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := repo.EnsureTables(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure tables: %v", err)
	}
	applog.Info("✅ Tables ready (tenants, api_keys, tenant_prompts, documents)")

	// --- Redis ---
	redisOpt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}
	redisClient := goredis.NewClient(redisOpt)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		applog.Fatalf("❌ Failed to ping Redis: %v", err)
	}
	applog.Info("✅ Connected to Redis")

	resultCache := redisdb.NewResultCache(redisClient, time.Duration(cfg.Eval.CacheTTLSeconds)*time.Second)

	// --- LLM providers ---
	llmRegistry := bootstrap.NewLLMRegistry(
		cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL,
		cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL,
	)

	// --- 向量库与知识库 ---
	var store kb.VectorStore
	var retriever eval.Retriever
	var indexer *kb.Indexer
	var parsers *kb.ParserRegistry

	if cfg.Pinecone.IndexHost != "" {
		pc := pinecone.NewClient(pinecone.Config{
			APIKey:    cfg.Pinecone.APIKey,
			IndexHost: cfg.Pinecone.IndexHost,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pc.Ping(pingCtx)
		pingCancel()
		if err != nil {
			applog.Warnf("⚠️  Pinecone ping failed: %v (retrieval degraded)", err)
		} else {
			applog.Info("✅ Connected to Pinecone")
		}
		store = pc

		embedder := kb.NewOpenAIEmbedder(kb.OpenAIEmbedderConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.KB.EmbeddingModel,
			Dims:    cfg.KB.EmbeddingDims,
		})
		applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.KB.EmbeddingModel, embedder.Dims())

		retriever = kb.NewRetriever(embedder, store, cfg.KB.MinScore)

		chunker := kb.NewChunker(cfg.KB.ChunkSize, cfg.KB.ChunkOverlap)
		indexer = kb.NewIndexer(chunker, embedder, store)
		parsers = kb.NewParserRegistry()
		applog.Infof("✅ Parser registry initialized (types: %s)", parsers.SupportedTypes())
	} else {
		applog.Info("ℹ️  No PINECONE_INDEX_HOST set, knowledge base disabled")
		retriever = noopRetriever{}
	}

	// --- 评估管线 ---
	evalCfg := eval.DefaultConfig()
	evalCfg.Model = cfg.Eval.Model
	evalCfg.TopK = cfg.Eval.TopK
	evalCfg.QueryMaxChars = cfg.Eval.QueryMaxChars
	evalCfg.MaxBatch = cfg.Eval.MaxBatch
	evalCfg.MaxOutputTokens = cfg.Eval.MaxOutputTokens
	evalCfg.RetryBackoff = time.Duration(cfg.Eval.RetryBackoffMs) * time.Millisecond

	pipeline := eval.NewPipeline(
		evalCfg,
		retriever,
		bootstrap.NewProviderGenerator(llmRegistry, cfg.Eval.Provider),
		resultCache,
		bootstrap.NewPromptSource(repo),
	)
	applog.Infof("✅ Evaluation pipeline ready (provider: %s, model: %s)", cfg.Eval.Provider, cfg.Eval.Model)

	// --- HTTP 服务器 ---
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.Admin = &api.AdminAuthConfig{
		Secret:    cfg.Admin.Secret,
		JWTSecret: cfg.Admin.JWTSecret,
		JWTIssuer: cfg.Admin.JWTIssuer,
		TokenTTL:  time.Duration(cfg.Admin.TokenTTLMinutes) * time.Minute,
	}

	server := api.NewServer(serverConfig, repo, pipeline, resultCache, store)
	if indexer != nil {
		server.SetKB(parsers, indexer, cfg.KB.MaxFileSizeMB)
	}

	probes := []api.Probe{
		{Name: "postgres", Check: db.PingContext},
		{Name: "redis", Check: resultCache.Ping},
	}
	if store != nil {
		probes = append(probes, api.Probe{Name: "pinecone", Check: store.Ping})
	}
	server.SetProbes(probes...)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// noopRetriever 未配置向量库时的空检索器，评估总是无上下文。
type noopRetriever struct{}

func (noopRetriever) Retrieve(ctx context.Context, namespace, query string, topK int) ([]eval.ContextPassage, error) {
	return nil, nil
}
