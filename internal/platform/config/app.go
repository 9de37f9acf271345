package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Admin     AdminConfig     `json:"admin"`
	Anthropic AnthropicConfig `json:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Pinecone  PineconeConfig  `json:"pinecone"`
	Eval      EvalConfig      `json:"eval"`
	KB        KBConfig        `json:"kb"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// AdminConfig 管理面鉴权配置。Secret 直接换 JWT，JWT 再访问管理 API。
type AdminConfig struct {
	Secret          string `json:"secret"`
	JWTSecret       string `json:"jwt_secret"`
	JWTIssuer       string `json:"jwt_issuer"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type PineconeConfig struct {
	APIKey    string `json:"api_key"`
	IndexHost string `json:"index_host"`
}

// EvalConfig 评估管线配置
type EvalConfig struct {
	Provider        string `json:"provider"` // anthropic | openai
	Model           string `json:"model"`
	TopK            int    `json:"top_k"`
	QueryMaxChars   int    `json:"query_max_chars"`
	MaxBatch        int    `json:"max_batch"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	RetryBackoffMs  int    `json:"retry_backoff_ms"`
}

// KBConfig 知识库配置
type KBConfig struct {
	EmbeddingModel string  `json:"embedding_model"`
	EmbeddingDims  int     `json:"embedding_dims"`
	ChunkSize      int     `json:"chunk_size"`
	ChunkOverlap   int     `json:"chunk_overlap"`
	MinScore       float64 `json:"min_score"`
	MaxFileSizeMB  int     `json:"max_file_size_mb"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Admin: AdminConfig{
			JWTIssuer:       "skillrag",
			TokenTTLMinutes: 60,
		},
		Anthropic: AnthropicConfig{
			BaseURL: "https://api.anthropic.com",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Eval: EvalConfig{
			Provider:        "anthropic",
			Model:           "claude-sonnet-4-20250514",
			TopK:            5,
			QueryMaxChars:   500,
			MaxBatch:        10,
			MaxOutputTokens: 2048,
			CacheTTLSeconds: 86400,
			RetryBackoffMs:  300,
		},
		KB: KBConfig{
			EmbeddingModel: "text-embedding-3-small",
			EmbeddingDims:  1536,
			ChunkSize:      512,
			ChunkOverlap:   128,
			MinScore:       0.25,
			MaxFileSizeMB:  20,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("ADMIN_SECRET", &c.Admin.Secret)
	applyString("ADMIN_JWT_SECRET", &c.Admin.JWTSecret)
	applyString("ADMIN_JWT_ISSUER", &c.Admin.JWTIssuer)
	applyInt("ADMIN_TOKEN_TTL_MINUTES", &c.Admin.TokenTTLMinutes)

	applyString("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	applyString("ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("PINECONE_API_KEY", &c.Pinecone.APIKey)
	applyString("PINECONE_INDEX_HOST", &c.Pinecone.IndexHost)

	applyString("EVAL_PROVIDER", &c.Eval.Provider)
	applyString("EVAL_MODEL", &c.Eval.Model)
	applyInt("EVAL_TOP_K", &c.Eval.TopK)
	applyInt("EVAL_QUERY_MAX_CHARS", &c.Eval.QueryMaxChars)
	applyInt("EVAL_MAX_BATCH", &c.Eval.MaxBatch)
	applyInt("EVAL_MAX_OUTPUT_TOKENS", &c.Eval.MaxOutputTokens)
	applyInt("EVAL_CACHE_TTL", &c.Eval.CacheTTLSeconds)
	applyInt("EVAL_RETRY_BACKOFF_MS", &c.Eval.RetryBackoffMs)

	applyString("KB_EMBEDDING_MODEL", &c.KB.EmbeddingModel)
	applyInt("KB_EMBEDDING_DIMS", &c.KB.EmbeddingDims)
	applyInt("KB_CHUNK_SIZE", &c.KB.ChunkSize)
	applyInt("KB_CHUNK_OVERLAP", &c.KB.ChunkOverlap)
	applyFloat64("KB_MIN_SCORE", &c.KB.MinScore)
	applyInt("KB_MAX_FILE_SIZE_MB", &c.KB.MaxFileSizeMB)
}

func (c *AppConfig) normalize() {
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	// 管理 JWT 密钥未单独配置时复用 ADMIN_SECRET
	if c.Admin.JWTSecret == "" {
		c.Admin.JWTSecret = c.Admin.Secret
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if strings.TrimSpace(c.Admin.Secret) == "" {
		return fmt.Errorf("ADMIN_SECRET is required")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
