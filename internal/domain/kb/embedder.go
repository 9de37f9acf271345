package kb

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	applog "skillrag/internal/platform/log"
)

// Embedder 向量生成接口
type Embedder interface {
	// Embed 将文本列表转为向量（batch）
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dims 返回向量维度
	Dims() int
}

// OpenAIEmbedderConfig Embedder 配置
type OpenAIEmbedderConfig struct {
	BaseURL string // 留空走官方 API
	APIKey  string
	Model   string // e.g. text-embedding-3-small
	Dims    int    // 向量维度
}

// OpenAIEmbedder 基于 OpenAI /v1/embeddings 的实现。
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder 创建 OpenAI Embedder
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		dims:   cfg.Dims,
	}
}

// Dims 返回向量维度
func (e *OpenAIEmbedder) Dims() int {
	return e.dims
}

// Embed 批量生成向量。分批提交避免 API 限制。
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const batchSize = 64
	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// embedBatch 单批次 Embedding
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	// dimensions 参数仅 embedding-3 系列模型支持
	if strings.Contains(e.model, "embedding-3") {
		req.Dimensions = e.dims
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}

	// 按 index 排序确保顺序正确
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text index %d", i)
		}
	}

	applog.Debug("[KB/Embedder] Batch embedded",
		"count", len(texts),
		"dims", len(vectors[0]),
		"tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return vectors, nil
}
