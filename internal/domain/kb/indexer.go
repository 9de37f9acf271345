package kb

import (
	"context"
	"fmt"
	"time"

	applog "skillrag/internal/platform/log"
)

// Indexer 入库流水线：分块 → 向量化 → 写入向量库。
type Indexer struct {
	chunker  *Chunker
	embedder Embedder
	store    VectorStore
}

// NewIndexer 创建入库流水线
func NewIndexer(chunker *Chunker, embedder Embedder, store VectorStore) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
	}
}

// Index 将一篇文档入库到指定 namespace，返回写入的 chunk 数。
func (ix *Indexer) Index(ctx context.Context, namespace string, req *IndexRequest) (int, error) {
	start := time.Now()

	chunks, err := ix.chunker.Chunk(req)
	if err != nil {
		return 0, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(embeddings))
	}

	vectors := make([]Vector, len(chunks))
	for i, c := range chunks {
		meta := map[string]string{
			"doc_id":  c.DocID,
			"content": c.Content,
		}
		if c.Title != "" {
			meta["title"] = c.Title
		}
		if c.Source != "" {
			meta["source"] = c.Source
		}
		for k, v := range c.Metadata {
			meta[k] = v
		}
		vectors[i] = Vector{
			ID:       c.ChunkID,
			Values:   embeddings[i],
			Metadata: meta,
		}
	}

	if err := ix.store.Upsert(ctx, namespace, vectors); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}

	applog.Info("[KB/Indexer] Document indexed",
		"namespace", namespace,
		"doc_id", req.DocID,
		"chunks", len(chunks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return len(chunks), nil
}

// Remove 按文档 ID 删除该文档的全部向量。
func (ix *Indexer) Remove(ctx context.Context, namespace, docID string) error {
	if err := ix.store.DeleteByDocID(ctx, namespace, docID); err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	return nil
}

// Purge 清空整个 namespace（删除租户时使用）。
func (ix *Indexer) Purge(ctx context.Context, namespace string) error {
	if err := ix.store.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("purge namespace: %w", err)
	}
	return nil
}
