package kb

import (
	"context"
	"fmt"

	"skillrag/internal/domain/eval"
)

// Retriever 语义检索：query 向量化后查向量库，过滤低分命中。
// 实现 eval.Retriever 端口。
type Retriever struct {
	embedder Embedder
	store    VectorStore
	minScore float64
}

// NewRetriever 创建检索器。minScore 以下的命中被丢弃。
func NewRetriever(embedder Embedder, store VectorStore, minScore float64) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		minScore: minScore,
	}
}

// Retrieve 在 namespace 中检索与 query 最相关的片段。
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, topK int) ([]eval.ContextPassage, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}

	matches, err := r.store.Query(ctx, namespace, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	passages := make([]eval.ContextPassage, 0, len(matches))
	for _, m := range matches {
		if m.Score < r.minScore {
			continue
		}
		content := m.Metadata["content"]
		if content == "" {
			continue
		}
		passages = append(passages, eval.ContextPassage{
			ID:      m.ID,
			Content: content,
			Score:   m.Score,
			Source:  m.Metadata["source"],
		})
	}
	return passages, nil
}
