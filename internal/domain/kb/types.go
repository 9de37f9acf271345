package kb

import (
	"context"
	"time"
)

// Chunk 知识库分块。一个文档切分为若干 chunk，各自带向量入库。
type Chunk struct {
	DocID     string            `json:"doc_id"`
	ChunkID   string            `json:"chunk_id"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// IndexRequest 文档入库请求。Content 为解析后的纯文本。
type IndexRequest struct {
	DocID   string
	Title   string
	Content string
	Source  string
	DocType string // competency | rubric | example | methodology
}

// Vector 带向量与元数据的入库单元。
type Vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match 向量检索命中。
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NamespaceStats 单个 namespace 的统计信息。
type NamespaceStats struct {
	VectorCount int `json:"vector_count"`
}

// VectorStore 向量库端口（由 internal/db/pinecone 实现）。
// namespace 即租户隔离边界，所有操作都显式携带。
type VectorStore interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	DeleteByDocID(ctx context.Context, namespace, docID string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Stats(ctx context.Context) (map[string]NamespaceStats, error)
}
