package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skillrag/internal/domain/kb"
	applog "skillrag/internal/platform/log"
)

// Client Pinecone HTTP 客户端（serverless index 数据面 API）。
// 实现 kb.VectorStore 端口。
type Client struct {
	indexHost  string
	apiKey     string
	httpClient *http.Client
}

// Config Pinecone 连接配置
type Config struct {
	APIKey    string
	IndexHost string // e.g. https://my-index-xxxx.svc.us-east-1-aws.pinecone.io
}

// NewClient 创建 Pinecone 客户端
func NewClient(cfg Config) *Client {
	return &Client{
		indexHost: strings.TrimRight(cfg.IndexHost, "/"),
		apiKey:    cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping 健康检查，走 describe_index_stats
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "POST", "/describe_index_stats", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("ping pinecone: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pinecone ping failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Upsert 批量写入向量到指定 namespace
func (c *Client) Upsert(ctx context.Context, namespace string, vectors []kb.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	// 每批最多 100 条，按 Pinecone 请求体大小限制
	const batchSize = 100
	for i := 0; i < len(vectors); i += batchSize {
		end := i + batchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := c.upsertBatch(ctx, namespace, vectors[i:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}

	applog.Debug("[KB/Pinecone] Vectors upserted", "namespace", namespace, "count", len(vectors))
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, namespace string, vectors []kb.Vector) error {
	payload := map[string]interface{}{
		"namespace": namespace,
		"vectors":   vectors,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upsert request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/vectors/upsert", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upsert failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

type queryRequest struct {
	Namespace       string    `json:"namespace"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string            `json:"id"`
		Score    float64           `json:"score"`
		Metadata map[string]string `json:"metadata"`
	} `json:"matches"`
}

// Query 在 namespace 中做近邻检索
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]kb.Match, error) {
	body, err := json.Marshal(queryRequest{
		Namespace:       namespace,
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("query pinecone: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var qr queryResponse
	if err := json.Unmarshal(respBody, &qr); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}

	matches := make([]kb.Match, 0, len(qr.Matches))
	for _, m := range qr.Matches {
		matches = append(matches, kb.Match{
			ID:       m.ID,
			Score:    m.Score,
			Metadata: m.Metadata,
		})
	}
	return matches, nil
}

// DeleteByDocID 删除 namespace 中某文档的全部向量（metadata 过滤）
func (c *Client) DeleteByDocID(ctx context.Context, namespace, docID string) error {
	payload := map[string]interface{}{
		"namespace": namespace,
		"filter": map[string]interface{}{
			"doc_id": map[string]string{"$eq": docID},
		},
	}
	return c.delete(ctx, payload)
}

// DeleteNamespace 清空整个 namespace
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	payload := map[string]interface{}{
		"namespace": namespace,
		"deleteAll": true,
	}
	return c.delete(ctx, payload)
}

func (c *Client) delete(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/vectors/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

type statsResponse struct {
	Namespaces map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
}

// Stats 返回各 namespace 的向量统计
func (c *Client) Stats(ctx context.Context) (map[string]kb.NamespaceStats, error) {
	resp, err := c.doRequest(ctx, "POST", "/describe_index_stats", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("describe index stats: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stats response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var sr statsResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("parse stats response: %w", err)
	}

	stats := make(map[string]kb.NamespaceStats, len(sr.Namespaces))
	for ns, s := range sr.Namespaces {
		stats[ns] = kb.NamespaceStats{VectorCount: s.VectorCount}
	}
	return stats, nil
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.indexHost + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	return c.httpClient.Do(req)
}
