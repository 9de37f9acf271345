package eval

import "context"

// Retriever 向量检索端口。namespace 为租户隔离分区。
type Retriever interface {
	Retrieve(ctx context.Context, namespace, query string, topK int) ([]ContextPassage, error)
}

// GenerationRequest 生成请求。Temperature 由管线固定为 0。
type GenerationRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator 生成服务端口，返回模型的原始文本输出。
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (string, error)
}

// ResultCache 评估结果缓存端口。
// Set 失败由实现内部记录日志并吞掉：缓存是优化，不是正确性依赖。
type ResultCache interface {
	Get(ctx context.Context, tenantID, fingerprint string) (*Result, bool)
	Set(ctx context.Context, tenantID, fingerprint string, result *Result)
}

// PromptSource 返回租户当前激活的提示词集合。
// 未配置的字段留空，由管线显式回退到内置默认值。
type PromptSource interface {
	ActivePrompts(ctx context.Context, tenantID string) (*PromptSet, error)
}
