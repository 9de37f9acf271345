package provider

import (
	"context"
)

// Message LLM 对话消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest LLM 补全请求
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"` // 指针：temperature 0 需要显式下发
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse LLM 补全响应
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMProvider LLM 供应商接口
type LLMProvider interface {
	// Name 返回供应商名称
	Name() string

	// Complete 非流式补全
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
