package openai

import (
	"context"
	"fmt"
	"math"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"skillrag/internal/provider"
)

// Config OpenAI 兼容 API 配置
type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"` // 默认官方 API，兼容 Azure/DeepSeek/Ollama 等
}

// Provider OpenAI 兼容的 LLM Provider
type Provider struct {
	client *goopenai.Client
}

// New 创建 OpenAI 兼容 Provider
func New(config Config) *Provider {
	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return &Provider{
		client: goopenai.NewClientWithConfig(clientCfg),
	}
}

func (p *Provider) Name() string {
	return "openai"
}

// Complete 非流式补全
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	apiReq := goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		// go-openai 的 Temperature 字段带 omitempty，0 会被整个省略，
		// 服务端则回退到默认 temperature 1。用最小非零值代替 0，
		// 保证确定性采样配置真正下发。
		t := float32(*req.Temperature)
		if t == 0 {
			t = math.SmallestNonzeroFloat32
		}
		apiReq.Temperature = t
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	return &provider.CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
