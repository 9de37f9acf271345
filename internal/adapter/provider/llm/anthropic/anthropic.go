package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"skillrag/internal/provider"
)

const apiVersion = "2023-06-01"

// Config Anthropic Messages API 配置
type Config struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"` // 默认 https://api.anthropic.com
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
}

// Provider Anthropic Claude LLM Provider
type Provider struct {
	config Config
	client *http.Client
}

// New 创建 Anthropic Provider
func New(config Config) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	connectTimeout := time.Duration(config.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Provider{
		config: config,
		client: &http.Client{Transport: transport},
	}
}

func (p *Provider) Name() string {
	return "anthropic"
}

// -- 内部 API 请求/响应结构 --

type apiRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Model      string            `json:"model"`
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete 非流式补全
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	apiReq := p.buildAPIRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("no text content in response")
	}

	return &provider.CompletionResponse{
		Content:      sb.String(),
		Model:        apiResp.Model,
		FinishReason: apiResp.StopReason,
		Usage: provider.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) buildAPIRequest(req *provider.CompletionRequest) apiRequest {
	apiReq := apiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = 2048
	}

	// Anthropic 把 system 提到顶层字段，messages 里只保留 user/assistant
	for _, m := range req.Messages {
		if m.Role == "system" {
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, apiMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return apiReq
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}
