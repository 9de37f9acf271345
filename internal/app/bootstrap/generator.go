package bootstrap

import (
	"context"
	"fmt"

	"skillrag/internal/domain/eval"
	"skillrag/internal/provider"
)

// ProviderGenerator 把 provider 注册表适配成评估管线的生成端口。
// 实现 eval.Generator。
type ProviderGenerator struct {
	registry     *provider.Registry
	providerName string
}

// NewProviderGenerator 创建生成适配器。providerName 为注册表中的供应商名。
func NewProviderGenerator(registry *provider.Registry, providerName string) *ProviderGenerator {
	return &ProviderGenerator{registry: registry, providerName: providerName}
}

// Generate 调用底层 LLM 供应商完成一次生成。
func (g *ProviderGenerator) Generate(ctx context.Context, req *eval.GenerationRequest) (string, error) {
	p, err := g.registry.Get(g.providerName)
	if err != nil {
		return "", err
	}

	temp := req.Temperature
	resp, err := p.Complete(ctx, &provider.CompletionRequest{
		Model: req.Model,
		Messages: []provider.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: &temp,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", g.providerName, err)
	}
	return resp.Content, nil
}
