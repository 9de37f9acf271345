package bootstrap

import (
	"skillrag/internal/adapter/provider/llm/anthropic"
	"skillrag/internal/adapter/provider/llm/openai"
	applog "skillrag/internal/platform/log"
	"skillrag/internal/provider"
)

// NewLLMRegistry builds the provider registry from configured API keys.
func NewLLMRegistry(anthropicKey, anthropicBaseURL, openaiKey, openaiBaseURL string) *provider.Registry {
	registry := provider.NewRegistry()

	if anthropicKey != "" {
		p := anthropic.New(anthropic.Config{
			APIKey:  anthropicKey,
			BaseURL: anthropicBaseURL,
		})
		registry.Register(p)
		applog.Infof("✅ Registered LLM provider: %s", p.Name())
	}

	if openaiKey != "" {
		p := openai.New(openai.Config{
			APIKey:  openaiKey,
			BaseURL: openaiBaseURL,
		})
		registry.Register(p)
		applog.Infof("✅ Registered LLM provider: %s", p.Name())
	}

	if len(registry.Names()) == 0 {
		applog.Warn("⚠️  No LLM provider API key set, evaluation will not work")
	}
	return registry
}
