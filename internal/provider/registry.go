package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 按名称索引可用的 LLM 供应商。
// 实例在装配阶段创建并注入使用方，不提供包级单例。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]LLMProvider)}
}

// Register 注册供应商，同名后注册者覆盖先注册者
func (r *Registry) Register(p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get 按名称取供应商
func (r *Registry) Get(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return p, nil
}

// Names 返回已注册供应商名（排序后）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
