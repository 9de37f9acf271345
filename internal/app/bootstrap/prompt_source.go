package bootstrap

import (
	"context"
	"fmt"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/eval"
)

// repoPromptSource 把租户目录存储适配成评估管线的提示词端口。
// 实现 eval.PromptSource。
type repoPromptSource struct {
	repo directory.Repository
}

// NewPromptSource 创建提示词适配器
func NewPromptSource(repo directory.Repository) eval.PromptSource {
	return &repoPromptSource{repo: repo}
}

// ActivePrompts 加载租户当前激活的提示词集合。未配置的类型留空，
// 由管线回退到内置默认。
func (s *repoPromptSource) ActivePrompts(ctx context.Context, tenantID string) (*eval.PromptSet, error) {
	prompts, err := s.repo.ActivePrompts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load active prompts for tenant %s: %w", tenantID, err)
	}

	ps := &eval.PromptSet{}
	for _, p := range prompts {
		switch p.Type {
		case directory.PromptTypeSystem:
			ps.System = p.Content
		case directory.PromptTypeEvaluation:
			ps.Evaluation = p.Content
		}
	}
	return ps, nil
}
