package directory

import "context"

// Repository 租户目录存储端口（由 internal/db/postgres 实现）。
// 查询返回 (nil, nil) 表示不存在。
type Repository interface {
	// 租户
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	UpdateTenant(ctx context.Context, t *Tenant) error
	DeleteTenant(ctx context.Context, id string) error

	// API key
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error
	TouchAPIKey(ctx context.Context, keyID string) error

	// 提示词
	CreatePrompt(ctx context.Context, p *Prompt) error
	GetPrompt(ctx context.Context, tenantID, promptID string) (*Prompt, error)
	ListPrompts(ctx context.Context, tenantID string) ([]Prompt, error)
	UpdatePrompt(ctx context.Context, p *Prompt) error
	DeletePrompt(ctx context.Context, tenantID, promptID string) error
	// ActivatePrompt 激活指定提示词，并取消同租户同类型其它提示词的激活。
	ActivatePrompt(ctx context.Context, tenantID, promptID string) error
	// ActivePrompts 返回租户当前激活的提示词（每种类型至多一条）。
	ActivePrompts(ctx context.Context, tenantID string) ([]Prompt, error)

	// 文档元数据
	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, tenantID, docID string) (*Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, docID string, status DocumentStatus, chunks int, errMsg string) error
	DeleteDocument(ctx context.Context, tenantID, docID string) error
}
