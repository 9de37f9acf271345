package directory

import "time"

// Tenant 租户（客户组织）。slug 全局唯一且创建后不可变，
// 1:1 映射到向量库 namespace。
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model,omitempty"` // 生成模型覆盖，空则用全局默认
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Namespace 返回该租户的向量库 namespace。
func (t *Tenant) Namespace() string {
	return "tenant_" + t.Slug
}

// APIKey 租户 API key。只存前缀（查找用）和哈希（校验用），从不存明文。
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired 判断 key 是否已过期。
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// PromptType 提示词类型。每个租户每种类型最多一条激活。
type PromptType string

const (
	PromptTypeSystem     PromptType = "system"
	PromptTypeEvaluation PromptType = "evaluation"
)

// Valid 判断提示词类型是否合法。
func (t PromptType) Valid() bool {
	return t == PromptTypeSystem || t == PromptTypeEvaluation
}

// Prompt 租户自定义提示词。未配置时管线回退到内置默认。
type Prompt struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Type      PromptType `json:"type"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DocumentStatus 文档入库状态。
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document 知识库文档元数据。正文内容只存在于向量库。
type Document struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Title        string         `json:"title"`
	DocumentType string         `json:"document_type,omitempty"` // competency | rubric | example | methodology
	Filename     string         `json:"filename,omitempty"`
	Source       string         `json:"source,omitempty"`
	ChunksCount  int            `json:"chunks_count"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
