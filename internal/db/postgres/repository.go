package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"skillrag/internal/domain/directory"
)

// Repository PostgreSQL 实现的租户目录存储
type Repository struct {
	db *sql.DB
}

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureTables 确保所有表存在
func (r *Repository) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS tenants (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name        VARCHAR(255) NOT NULL,
		slug        VARCHAR(64) NOT NULL UNIQUE,
		description TEXT DEFAULT '',
		model       VARCHAR(128) DEFAULT '',
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id    UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name         VARCHAR(255) NOT NULL,
		key_prefix   VARCHAR(16) NOT NULL,
		key_hash     VARCHAR(64) NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		expires_at   TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
	CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id);

	CREATE TABLE IF NOT EXISTS tenant_prompts (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id  UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		type       VARCHAR(32) NOT NULL,
		name       VARCHAR(255) NOT NULL,
		content    TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_tenant ON tenant_prompts(tenant_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_active_per_type
		ON tenant_prompts(tenant_id, type) WHERE is_active;

	CREATE TABLE IF NOT EXISTS documents (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id     UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		title         VARCHAR(512) NOT NULL,
		document_type VARCHAR(64) DEFAULT '',
		filename      VARCHAR(512) DEFAULT '',
		source        VARCHAR(512) DEFAULT '',
		chunks_count  INTEGER NOT NULL DEFAULT 0,
		status        VARCHAR(32) NOT NULL DEFAULT 'pending',
		error_message TEXT DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// --- Tenant CRUD ---

func (r *Repository) CreateTenant(ctx context.Context, t *directory.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, description, model, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Slug, t.Description, t.Model, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *Repository) GetTenant(ctx context.Context, id string) (*directory.Tenant, error) {
	return r.scanTenant(r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, description, model, is_active, created_at, updated_at
		 FROM tenants WHERE id = $1`, id))
}

func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (*directory.Tenant, error) {
	return r.scanTenant(r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, description, model, is_active, created_at, updated_at
		 FROM tenants WHERE slug = $1`, slug))
}

func (r *Repository) scanTenant(row *sql.Row) (*directory.Tenant, error) {
	t := &directory.Tenant{}
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.Model, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]directory.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, description, model, is_active, created_at, updated_at
		 FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []directory.Tenant
	for rows.Next() {
		var t directory.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.Model, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *Repository) UpdateTenant(ctx context.Context, t *directory.Tenant) error {
	t.UpdatedAt = time.Now()
	// slug 创建后不可变，不在更新列里
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name=$1, description=$2, model=$3, is_active=$4, updated_at=$5 WHERE id=$6`,
		t.Name, t.Description, t.Model, t.IsActive, t.UpdatedAt, t.ID,
	)
	return err
}

func (r *Repository) DeleteTenant(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return err
}

// --- API key ---

func (r *Repository) CreateAPIKey(ctx context.Context, k *directory.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	k.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_prefix, key_hash, is_active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.TenantID, k.Name, k.KeyPrefix, k.KeyHash, k.IsActive, k.CreatedAt, k.ExpiresAt,
	)
	return err
}

func (r *Repository) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*directory.APIKey, error) {
	k := &directory.APIKey{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, key_prefix, key_hash, is_active, created_at, last_used_at, expires_at
		 FROM api_keys WHERE key_prefix = $1 AND is_active`, prefix,
	).Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.IsActive, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *Repository) ListAPIKeys(ctx context.Context, tenantID string) ([]directory.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, key_prefix, key_hash, is_active, created_at, last_used_at, expires_at
		 FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []directory.APIKey
	for rows.Next() {
		var k directory.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.IsActive, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *Repository) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND tenant_id = $2`, keyID, tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key not found: %s", keyID)
	}
	return nil
}

func (r *Repository) TouchAPIKey(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	return err
}

// --- 提示词 ---

func (r *Repository) CreatePrompt(ctx context.Context, p *directory.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenant_prompts (id, tenant_id, type, name, content, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TenantID, p.Type, p.Name, p.Content, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *Repository) GetPrompt(ctx context.Context, tenantID, promptID string) (*directory.Prompt, error) {
	p := &directory.Prompt{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, type, name, content, is_active, created_at, updated_at
		 FROM tenant_prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.Type, &p.Name, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) ListPrompts(ctx context.Context, tenantID string) ([]directory.Prompt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, type, name, content, is_active, created_at, updated_at
		 FROM tenant_prompts WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []directory.Prompt
	for rows.Next() {
		var p directory.Prompt
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Type, &p.Name, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (r *Repository) UpdatePrompt(ctx context.Context, p *directory.Prompt) error {
	p.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenant_prompts SET name=$1, content=$2, updated_at=$3 WHERE id=$4 AND tenant_id=$5`,
		p.Name, p.Content, p.UpdatedAt, p.ID, p.TenantID,
	)
	return err
}

func (r *Repository) DeletePrompt(ctx context.Context, tenantID, promptID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tenant_prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID)
	return err
}

// ActivatePrompt 事务内先取消同类型旧激活，再激活目标提示词。
func (r *Repository) ActivatePrompt(ctx context.Context, tenantID, promptID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var promptType string
	err = tx.QueryRowContext(ctx,
		`SELECT type FROM tenant_prompts WHERE id = $1 AND tenant_id = $2`, promptID, tenantID,
	).Scan(&promptType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("prompt not found: %s", promptID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_prompts SET is_active = FALSE, updated_at = NOW()
		 WHERE tenant_id = $1 AND type = $2 AND is_active`, tenantID, promptType); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_prompts SET is_active = TRUE, updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2`, promptID, tenantID); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) ActivePrompts(ctx context.Context, tenantID string) ([]directory.Prompt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, type, name, content, is_active, created_at, updated_at
		 FROM tenant_prompts WHERE tenant_id = $1 AND is_active`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []directory.Prompt
	for rows.Next() {
		var p directory.Prompt
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Type, &p.Name, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// --- 文档元数据 ---

func (r *Repository) CreateDocument(ctx context.Context, d *directory.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = directory.DocumentStatusPending
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, tenant_id, title, document_type, filename, source, chunks_count, status, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.TenantID, d.Title, d.DocumentType, d.Filename, d.Source, d.ChunksCount, d.Status, d.ErrorMessage, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *Repository) GetDocument(ctx context.Context, tenantID, docID string) (*directory.Document, error) {
	d := &directory.Document{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, title, document_type, filename, source, chunks_count, status, error_message, created_at, updated_at
		 FROM documents WHERE id = $1 AND tenant_id = $2`, docID, tenantID,
	).Scan(&d.ID, &d.TenantID, &d.Title, &d.DocumentType, &d.Filename, &d.Source, &d.ChunksCount, &d.Status, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Repository) ListDocuments(ctx context.Context, tenantID string) ([]directory.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, title, document_type, filename, source, chunks_count, status, error_message, created_at, updated_at
		 FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []directory.Document
	for rows.Next() {
		var d directory.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Title, &d.DocumentType, &d.Filename, &d.Source, &d.ChunksCount, &d.Status, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *Repository) UpdateDocumentStatus(ctx context.Context, docID string, status directory.DocumentStatus, chunks int, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status=$1, chunks_count=$2, error_message=$3, updated_at=NOW() WHERE id=$4`,
		status, chunks, errMsg, docID,
	)
	return err
}

func (r *Repository) DeleteDocument(ctx context.Context, tenantID, docID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, docID, tenantID)
	return err
}
