package api

import (
	"context"

	"skillrag/internal/domain/directory"
	"skillrag/internal/domain/eval"
)

// fakeRepo 内存版 directory.Repository，只实现测试用到的查询。
type fakeRepo struct {
	tenants map[string]*directory.Tenant
	keys    map[string]*directory.APIKey // by prefix
	touched []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tenants: make(map[string]*directory.Tenant),
		keys:    make(map[string]*directory.APIKey),
	}
}

func (f *fakeRepo) CreateTenant(ctx context.Context, t *directory.Tenant) error {
	if t.ID == "" {
		t.ID = "tenant-" + t.Slug
	}
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeRepo) GetTenant(ctx context.Context, id string) (*directory.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeRepo) GetTenantBySlug(ctx context.Context, slug string) (*directory.Tenant, error) {
	for _, t := range f.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListTenants(ctx context.Context) ([]directory.Tenant, error) {
	out := make([]directory.Tenant, 0, len(f.tenants))
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeRepo) UpdateTenant(ctx context.Context, t *directory.Tenant) error {
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeRepo) DeleteTenant(ctx context.Context, id string) error {
	delete(f.tenants, id)
	return nil
}

func (f *fakeRepo) CreateAPIKey(ctx context.Context, k *directory.APIKey) error {
	if k.ID == "" {
		k.ID = "key-" + k.KeyPrefix
	}
	f.keys[k.KeyPrefix] = k
	return nil
}

func (f *fakeRepo) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*directory.APIKey, error) {
	return f.keys[prefix], nil
}

func (f *fakeRepo) ListAPIKeys(ctx context.Context, tenantID string) ([]directory.APIKey, error) {
	return nil, nil
}

func (f *fakeRepo) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error { return nil }

func (f *fakeRepo) TouchAPIKey(ctx context.Context, keyID string) error {
	f.touched = append(f.touched, keyID)
	return nil
}

func (f *fakeRepo) CreatePrompt(ctx context.Context, p *directory.Prompt) error { return nil }
func (f *fakeRepo) GetPrompt(ctx context.Context, tenantID, promptID string) (*directory.Prompt, error) {
	return nil, nil
}
func (f *fakeRepo) ListPrompts(ctx context.Context, tenantID string) ([]directory.Prompt, error) {
	return nil, nil
}
func (f *fakeRepo) UpdatePrompt(ctx context.Context, p *directory.Prompt) error          { return nil }
func (f *fakeRepo) DeletePrompt(ctx context.Context, tenantID, promptID string) error    { return nil }
func (f *fakeRepo) ActivatePrompt(ctx context.Context, tenantID, promptID string) error  { return nil }
func (f *fakeRepo) ActivePrompts(ctx context.Context, tenantID string) ([]directory.Prompt, error) {
	return nil, nil
}

func (f *fakeRepo) CreateDocument(ctx context.Context, d *directory.Document) error { return nil }
func (f *fakeRepo) GetDocument(ctx context.Context, tenantID, docID string) (*directory.Document, error) {
	return nil, nil
}
func (f *fakeRepo) ListDocuments(ctx context.Context, tenantID string) ([]directory.Document, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateDocumentStatus(ctx context.Context, docID string, status directory.DocumentStatus, chunks int, errMsg string) error {
	return nil
}
func (f *fakeRepo) DeleteDocument(ctx context.Context, tenantID, docID string) error { return nil }

// seedTenantWithKey 写入一个激活租户和一把可用 API key，返回明文 key。
func (f *fakeRepo) seedTenantWithKey() (string, error) {
	tenant := &directory.Tenant{ID: "t1", Name: "Acme", Slug: "acme", IsActive: true}
	f.tenants[tenant.ID] = tenant

	fullKey, prefix, hash, err := directory.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	f.keys[prefix] = &directory.APIKey{
		ID:        "k1",
		TenantID:  tenant.ID,
		Name:      "default",
		KeyPrefix: prefix,
		KeyHash:   hash,
		IsActive:  true,
	}
	return fullKey, nil
}

// stubEvaluator 评估管线替身
type stubEvaluator struct {
	result  *eval.Result
	items   []eval.BatchItem
	preview *eval.ContextPreview
	err     error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, tenant *directory.Tenant, req *eval.Request) (*eval.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubEvaluator) EvaluateBatch(ctx context.Context, tenant *directory.Tenant, reqs []eval.Request) ([]eval.BatchItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *stubEvaluator) PreviewContext(ctx context.Context, tenant *directory.Tenant, req *eval.Request) (*eval.ContextPreview, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.preview, nil
}

// stubCache 缓存失效替身
type stubCache struct {
	invalidated []string
}

func (s *stubCache) InvalidateTenant(ctx context.Context, tenantID string) int {
	s.invalidated = append(s.invalidated, tenantID)
	return 0
}
