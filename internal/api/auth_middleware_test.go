package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skillrag/internal/domain/directory"
)

func TestAuthenticateAPIKey(t *testing.T) {
	repo := newFakeRepo()
	validKey, err := repo.seedTenantWithKey()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 同前缀但 secret 错误的 key
	wrongSecret := validKey[:len(validKey)-4] + "XXXX"

	// 已过期的 key
	expiredKey, prefix, hash, err := directory.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	repo.keys[prefix] = &directory.APIKey{
		ID: "k-expired", TenantID: "t1", KeyPrefix: prefix, KeyHash: hash,
		IsActive: true, ExpiresAt: &past,
	}

	// 已吊销的 key
	revokedKey, prefix2, hash2, err := directory.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	repo.keys[prefix2] = &directory.APIKey{
		ID: "k-revoked", TenantID: "t1", KeyPrefix: prefix2, KeyHash: hash2,
		IsActive: false,
	}

	// 租户停用的 key
	inactiveTenantKey, prefix3, hash3, err := directory.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	repo.tenants["t2"] = &directory.Tenant{ID: "t2", Slug: "frozen", IsActive: false}
	repo.keys[prefix3] = &directory.APIKey{
		ID: "k-frozen", TenantID: "t2", KeyPrefix: prefix3, KeyHash: hash3,
		IsActive: true,
	}

	tests := []struct {
		name   string
		key    string
		wantOK bool
	}{
		{"valid key", validKey, true},
		{"empty key", "", false},
		{"malformed key", "not-a-key", false},
		{"unknown prefix", "sk_zzzzzzzz_0123456789abcdef0123456789abcdef", false},
		{"wrong secret", wrongSecret, false},
		{"expired key", expiredKey, false},
		{"revoked key", revokedKey, false},
		{"inactive tenant", inactiveTenantKey, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, ok := authenticateAPIKey(context.Background(), repo, tt.key)
			if ok != tt.wantOK {
				t.Fatalf("authenticateAPIKey(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			}
			if ok && scope.Tenant.ID != "t1" {
				t.Fatalf("scope tenant = %s, want t1", scope.Tenant.ID)
			}
		})
	}
}

func TestAPIKeyMiddlewareUniform401(t *testing.T) {
	repo := newFakeRepo()
	mw := apiKeyAuthMiddleware(repo)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 不同失败原因必须返回完全相同的响应体
	var bodies []string
	for _, key := range []string{"", "garbage", "sk_zzzzzzzz_0123456789abcdef0123456789abcdef"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want 401", key, rec.Code)
		}
		bodies = append(bodies, rec.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("401 bodies differ: %q vs %q", bodies[0], bodies[i])
		}
	}
}

func TestAPIKeyMiddlewareInjectsScopeAndTouchesKey(t *testing.T) {
	repo := newFakeRepo()
	validKey, err := repo.seedTenantWithKey()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	mw := apiKeyAuthMiddleware(repo)
	var gotScope *Scope
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotScope = MustScopeFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil)
	req.Header.Set("X-API-Key", validKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotScope == nil || gotScope.Tenant.Slug != "acme" {
		t.Fatalf("scope not injected: %+v", gotScope)
	}
	if len(repo.touched) != 1 || repo.touched[0] != "k1" {
		t.Fatalf("key not touched: %v", repo.touched)
	}
}

func TestAdminMiddleware(t *testing.T) {
	cfg := &AdminAuthConfig{Secret: "top-secret", JWTSecret: "jwt-secret", JWTIssuer: "skillrag"}
	mw := adminAuthMiddleware(cfg)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token, _, err := IssueAdminToken(cfg)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"valid secret", map[string]string{"X-Admin-Secret": "top-secret"}, http.StatusOK},
		{"wrong secret", map[string]string{"X-Admin-Secret": "nope"}, http.StatusUnauthorized},
		{"valid jwt", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK},
		{"garbage jwt", map[string]string{"Authorization": "Bearer not.a.token"}, http.StatusUnauthorized},
		{"bad auth format", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/tenants", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestVerifyAdminToken(t *testing.T) {
	cfg := &AdminAuthConfig{Secret: "s", JWTSecret: "jwt-secret", JWTIssuer: "skillrag", TokenTTL: time.Minute}

	token, expiresAt, err := IssueAdminToken(cfg)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiresAt in the past: %v", expiresAt)
	}
	if err := verifyAdminToken(cfg, token); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// 别的密钥签发的 token 必须被拒绝
	other := &AdminAuthConfig{JWTSecret: "other-secret", JWTIssuer: "skillrag"}
	forged, _, err := IssueAdminToken(other)
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}
	if err := verifyAdminToken(cfg, forged); err == nil {
		t.Fatal("token signed with wrong secret accepted")
	}

	// issuer 不匹配必须被拒绝
	noIssuer := &AdminAuthConfig{JWTSecret: "jwt-secret"}
	wrongIss, _, err := IssueAdminToken(noIssuer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := verifyAdminToken(cfg, wrongIss); err == nil {
		t.Fatal("token without issuer accepted by issuer-checking config")
	}

	// 过期 token 必须被拒绝
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iss": "skillrag",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	expiredStr, err := expired.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifyAdminToken(cfg, expiredStr); err == nil {
		t.Fatal("expired token accepted")
	}
}
