package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skillrag/internal/domain/directory"
	applog "skillrag/internal/platform/log"
)

// AdminAuthConfig 管理面鉴权配置
type AdminAuthConfig struct {
	Secret    string // X-Admin-Secret 直接比对的共享密钥
	JWTSecret string // HMAC 签名密钥
	JWTIssuer string // 可选签发者校验
	TokenTTL  time.Duration
}

// apiKeyAuthMiddleware 租户 API key 鉴权中间件。
// 校验 X-API-Key 并把租户作用域注入 context。
// 所有失败路径返回同一个 401 响应，不泄露 key 是否存在。
func apiKeyAuthMiddleware(repo directory.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")

			scope, ok := authenticateAPIKey(r.Context(), repo, key)
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			// last_used_at 只是观测数据，失败不阻断请求
			if err := repo.TouchAPIKey(r.Context(), scope.APIKeyID); err != nil {
				applog.Debug("[Auth] Failed to touch api key", "key_id", scope.APIKeyID, "error", err)
			}

			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// authenticateAPIKey 完整校验一把 API key 并解析出租户作用域。
func authenticateAPIKey(ctx context.Context, repo directory.Repository, key string) (*Scope, bool) {
	if !directory.ValidateKeyFormat(key) {
		return nil, false
	}

	prefix := directory.ExtractPrefix(key)
	if prefix == "" {
		return nil, false
	}

	apiKey, err := repo.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		applog.Error("[Auth] API key lookup failed", "error", err)
		return nil, false
	}
	if apiKey == nil || !apiKey.IsActive || apiKey.Expired(time.Now()) {
		return nil, false
	}
	if !directory.VerifyAPIKey(key, apiKey.KeyHash) {
		return nil, false
	}

	tenant, err := repo.GetTenant(ctx, apiKey.TenantID)
	if err != nil {
		applog.Error("[Auth] Tenant lookup failed", "tenant_id", apiKey.TenantID, "error", err)
		return nil, false
	}
	if tenant == nil || !tenant.IsActive {
		return nil, false
	}

	return &Scope{Tenant: tenant, APIKeyID: apiKey.ID}, true
}

// adminAuthMiddleware 管理面鉴权：X-Admin-Secret 或 Bearer JWT 二选一。
func adminAuthMiddleware(cfg *AdminAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret := r.Header.Get("X-Admin-Secret"); secret != "" {
				if subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.Secret)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid admin credentials")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Missing admin credentials")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}

			if err := verifyAdminToken(cfg, parts[1]); err != nil {
				applog.Warn("[Auth] Invalid admin JWT", "error", err)
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyAdminToken 解析并验证管理 JWT
func verifyAdminToken(cfg *AdminAuthConfig, tokenStr string) error {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, parserOpts...)

	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

// IssueAdminToken 用共享密钥换取管理 JWT
func IssueAdminToken(cfg *AdminAuthConfig) (string, time.Time, error) {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := time.Now().Add(ttl)

	claims := jwt.MapClaims{
		"sub": "admin",
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}
	if cfg.JWTIssuer != "" {
		claims["iss"] = cfg.JWTIssuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// writeErrorCode 带错误码的统一错误响应
func writeErrorCode(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":%d,"error":"%s","message":"%s"}`, status, code, message)
}
