package directory

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// API key 格式：sk_{prefix8}_{secret32}
// 明文只在创建时返回一次；库里只存前缀和 SHA-256 哈希。
const (
	keyScheme    = "sk_"
	prefixLength = 8
	secretLength = 32
)

// GenerateAPIKey 生成新 API key。
// 返回 (完整明文 key, 查找前缀, 哈希)。
func GenerateAPIKey() (fullKey, prefix, hash string, err error) {
	prefixPart, err := randomToken(prefixLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate key prefix: %w", err)
	}
	secret, err := randomToken(secretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}

	prefix = keyScheme + prefixPart
	fullKey = prefix + "_" + secret
	return fullKey, prefix, HashAPIKey(fullKey), nil
}

// HashAPIKey 计算完整 key 的 SHA-256 哈希（hex）。
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey 常数时间比较，防止时序攻击。
func VerifyAPIKey(providedKey, storedHash string) bool {
	providedHash := HashAPIKey(providedKey)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// ExtractPrefix 从完整 key 中提取查找前缀（sk_xxxxxxxx），格式非法返回空串。
func ExtractPrefix(key string) string {
	if !strings.HasPrefix(key, keyScheme) {
		return ""
	}
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 3 || len(parts[1]) != prefixLength {
		return ""
	}
	return parts[0] + "_" + parts[1]
}

// ValidateKeyFormat 校验 key 格式。
func ValidateKeyFormat(key string) bool {
	if !strings.HasPrefix(key, keyScheme) {
		return false
	}
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 {
		return false
	}
	// secret 长度允许一定弹性（历史 key 可能稍短）
	return len(parts[1]) == prefixLength && len(parts[2]) >= secretLength/2
}

// randomToken 生成 URL-safe 随机串，长度固定为 n。
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token[:n], nil
}
