package directory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyRoundtrip(t *testing.T) {
	fullKey, prefix, hash, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fullKey, "sk_"))
	assert.True(t, strings.HasPrefix(fullKey, prefix+"_"))
	assert.Len(t, prefix, len("sk_")+8)
	assert.Len(t, hash, 64)

	assert.True(t, ValidateKeyFormat(fullKey))
	assert.Equal(t, prefix, ExtractPrefix(fullKey))
	assert.True(t, VerifyAPIKey(fullKey, hash))
	assert.False(t, VerifyAPIKey(fullKey+"x", hash))
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	k1, _, h1, err := GenerateAPIKey()
	require.NoError(t, err)
	k2, _, h2, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, h1, h2)
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"valid", "sk_abcd1234_secretsecretsecretsecretsecret12", "sk_abcd1234"},
		{"wrong scheme", "pk_abcd1234_secret", ""},
		{"no secret part", "sk_abcd1234", ""},
		{"short prefix", "sk_abc_secretsecretsecretsecret", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPrefix(tt.key))
		})
	}
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", "sk_abcd1234_secretsecretsecretsecretsecret12", true},
		{"short secret allowed", "sk_abcd1234_" + strings.Repeat("x", 16), true},
		{"too short secret", "sk_abcd1234_short", false},
		{"wrong scheme", "ak_abcd1234_secretsecretsecretsecret", false},
		{"missing parts", "sk_abcd1234", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateKeyFormat(tt.key))
		})
	}
}

func TestHashAPIKeyStable(t *testing.T) {
	assert.Equal(t, HashAPIKey("sk_x_y"), HashAPIKey("sk_x_y"))
	assert.NotEqual(t, HashAPIKey("sk_x_y"), HashAPIKey("sk_x_z"))
}
