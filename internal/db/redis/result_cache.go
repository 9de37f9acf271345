package redisdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"skillrag/internal/domain/eval"
	applog "skillrag/internal/platform/log"
)

// ResultCache 评估结果 Redis 缓存。
// key = eval:result:{tenantID}:{fingerprint}，租户隔离由 key 前缀保证。
type ResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewResultCache 创建评估结果缓存
func NewResultCache(rdb *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "eval:result:",
	}
}

// Get 从缓存获取评估结果
func (c *ResultCache) Get(ctx context.Context, tenantID, fingerprint string) (*eval.Result, bool) {
	key := c.key(tenantID, fingerprint)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result eval.Result
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[Eval/Cache] Failed to unmarshal cached result", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// Set 写入评估结果。失败只记日志，不向调用方上报。
func (c *ResultCache) Set(ctx context.Context, tenantID, fingerprint string, result *eval.Result) {
	key := c.key(tenantID, fingerprint)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[Eval/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateTenant 清除某租户的全部缓存（SCAN 模式匹配删除）。
func (c *ResultCache) InvalidateTenant(ctx context.Context, tenantID string) int {
	pattern := c.prefix + tenantID + ":*"
	iter := c.redis.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[Eval/Cache] Tenant cache invalidated", "tenant_id", tenantID, "keys_deleted", len(keys))
	}
	return len(keys)
}

// Ping 健康检查
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *ResultCache) key(tenantID, fingerprint string) string {
	return c.prefix + tenantID + ":" + fingerprint
}
