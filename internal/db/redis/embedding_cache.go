package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	applog "faultkb/internal/platform/log"
)

// EmbeddingCache 向量 Redis 缓存，多实例共享
type EmbeddingCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewEmbeddingCache 创建向量缓存
func NewEmbeddingCache(rdb *redis.Client, ttlSeconds int) *EmbeddingCache {
	ttl := time.Hour
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &EmbeddingCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "faultkb:emb:",
	}
}

// Connect 解析 REDIS_URL 并 Ping
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Get 从缓存获取向量
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			applog.Warn("[RAG/Cache] Redis get failed", "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached vector", "error", err)
		return nil, false
	}
	return vec, true
}

// Set 写入向量
func (c *EmbeddingCache) Set(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		applog.Warn("[RAG/Cache] Failed to set cache", "error", err)
	}
}

// InvalidateAll 清除全部向量缓存（切换 embedding 模型后使用）
func (c *EmbeddingCache) InvalidateAll(ctx context.Context) (int, error) {
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			return 0, err
		}
		applog.Info("[RAG/Cache] All cache invalidated", "keys_deleted", len(keys))
	}
	return len(keys), nil
}
