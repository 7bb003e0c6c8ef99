package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"faultkb/internal/platform/metrics"
)

// EmbeddingCache 向量缓存，键由 CacheKey 生成
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// CacheKey 模型名 + 文本的 sha256
func CacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// LRUEmbeddingCache 进程内带过期的 LRU 缓存
type LRUEmbeddingCache struct {
	lru *expirable.LRU[string, []float32]
}

// NewLRUEmbeddingCache 创建本地缓存
func NewLRUEmbeddingCache(size int, ttl time.Duration) *LRUEmbeddingCache {
	return &LRUEmbeddingCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

func (c *LRUEmbeddingCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.lru.Get(key)
}

func (c *LRUEmbeddingCache) Set(_ context.Context, key string, vec []float32) {
	c.lru.Add(key, vec)
}

// CachedEmbedder 为 Embedder 增加缓存，只对未命中的文本发起远程调用
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
}

// NewCachedEmbedder 包装 Embedder；cache 为 nil 时直接返回 inner
func NewCachedEmbedder(inner Embedder, cache EmbeddingCache) Embedder {
	if cache == nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Dims() int     { return c.inner.Dims() }
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Embed 先查缓存，未命中的文本合并成一批远程调用
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missPos []int

	for i, t := range texts {
		keys[i] = CacheKey(c.inner.Model(), t)
		if v, ok := c.cache.Get(ctx, keys[i]); ok && len(v) == c.inner.Dims() {
			out[i] = v
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		missTexts = append(missTexts, t)
		missPos = append(missPos, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		i := missPos[j]
		out[i] = v
		c.cache.Set(ctx, keys[i], v)
	}
	return out, nil
}
