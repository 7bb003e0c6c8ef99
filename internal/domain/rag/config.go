package rag

import "time"

// Config 语义检索配置
type Config struct {
	// Embedding
	EmbeddingModel          string `json:"embedding_model"`
	EmbeddingDims           int    `json:"embedding_dims"`
	EmbeddingTimeoutSeconds int    `json:"embedding_timeout_seconds"`

	// 检索配置
	DefaultTopK int    `json:"default_top_k"`
	IndexPath   string `json:"index_path"`

	// 缓存配置
	CacheSize int `json:"cache_size"` // 本地缓存条目数
	CacheTTL  int `json:"cache_ttl"`  // 缓存 TTL（秒），0=禁用
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		EmbeddingModel:          "embedding-2",
		EmbeddingDims:           1024,
		EmbeddingTimeoutSeconds: 30,
		DefaultTopK:             3,
		IndexPath:               "data/vector_index.bin",
		CacheSize:               1024,
		CacheTTL:                3600,
	}
}

// HasCache 是否启用缓存
func (c *Config) HasCache() bool {
	return c.CacheTTL > 0
}

// CacheTTLDuration 缓存 TTL
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// EmbeddingTimeout 单次 embedding 请求超时
func (c *Config) EmbeddingTimeout() time.Duration {
	if c.EmbeddingTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.EmbeddingTimeoutSeconds) * time.Second
}
