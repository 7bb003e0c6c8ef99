package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"faultkb/internal/domain/rag"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	Log        LogConfig        `json:"log"`
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Auth       AuthConfig       `json:"auth"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Generation GenerationConfig `json:"generation"`
	RAG        rag.Config       `json:"rag"`
	Worker     WorkerConfig     `json:"worker"`
	Outbox     OutboxConfig     `json:"outbox"`
	Reindex    ReindexConfig    `json:"reindex"`
}

type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type ServerConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	ReadTimeoutSeconds    int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds   int    `json:"write_timeout_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig URL 为空时使用进程内嵌入缓存
type RedisConfig struct {
	URL string `json:"url"`
}

// AuthConfig JWTSecret 为空时不启用鉴权
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// OpenAIConfig OpenAI 兼容网关（嵌入与生成共用）
type OpenAIConfig struct {
	APIKey                     string `json:"api_key"`
	BaseURL                    string `json:"base_url"`
	ConnectTimeoutSeconds      int    `json:"connect_timeout_seconds"`
	TLSHandshakeTimeoutSeconds int    `json:"tls_handshake_timeout_seconds"`
}

type GenerationConfig struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	SystemPrompt   string  `json:"system_prompt"`
}

type WorkerConfig struct {
	MaxConcurrency         int `json:"max_concurrency"`
	QueueTimeoutSeconds    int `json:"queue_timeout_seconds"`
	MutationTimeoutSeconds int `json:"mutation_timeout_seconds"`
}

type OutboxConfig struct {
	IntervalSeconds int `json:"interval_seconds"` // 0 表示不启动后台补偿
	BatchSize       int `json:"batch_size"`
	MaxAttempts     int `json:"max_attempts"`
	MaxSettleRounds int `json:"max_settle_rounds"`
}

type ReindexConfig struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
	Parallelism   int     `json:"parallelism"`
	PageSize      int     `json:"page_size"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			ReadTimeoutSeconds:    30,
			WriteTimeoutSeconds:   180,
			RequestTimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			URL:                    "data/fault_knowledge.db",
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			BaseURL:                    "https://open.bigmodel.cn/api/paas/v4",
			ConnectTimeoutSeconds:      10,
			TLSHandshakeTimeoutSeconds: 10,
		},
		Generation: GenerationConfig{
			Provider:       "openai",
			Model:          "glm-4.5",
			Temperature:    0.7,
			TimeoutSeconds: 90,
		},
		RAG: *ragCfg,
		Worker: WorkerConfig{
			MaxConcurrency:         16,
			QueueTimeoutSeconds:    30,
			MutationTimeoutSeconds: 120,
		},
		Outbox: OutboxConfig{
			IntervalSeconds: 30,
			BatchSize:       100,
			MaxAttempts:     10,
			MaxSettleRounds: 3,
		},
		Reindex: ReindexConfig{
			RatePerSecond: 10,
			Burst:         1,
			Parallelism:   4,
			PageSize:      500,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.Log.Level)
	applyString("LOG_FORMAT", &c.Log.Format)
	applyString("LOG_FILE", &c.Log.File)
	applyInt("LOG_MAX_SIZE_MB", &c.Log.MaxSizeMB)
	applyInt("LOG_MAX_BACKUPS", &c.Log.MaxBackups)
	applyInt("LOG_MAX_AGE_DAYS", &c.Log.MaxAgeDays)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt("SERVER_REQUEST_TIMEOUT", &c.Server.RequestTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	applyInt("OPENAI_CONNECT_TIMEOUT", &c.OpenAI.ConnectTimeoutSeconds)
	applyInt("OPENAI_TLS_HANDSHAKE_TIMEOUT", &c.OpenAI.TLSHandshakeTimeoutSeconds)

	applyString("GENERATION_PROVIDER", &c.Generation.Provider)
	applyString("GENERATION_MODEL", &c.Generation.Model)
	applyFloat64("GENERATION_TEMPERATURE", &c.Generation.Temperature)
	applyInt("GENERATION_TIMEOUT", &c.Generation.TimeoutSeconds)
	applyString("GENERATION_SYSTEM_PROMPT", &c.Generation.SystemPrompt)

	// RAG 环境变量
	applyString("RAG_EMBEDDING_MODEL", &c.RAG.EmbeddingModel)
	applyInt("RAG_EMBEDDING_DIMS", &c.RAG.EmbeddingDims)
	applyInt("RAG_EMBEDDING_TIMEOUT", &c.RAG.EmbeddingTimeoutSeconds)
	applyInt("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	applyString("RAG_INDEX_PATH", &c.RAG.IndexPath)
	applyInt("RAG_CACHE_SIZE", &c.RAG.CacheSize)
	applyInt("RAG_CACHE_TTL", &c.RAG.CacheTTL)

	applyInt("WORKER_MAX_CONCURRENCY", &c.Worker.MaxConcurrency)
	applyInt("WORKER_QUEUE_TIMEOUT", &c.Worker.QueueTimeoutSeconds)
	applyInt("WORKER_MUTATION_TIMEOUT", &c.Worker.MutationTimeoutSeconds)

	applyInt("OUTBOX_INTERVAL_SECONDS", &c.Outbox.IntervalSeconds)
	applyInt("OUTBOX_BATCH_SIZE", &c.Outbox.BatchSize)
	applyInt("OUTBOX_MAX_ATTEMPTS", &c.Outbox.MaxAttempts)
	applyInt("SYNC_MAX_SETTLE_ROUNDS", &c.Outbox.MaxSettleRounds)

	applyFloat64("REINDEX_RATE_PER_SECOND", &c.Reindex.RatePerSecond)
	applyInt("REINDEX_BURST", &c.Reindex.Burst)
	applyInt("REINDEX_PARALLELISM", &c.Reindex.Parallelism)
	applyInt("REINDEX_PAGE_SIZE", &c.Reindex.PageSize)
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	c.OpenAI.BaseURL = strings.TrimRight(c.OpenAI.BaseURL, "/")
	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	if c.RAG.DefaultTopK <= 0 {
		c.RAG.DefaultTopK = 3
	}
	if c.Worker.MaxConcurrency <= 0 {
		c.Worker.MaxConcurrency = 16
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.RAG.IndexPath) == "" {
		return fmt.Errorf("RAG_INDEX_PATH is required")
	}
	if c.RAG.EmbeddingDims <= 0 {
		return fmt.Errorf("RAG_EMBEDDING_DIMS must be positive, got %d", c.RAG.EmbeddingDims)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("GENERATION_TEMPERATURE must be within [0, 2], got %v", c.Generation.Temperature)
	}
	return nil
}

// Seconds 把秒数配置转换为 time.Duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
