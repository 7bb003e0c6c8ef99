// Package kbapp 由配置装配出服务端与 kbctl 共用的组件图。
package kbapp

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"faultkb/internal/app/bootstrap"
	"faultkb/internal/app/knowledge"
	redisdb "faultkb/internal/db/redis"
	"faultkb/internal/db/sqldb"
	"faultkb/internal/domain/rag"
	"faultkb/internal/platform/config"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/worker"
	"faultkb/internal/provider"
)

const redisPingTimeout = 5 * time.Second

// App 已装配的组件
type App struct {
	Config *config.AppConfig

	Store      *sqldb.Store
	Gate       *bootstrap.Gate
	Sync       *knowledge.Synchronizer
	Query      *knowledge.QueryPipeline
	Reconciler *knowledge.Reconciler
	Reindexer  *knowledge.Reindexer
	Service    *knowledge.Service

	// RedisCache 配置了 REDIS_URL 时非空
	RedisCache *redisdb.EmbeddingCache

	redis *goredis.Client
}

// New 连接记录库并装配组件。AI 后端不在此初始化，由 Gate 在首次使用时构造。
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	db, dialect, err := sqldb.Open(ctx, sqldb.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetimeSeconds,
	})
	if err != nil {
		return nil, err
	}
	if err := sqldb.EnsureSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	applog.Infof("✅ Record store ready (dialect: %s)", dialect)

	app := &App{Config: cfg, Store: sqldb.NewStore(db, dialect)}

	cache := app.embeddingCache(ctx)

	gw := bootstrap.GatewayConfig{
		APIKey:                     cfg.OpenAI.APIKey,
		BaseURL:                    cfg.OpenAI.BaseURL,
		ConnectTimeoutSeconds:      cfg.OpenAI.ConnectTimeoutSeconds,
		TLSHandshakeTimeoutSeconds: cfg.OpenAI.TLSHandshakeTimeoutSeconds,
	}
	app.Gate = bootstrap.NewGate(bootstrap.AIBackendInit(gw, cfg.RAG, cache))

	reg := provider.NewRegistry()
	bootstrap.RegisterLLMProviders(reg, gw)
	gen := bootstrap.NewGenerator(reg, bootstrap.GeneratorConfig{
		Provider:     cfg.Generation.Provider,
		Model:        cfg.Generation.Model,
		SystemPrompt: cfg.Generation.SystemPrompt,
		Timeout:      config.Seconds(cfg.Generation.TimeoutSeconds),
	})

	app.Sync = knowledge.NewSynchronizer(app.Store, app.Store, app.Gate, cfg.Outbox.MaxSettleRounds)
	app.Query = knowledge.NewQueryPipeline(app.Gate, app.Store, gen, cfg.RAG.DefaultTopK, cfg.Generation.Temperature)
	app.Reconciler = knowledge.NewReconciler(app.Sync, app.Store, app.Gate, knowledge.ReconcilerConfig{
		Interval:    config.Seconds(cfg.Outbox.IntervalSeconds),
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	app.Reindexer = knowledge.NewReindexer(app.Store, app.Store, app.Gate, knowledge.ReindexConfig{
		RatePerSecond: cfg.Reindex.RatePerSecond,
		Burst:         cfg.Reindex.Burst,
		Parallelism:   cfg.Reindex.Parallelism,
		PageSize:      cfg.Reindex.PageSize,
	})
	app.Service = knowledge.NewService(knowledge.ServiceDeps{
		Store:        app.Store,
		Synchronizer: app.Sync,
		Query:        app.Query,
		Reconciler:   app.Reconciler,
		Gate:         app.Gate,
		Pool: worker.New(worker.Config{
			MaxConcurrency: cfg.Worker.MaxConcurrency,
			QueueTimeout:   config.Seconds(cfg.Worker.QueueTimeoutSeconds),
		}),
		MutationTimeout: config.Seconds(cfg.Worker.MutationTimeoutSeconds),
	})
	return app, nil
}

// embeddingCache Redis 可用时共享缓存，否则退回进程内 LRU；TTL 为 0 时不缓存
func (a *App) embeddingCache(ctx context.Context) rag.EmbeddingCache {
	ragCfg := a.Config.RAG
	if !ragCfg.HasCache() {
		applog.Info("ℹ️  Embedding cache disabled")
		return nil
	}

	if url := a.Config.Redis.URL; url != "" {
		client, err := redisdb.Connect(ctx, url, redisPingTimeout)
		if err == nil {
			a.redis = client
			a.RedisCache = redisdb.NewEmbeddingCache(client, ragCfg.CacheTTL)
			applog.Infof("✅ Embedding cache on Redis (TTL: %ds)", ragCfg.CacheTTL)
			return a.RedisCache
		}
		applog.Warnf("⚠️  Redis unavailable, falling back to in-process cache: %v", err)
	}

	applog.Infof("✅ Embedding cache in process (size: %d, TTL: %ds)", ragCfg.CacheSize, ragCfg.CacheTTL)
	return rag.NewLRUEmbeddingCache(ragCfg.CacheSize, ragCfg.CacheTTLDuration())
}

// Close 释放连接
func (a *App) Close() error {
	a.Reconciler.Stop()
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	return firstErr
}
