package bootstrap

import (
	"context"
	"fmt"
	"time"

	"faultkb/internal/adapter/provider/llm/openai"
	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	"faultkb/internal/domain/vectorindex"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/provider"
)

// GatewayConfig OpenAI 兼容网关连接参数（嵌入与生成共用）
type GatewayConfig struct {
	APIKey                     string
	BaseURL                    string
	ConnectTimeoutSeconds      int
	TLSHandshakeTimeoutSeconds int
}

// RegisterLLMProviders registers configured LLM providers.
func RegisterLLMProviders(reg *provider.Registry, gw GatewayConfig) {
	if gw.APIKey == "" {
		applog.Warn("⚠️  No OPENAI_API_KEY set, intelligent search will not work")
		return
	}

	p := openai.New(openai.Config{
		APIKey:                     gw.APIKey,
		BaseURL:                    gw.BaseURL,
		ConnectTimeoutSeconds:      gw.ConnectTimeoutSeconds,
		TLSHandshakeTimeoutSeconds: gw.TLSHandshakeTimeoutSeconds,
	})
	reg.Register(p)
	applog.Infof("✅ Registered LLM provider: %s (base: %s)", p.Name(), gw.BaseURL)
}

// LazyGenerator 每次调用时从注册表解析供应商，未注册时返回网关错误
type LazyGenerator struct {
	reg *provider.Registry
	cfg GeneratorConfig
}

// GeneratorConfig 生成网关参数
type GeneratorConfig struct {
	Provider     string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// NewGenerator 创建生成器
func NewGenerator(reg *provider.Registry, cfg GeneratorConfig) *LazyGenerator {
	return &LazyGenerator{reg: reg, cfg: cfg}
}

// Generate 以固定温度生成回答
func (g *LazyGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	llm, err := g.reg.Get(g.cfg.Provider)
	if err != nil {
		return "", fmt.Errorf("%w: generation provider %q is not configured", fault.ErrInitialization, g.cfg.Provider)
	}
	return provider.NewChatGenerator(llm, provider.ChatGeneratorConfig{
		Model:        g.cfg.Model,
		SystemPrompt: g.cfg.SystemPrompt,
		Timeout:      g.cfg.Timeout,
	}).Generate(ctx, prompt, temperature)
}

// AIBackendInit 返回 Gate 使用的初始化函数：构造嵌入客户端并加载索引快照。
// 只做本地构造与文件读取，不发起远程调用。
func AIBackendInit(gw GatewayConfig, ragCfg rag.Config, cache rag.EmbeddingCache) InitFunc {
	return func(ctx context.Context) (*Backends, error) {
		embedder, err := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
			BaseURL: gw.BaseURL,
			APIKey:  gw.APIKey,
			Model:   ragCfg.EmbeddingModel,
			Dims:    ragCfg.EmbeddingDims,
			Timeout: ragCfg.EmbeddingTimeout(),
			Client:  openai.NewHTTPClient(gw.ConnectTimeoutSeconds, gw.TLSHandshakeTimeoutSeconds),
		})
		if err != nil {
			return nil, err
		}

		idx, err := vectorindex.Open(ragCfg.IndexPath, embedder.Dims())
		if err != nil {
			return nil, err
		}

		applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", embedder.Model(), embedder.Dims())
		return &Backends{
			Embedder: rag.NewCachedEmbedder(embedder, cache),
			Index:    idx,
		}, nil
	}
}
