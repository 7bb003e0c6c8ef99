package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

const embeddingService = "embedding"

// ── Embedder 接口 ──────────────────────────────────────────────

// Embedder 向量生成接口
type Embedder interface {
	// Embed 将文本列表转为向量（batch），每个向量维度均为 Dims()
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dims 返回向量维度
	Dims() int
	// Model 返回模型名（缓存键的一部分）
	Model() string
}

// EmbedOne 单条文本向量化
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &fault.UpstreamError{Service: embeddingService, Err: fmt.Errorf("expected 1 vector, got %d", len(vecs))}
	}
	return vecs[0], nil
}

// ── OpenAI 兼容 Embedder 实现 ─────────────────────────────────

// OpenAIEmbedder 调用 OpenAI 兼容 /embeddings API
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	timeout time.Duration
	client  *http.Client
}

// OpenAIEmbedderConfig 配置
type OpenAIEmbedderConfig struct {
	BaseURL string // e.g. https://open.bigmodel.cn/api/paas/v4
	APIKey  string
	Model   string // e.g. embedding-2
	Dims    int    // 向量维度
	Timeout time.Duration
	Client  *http.Client
}

// NewOpenAIEmbedder 创建 OpenAI 兼容 Embedder，缺少 API Key 时返回错误
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("embedding API key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "embedding-2"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &OpenAIEmbedder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		timeout: cfg.Timeout,
		client:  client,
	}, nil
}

// Dims 返回向量维度
func (e *OpenAIEmbedder) Dims() int {
	return e.dims
}

// Model 返回模型名
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed 批量生成向量
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// 分批处理（每批最多 64 条，避免 API 限制）
	const batchSize = 64
	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// ── 内部请求/响应结构 ──────────────────────────────────────────

type embeddingRequest struct {
	Input          interface{} `json:"input"`
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Model string          `json:"model"`
	Usage embeddingUsage  `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// embedBatch 单批次 Embedding，超时由 e.timeout 约束
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	statusCode := 0
	defer func() {
		observeGateway(embeddingService, start, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: "float",
	}
	// 支持 dimensions 参数的模型（如 embedding-3 / text-embedding-3-*）
	if strings.Contains(e.model, "embedding-3") {
		reqBody.Dimensions = e.dims
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, upstreamErr(ctx, embeddingService, 0, err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamErr(ctx, embeddingService, statusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &fault.UpstreamError{
			Service:    embeddingService,
			StatusCode: statusCode,
			Err:        fmt.Errorf("embedding API error: %s", truncate(string(respBody), 512)),
		}
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, &fault.UpstreamError{Service: embeddingService, StatusCode: statusCode, Err: fmt.Errorf("parse response: %w", err)}
	}

	// 按 index 排序确保顺序正确
	vectors = make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, &fault.UpstreamError{Service: embeddingService, StatusCode: statusCode, Err: fmt.Errorf("missing embedding for text index %d", i)}
		}
		if len(v) != e.dims {
			return nil, &fault.UpstreamError{Service: embeddingService, StatusCode: statusCode,
				Err: fmt.Errorf("embedding dimension %d does not match configured %d", len(v), e.dims)}
		}
	}

	applog.Debug("[RAG/Embedder] Batch embedded",
		"count", len(texts),
		"dims", len(vectors[0]),
		"tokens", embResp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return vectors, nil
}

// upstreamErr 把传输层错误归类为网关错误，超时统一带上 DeadlineExceeded
func upstreamErr(ctx context.Context, service string, status int, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return &fault.UpstreamError{Service: service, StatusCode: status, Err: err}
}

func observeGateway(service string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		var ue *fault.UpstreamError
		if errors.As(err, &ue) && ue.Timeout() {
			status = "timeout"
		}
	}
	metrics.GatewayRequestsTotal.WithLabelValues(service, status).Inc()
	metrics.GatewayRequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
