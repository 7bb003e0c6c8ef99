package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// DefaultSystemPrompt 设备维护问答的系统角色
const DefaultSystemPrompt = "你是一名资深的设备维护专家。"

// ChatGenerator 基于 LLMProvider 的单轮生成：system + user 两条消息
type ChatGenerator struct {
	llm          LLMProvider
	model        string
	systemPrompt string
	timeout      time.Duration
}

// ChatGeneratorConfig 生成配置
type ChatGeneratorConfig struct {
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// NewChatGenerator 创建生成器
func NewChatGenerator(llm LLMProvider, cfg ChatGeneratorConfig) *ChatGenerator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ChatGenerator{
		llm:          llm,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
	}
}

// Generate 以给定温度生成回答
func (g *ChatGenerator) Generate(ctx context.Context, prompt string, temperature float64) (text string, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		var ue *fault.UpstreamError
		switch {
		case errors.As(err, &ue) && ue.Timeout():
			status = "timeout"
		case err != nil:
			status = "error"
		}
		metrics.GatewayRequestsTotal.WithLabelValues("generation", status).Inc()
		metrics.GatewayRequestDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.llm.Complete(ctx, &CompletionRequest{
		Model: g.model,
		Messages: []Message{
			{Role: "system", Content: g.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		var ue *fault.UpstreamError
		if !errors.As(err, &ue) {
			err = &fault.UpstreamError{Service: "generation", Err: err}
		}
		return "", fmt.Errorf("generate with %s/%s: %w", g.llm.Name(), g.model, err)
	}

	applog.Debug("[Generator] Completion done",
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(resp.Content), nil
}
