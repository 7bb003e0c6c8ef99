package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	"faultkb/internal/domain/vectorindex"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// DefaultTemperature 生成温度
const DefaultTemperature = 0.7

// Generator 生成网关
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Answer 问答结果，Context 按相关度排列
type Answer struct {
	Text    string          `json:"answer"`
	Context []*fault.Record `json:"retrieved_context"`
}

// QueryPipeline 检索增强问答：嵌入问题 → top-k 检索 → 取回记录 → 拼接 prompt → 生成
type QueryPipeline struct {
	gate        Gate
	store       fault.RecordStore
	gen         Generator
	topK        int
	temperature float64
}

// NewQueryPipeline 创建问答管线
func NewQueryPipeline(gate Gate, store fault.RecordStore, gen Generator, topK int, temperature float64) *QueryPipeline {
	if topK <= 0 {
		topK = 3
	}
	return &QueryPipeline{gate: gate, store: store, gen: gen, topK: topK, temperature: temperature}
}

// Answer 回答问题。知识库中没有可用记录时返回 fault.ErrNoMatch，且不调用生成网关。
func (p *QueryPipeline) Answer(ctx context.Context, question string) (ans *Answer, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case err == nil:
		case isNoMatch(err):
			result = "no_match"
		default:
			result = "error"
		}
		metrics.QueriesTotal.WithLabelValues(result).Inc()
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("query is required: %w", fault.ErrValidation)
	}

	b, err := p.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	hits, err := rag.NewRetriever(b.Embedder, b.Index).Retrieve(ctx, question, p.topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fault.ErrNoMatch
	}

	records, err := p.fetchOrdered(ctx, hits)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fault.ErrNoMatch
	}

	text, err := p.gen.Generate(ctx, rag.BuildPrompt(question, records), p.temperature)
	if err != nil {
		return nil, err
	}

	applog.Info("[Query] Answered",
		"hits", len(hits),
		"context", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Answer{Text: text, Context: records}, nil
}

// fetchOrdered 按检索顺序取回记录，库中已不存在的 id 记录日志后丢弃
func (p *QueryPipeline) fetchOrdered(ctx context.Context, hits []vectorindex.Hit) ([]*fault.Record, error) {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.RecordID
	}

	rows, err := p.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*fault.Record, len(rows))
	for _, r := range rows {
		byID[r.RecordID] = r
	}

	records := make([]*fault.Record, 0, len(hits))
	for _, h := range hits {
		rec, ok := byID[h.RecordID]
		if !ok {
			metrics.IndexInconsistenciesTotal.Inc()
			applog.Warn("[Query] Index references missing record, skipped", "record_id", h.RecordID)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func isNoMatch(err error) bool {
	return errors.Is(err, fault.ErrNoMatch)
}
