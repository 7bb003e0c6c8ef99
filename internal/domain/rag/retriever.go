package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/vectorindex"
	applog "faultkb/internal/platform/log"
)

// Retriever 向量检索：嵌入问题，在索引中取最近的 k 条
type Retriever struct {
	embedder Embedder
	index    VectorSearcher
}

// NewRetriever 创建检索器
func NewRetriever(embedder Embedder, index VectorSearcher) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve 返回按距离升序排列的命中；索引为空时不调用嵌入网关
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]vectorindex.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required: %w", fault.ErrValidation)
	}
	if r.index == nil || r.index.Len() == 0 {
		return nil, nil
	}

	start := time.Now()
	vec, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := r.index.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	applog.Debug("[RAG] Search",
		"top_k", topK,
		"hits", len(hits),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return hits, nil
}
