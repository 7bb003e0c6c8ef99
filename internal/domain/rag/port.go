package rag

import "faultkb/internal/domain/vectorindex"

// VectorSearcher Retriever 依赖的向量检索能力
type VectorSearcher interface {
	Search(query []float32, k int) ([]vectorindex.Hit, error)
	Len() int
}
