package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	"faultkb/internal/domain/vectorindex"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fixedEmbedder) Dims() int     { return 2 }
func (fixedEmbedder) Model() string { return "fixed" }

func TestGateInitializesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	gate := NewGate(func(context.Context) (*Backends, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Backends{Embedder: fixedEmbedder{}, Index: vectorindex.New("", 2)}, nil
	})

	const n = 32
	var wg sync.WaitGroup
	results := make([]*Backends, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := gate.Ready(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, gate.IsReady())
	for _, b := range results {
		assert.Same(t, results[0], b)
	}
}

func TestGateRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	gate := NewGate(func(context.Context) (*Backends, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("api key missing")
		}
		return &Backends{Embedder: fixedEmbedder{}, Index: vectorindex.New("", 2)}, nil
	})

	_, err := gate.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrInitialization)
	assert.False(t, gate.IsReady())

	b, err := gate.Ready(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAIBackendInitRequiresAPIKey(t *testing.T) {
	gate := NewGate(AIBackendInit(GatewayConfig{}, *rag.DefaultConfig(), nil))

	_, err := gate.Ready(context.Background())
	assert.ErrorIs(t, err, fault.ErrInitialization)
}

func TestAIBackendInitLoadsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_index.bin")
	seed := vectorindex.New(path, 4)
	require.NoError(t, seed.Add(7, []float32{1, 2, 3, 4}))

	cfg := *rag.DefaultConfig()
	cfg.IndexPath = path
	cfg.EmbeddingDims = 4

	gate := NewGate(AIBackendInit(GatewayConfig{APIKey: "k"}, cfg, rag.NewLRUEmbeddingCache(8, time.Minute)))
	b, err := gate.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.Index.Len())
	assert.True(t, b.Index.Contains(7))
	assert.Equal(t, 4, b.Embedder.Dims())
}
