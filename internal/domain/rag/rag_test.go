package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/domain/fault"
)

func embeddingServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embeddingRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		inputs, _ := req.Input.([]any)
		resp := embeddingResponse{Model: req.Model}
		// 倒序返回，验证按 index 归位
		for i := len(inputs) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[0] = float32(len(inputs[i].(string)))
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: vec})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNewOpenAIEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{})
	assert.Error(t, err)
}

func TestOpenAIEmbedderKeepsInputOrder(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 4, &calls)
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "k", Dims: 4})
	require.NoError(t, err)

	vecs, err := emb.Embed(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
}

func TestOpenAIEmbedderRejectsWrongDimension(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 3, &calls)
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "k", Dims: 4})
	require.NoError(t, err)

	_, err = EmbedOne(context.Background(), emb, "x")
	assert.ErrorIs(t, err, fault.ErrUpstreamUnavailable)
}

func TestOpenAIEmbedderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "k", Dims: 4, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = EmbedOne(context.Background(), emb, "x")
	var ue *fault.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.Timeout())
	assert.True(t, ue.Retryable())
}

func TestOpenAIEmbedderQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "k", Dims: 4})
	require.NoError(t, err)

	_, err = emb.Embed(context.Background(), []string{"x"})
	var ue *fault.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.True(t, ue.Retryable())
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 4, &calls)
	defer srv.Close()

	inner, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "k", Dims: 4})
	require.NoError(t, err)
	emb := NewCachedEmbedder(inner, NewLRUEmbeddingCache(16, time.Minute))

	_, err = emb.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	vecs, err := emb.Embed(context.Background(), []string{"bb", "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][0])

	_, err = emb.Embed(context.Background(), []string{"a", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewCachedEmbedderWithoutCache(t *testing.T) {
	inner, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Same(t, inner, NewCachedEmbedder(inner, nil))
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	assert.NotEqual(t, CacheKey("embedding-2", "x"), CacheKey("embedding-3", "x"))
	assert.Equal(t, CacheKey("embedding-2", "x"), CacheKey("embedding-2", "x"))
}

func TestBuildPrompt(t *testing.T) {
	records := []*fault.Record{
		{TicketNo: "T-1", FaultPhenomenon: "fan failure", FaultCause: "dust", Resolution: "cleaned dust"},
		{TicketNo: "T-2", FaultPhenomenon: "power loss", Resolution: "replaced fuse"},
	}

	prompt := BuildPrompt("风扇坏了怎么办？", records)

	assert.True(t, strings.HasPrefix(prompt, promptPreamble))
	assert.Contains(t, prompt, "--- 历史故障案例参考 ---\n故障案例 1 (故障单号: T-1):\n- 故障现象: fan failure\n- 故障原因: dust\n- 处理措施: cleaned dust")
	assert.Contains(t, prompt, "\n\n故障案例 2 (故障单号: T-2):\n- 故障现象: power loss\n- 故障原因: N/A\n- 处理措施: replaced fuse\n--- 结束 ---")
	assert.True(t, strings.HasSuffix(prompt, "请严格根据以上案例，回答用户提出的问题：'风扇坏了怎么办？'"))
	assert.Less(t, strings.Index(prompt, "T-1"), strings.Index(prompt, "T-2"))
}
