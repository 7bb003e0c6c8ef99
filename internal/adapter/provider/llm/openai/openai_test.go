package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/domain/fault"
	"faultkb/internal/provider"
)

func TestCompleteSendsTemperatureAndParsesChoice(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"glm-4.5","choices":[{"message":{"role":"assistant","content":"清理灰尘"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "key", BaseURL: srv.URL + "/"})
	resp, err := p.Complete(context.Background(), &provider.CompletionRequest{
		Model:       "glm-4.5",
		Messages:    []provider.Message{{Role: "user", Content: "风扇故障怎么办"}},
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "清理灰尘", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, "glm-4.5", got.Model)
	assert.Equal(t, float64(0), got.Temperature)
	require.Len(t, got.Messages, 1)
}

func TestCompleteClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Complete(context.Background(), &provider.CompletionRequest{Model: "m"})
			require.Error(t, err)
			assert.ErrorIs(t, err, fault.ErrUpstreamUnavailable)

			var ue *fault.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.retryable, ue.Retryable())
		})
	}
}

func TestCompleteTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: srv.URL}).Complete(ctx, &provider.CompletionRequest{Model: "m"})
	var ue *fault.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Timeout())
	assert.True(t, ue.Retryable())
}
