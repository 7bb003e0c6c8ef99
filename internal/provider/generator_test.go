package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/domain/fault"
)

type stubLLM struct {
	last *CompletionRequest
	resp *CompletionResponse
	err  error
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	s.last = req
	return s.resp, s.err
}

func TestChatGeneratorBuildsSystemAndUserMessages(t *testing.T) {
	llm := &stubLLM{resp: &CompletionResponse{Content: "  清理灰尘后恢复  "}}
	gen := NewChatGenerator(llm, ChatGeneratorConfig{Model: "glm-4.5"})

	text, err := gen.Generate(context.Background(), "问题", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "清理灰尘后恢复", text)

	require.NotNil(t, llm.last)
	assert.Equal(t, "glm-4.5", llm.last.Model)
	assert.Equal(t, 0.7, llm.last.Temperature)
	require.Len(t, llm.last.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: DefaultSystemPrompt}, llm.last.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "问题"}, llm.last.Messages[1])
}

func TestChatGeneratorWrapsPlainErrorsAsUpstream(t *testing.T) {
	gen := NewChatGenerator(&stubLLM{err: errors.New("boom")}, ChatGeneratorConfig{Model: "m"})

	_, err := gen.Generate(context.Background(), "q", 0.7)
	assert.ErrorIs(t, err, fault.ErrUpstreamUnavailable)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubLLM{})

	p, err := reg.Get("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", p.Name())
	assert.Equal(t, []string{"stub"}, reg.List())

	_, err = reg.Get("missing")
	assert.Error(t, err)
}
