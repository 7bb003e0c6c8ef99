package testutil

import (
	"context"
	"errors"
	"sync"
)

var errUnavailable = errors.New("service unavailable")

// Generator 记录 prompt 与温度并返回固定回答
type Generator struct {
	Answer string
	Err    error

	mu          sync.Mutex
	calls       int
	prompts     []string
	temperature float64
}

func (g *Generator) Generate(_ context.Context, prompt string, temperature float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.temperature = temperature
	if g.Err != nil {
		return "", g.Err
	}
	return g.Answer, nil
}

// Calls 调用次数
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastPrompt 最后一次的 prompt
func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// LastTemperature 最后一次的温度
func (g *Generator) LastTemperature() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.temperature
}
