// Package testutil 测试用的确定性嵌入器与生成器。
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"faultkb/internal/domain/fault"
)

// HashEmbedder 词袋哈希嵌入：相同文本得到相同向量，共享词越多距离越近
type HashEmbedder struct {
	dims int

	mu    sync.Mutex
	calls int
	fail  int   // 接下来失败的次数，<0 表示一直失败
	err   error // 失败时返回的错误
	hook  func(text string)
}

// NewHashEmbedder 创建嵌入器
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dims() int     { return e.dims }
func (e *HashEmbedder) Model() string { return "hash-bow" }

// FailNext 让接下来 n 次调用失败（n<0 一直失败，0 恢复）
func (e *HashEmbedder) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = n
	if e.err == nil {
		e.err = &fault.UpstreamError{Service: "embedding", StatusCode: 503, Err: errUnavailable}
	}
}

// OnEmbed 在每次成功嵌入前回调（用于模拟并发修改）
func (e *HashEmbedder) OnEmbed(hook func(text string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = hook
}

// Calls 调用次数
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	if e.fail != 0 {
		if e.fail > 0 {
			e.fail--
		}
		err := e.err
		e.mu.Unlock()
		return nil, err
	}
	hook := e.hook
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if hook != nil {
			hook(t)
		}
		out[i] = e.Vector(t)
	}
	return out, nil
}

// Vector 计算文本的向量（不计入调用次数）
func (e *HashEmbedder) Vector(text string) []float32 {
	vec := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}
