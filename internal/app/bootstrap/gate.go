package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	"faultkb/internal/domain/vectorindex"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// Backends 语义检索所需的进程级后端
type Backends struct {
	Embedder rag.Embedder
	Index    *vectorindex.Index
}

// InitFunc 构造后端；只在 Gate 持锁时调用，不应发起远程请求
type InitFunc func(ctx context.Context) (*Backends, error)

// Gate 首次使用时恰好构造一次后端。
// 并发调用者等待同一次初始化；失败不缓存，下一次调用重新尝试。
type Gate struct {
	init     InitFunc
	mu       sync.Mutex
	ready    atomic.Bool
	backends *Backends
}

// NewGate 创建初始化闸门
func NewGate(init InitFunc) *Gate {
	return &Gate{init: init}
}

// Ready 确保后端已初始化并返回
func (g *Gate) Ready(ctx context.Context) (*Backends, error) {
	if g.ready.Load() {
		return g.backends, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready.Load() {
		return g.backends, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := g.init(ctx)
	if err == nil && (b == nil || b.Embedder == nil || b.Index == nil) {
		err = fmt.Errorf("incomplete backends")
	}
	if err != nil {
		metrics.GateInitializationsTotal.WithLabelValues("error").Inc()
		applog.Error("[Gate] AI backend initialization failed", "error", err)
		return nil, fmt.Errorf("%w: %w", fault.ErrInitialization, err)
	}

	g.backends = b
	g.ready.Store(true)
	metrics.GateInitializationsTotal.WithLabelValues("ok").Inc()
	applog.Info("[Gate] AI backends ready", "model", b.Embedder.Model(), "dims", b.Embedder.Dims(), "vectors", b.Index.Len())
	return b, nil
}

// IsReady 是否已完成初始化（不触发初始化）
func (g *Gate) IsReady() bool {
	return g.ready.Load()
}
