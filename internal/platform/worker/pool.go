// Package worker 有界阻塞任务池：请求处理协程把存储/网关调用交给池执行，并等待结果或请求取消。
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// ErrSaturated 在排队超时内未获得执行槽位
var ErrSaturated = errors.New("worker pool saturated")

// Config 池配置
type Config struct {
	MaxConcurrency int           // 同时执行的任务数
	QueueTimeout   time.Duration // 等待槽位的最长时间，0 表示只受 ctx 约束
}

// Pool 有界任务池
type Pool struct {
	sem          *semaphore.Weighted
	size         int64
	queueTimeout time.Duration
}

// New 创建任务池
func New(cfg Config) *Pool {
	size := cfg.MaxConcurrency
	if size <= 0 {
		size = 8
	}
	return &Pool{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         int64(size),
		queueTimeout: cfg.QueueTimeout,
	}
}

// Size 池容量
func (p *Pool) Size() int { return int(p.size) }

// Do 在池中执行 fn 并等待其完成。
// 调用方 ctx 取消时立即返回 ctx.Err()，已开始的 fn 继续在池中运行到结束。
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	acquireCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrSaturated, err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		metrics.WorkerInFlight.Inc()
		defer metrics.WorkerInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				applog.Error("[Worker] Job panicked", "panic", r)
				done <- fmt.Errorf("worker job panicked: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit 在池中执行返回值的任务
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	res := make(chan T, 1)
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		res <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}
