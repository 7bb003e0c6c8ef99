package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"faultkb/internal/domain/fault"
	"faultkb/internal/platform/worker"
)

// DefaultMutationTimeout 写操作在请求取消后仍可继续执行的上限
const DefaultMutationTimeout = 2 * time.Minute

// Pinger 可探活的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health 服务状态
type Health struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	AIBackend    string `json:"ai_backend"` // ready | lazy
	IndexVectors int    `json:"index_vectors"`
}

// Service HTTP 与 CLI 共用的门面：所有阻塞调用都在 worker 池中执行
type Service struct {
	store      fault.RecordStore
	syncer     *Synchronizer
	query      *QueryPipeline
	reconciler *Reconciler
	gate       Gate
	pool       *worker.Pool

	mutationTimeout time.Duration
}

// ServiceDeps 门面依赖
type ServiceDeps struct {
	Store           fault.RecordStore
	Synchronizer    *Synchronizer
	Query           *QueryPipeline
	Reconciler      *Reconciler
	Gate            Gate
	Pool            *worker.Pool
	MutationTimeout time.Duration
}

// NewService 创建门面
func NewService(d ServiceDeps) *Service {
	if d.MutationTimeout <= 0 {
		d.MutationTimeout = DefaultMutationTimeout
	}
	if d.Pool == nil {
		d.Pool = worker.New(worker.Config{})
	}
	return &Service{
		store:           d.Store,
		syncer:          d.Synchronizer,
		query:           d.Query,
		reconciler:      d.Reconciler,
		gate:            d.Gate,
		pool:            d.Pool,
		mutationTimeout: d.MutationTimeout,
	}
}

// syncResult 部分成功时 rec 与 err 同时非空
type syncResult struct {
	rec *fault.Record
	err error
}

// mutate 写操作与请求生命周期解耦：调用方断开后记录库与索引仍走完同一次同步
func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context) (*fault.Record, error)) (*fault.Record, error) {
	res, err := worker.Submit(ctx, s.pool, func(context.Context) (syncResult, error) {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mutationTimeout)
		defer cancel()
		rec, err := fn(mctx)
		return syncResult{rec: rec, err: err}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.rec, res.err
}

// CreateRecord 新建记录。部分成功时返回记录和 *fault.PartialSyncError。
func (s *Service) CreateRecord(ctx context.Context, rec *fault.Record) (*fault.Record, error) {
	return s.mutate(ctx, func(ctx context.Context) (*fault.Record, error) {
		return s.syncer.Create(ctx, rec)
	})
}

// UpdateRecord 部分更新记录
func (s *Service) UpdateRecord(ctx context.Context, ticketNo string, upd *fault.RecordUpdate) (*fault.Record, error) {
	return s.mutate(ctx, func(ctx context.Context) (*fault.Record, error) {
		return s.syncer.Update(ctx, ticketNo, upd)
	})
}

// DeleteRecord 删除记录
func (s *Service) DeleteRecord(ctx context.Context, ticketNo string) error {
	_, err := s.mutate(ctx, func(ctx context.Context) (*fault.Record, error) {
		return nil, s.syncer.Delete(ctx, ticketNo)
	})
	return err
}

// GetRecord 按故障单号精确查询，不触发 AI 后端初始化
func (s *Service) GetRecord(ctx context.Context, ticketNo string) (*fault.Record, error) {
	rec, err := worker.Submit(ctx, s.pool, func(ctx context.Context) (*fault.Record, error) {
		return s.store.GetByTicket(ctx, ticketNo)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("ticket %q: %w", ticketNo, fault.ErrNotFound)
	}
	return rec, nil
}

// SearchByDevice 设备名称模糊搜索，无结果时返回 ErrNotFound
func (s *Service) SearchByDevice(ctx context.Context, deviceName string) ([]*fault.Record, error) {
	if strings.TrimSpace(deviceName) == "" {
		return nil, fmt.Errorf("device name is required: %w", fault.ErrValidation)
	}
	recs, err := worker.Submit(ctx, s.pool, func(ctx context.Context) ([]*fault.Record, error) {
		return s.store.SearchByDevice(ctx, deviceName)
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("device %q: %w", deviceName, fault.ErrNotFound)
	}
	return recs, nil
}

// Ask 智能问答
func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	return worker.Submit(ctx, s.pool, func(ctx context.Context) (*Answer, error) {
		return s.query.Answer(ctx, question)
	})
}

// Reconcile 立即处理一批 outbox 事件
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if s.reconciler == nil {
		return nil, fmt.Errorf("reconciler is not configured: %w", fault.ErrInitialization)
	}
	return worker.Submit(ctx, s.pool, s.reconciler.RunOnce)
}

// Health 返回服务状态；不触发 AI 后端初始化
func (s *Service) Health(ctx context.Context) *Health {
	h := &Health{Status: "ok", Database: "ok", AIBackend: "lazy"}
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			h.Status = "degraded"
			h.Database = err.Error()
		}
	}
	if s.gate != nil && s.gate.IsReady() {
		h.AIBackend = "ready"
		if b, err := s.gate.Ready(ctx); err == nil {
			h.IndexVectors = b.Index.Len()
		}
	}
	return h
}
