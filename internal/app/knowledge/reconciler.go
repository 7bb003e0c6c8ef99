package knowledge

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// ReconcilerConfig 补偿配置
type ReconcilerConfig struct {
	Interval    time.Duration // 0 表示不启动后台循环
	BatchSize   int
	MaxAttempts int // 超过后事件保留但不再重试
}

// ReconcileReport 一次补偿的结果
type ReconcileReport struct {
	Events    int     `json:"events"`
	Records   int     `json:"records"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_record_ids,omitempty"`
	Pending   int     `json:"pending"`
	Exhausted int     `json:"exhausted"`
}

// Reconciler 消费 index_outbox，把部分成功的写入补齐到索引
type Reconciler struct {
	syncer *Synchronizer
	outbox fault.Outbox
	gate   Gate
	cfg    ReconcilerConfig

	run    *semaphore.Weighted // 同一时刻只跑一轮，等待受调用方 ctx 约束
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler 创建补偿器
func NewReconciler(s *Synchronizer, outbox fault.Outbox, gate Gate, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Reconciler{syncer: s, outbox: outbox, gate: gate, cfg: cfg, run: semaphore.NewWeighted(1)}
}

// RunOnce 处理一批待补偿事件。会在必要时触发后端初始化。
// 同一记录的多条事件只同步一次，按记录当前状态收敛。
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	if err := r.run.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.run.Release(1)

	b, err := r.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	events, err := r.outbox.Pending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Events: len(events)}
	byRecord := make(map[int64][]int64)
	var order []int64
	for _, ev := range events {
		if _, seen := byRecord[ev.RecordID]; !seen {
			order = append(order, ev.RecordID)
		}
		byRecord[ev.RecordID] = append(byRecord[ev.RecordID], ev.EventID)
	}
	report.Records = len(order)

	for _, recordID := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		eventIDs := byRecord[recordID]

		if err := r.syncer.SyncRecord(ctx, b, recordID); err != nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, recordID)
			applog.Warn("[Reconciler] Record still out of sync", "record_id", recordID, "events", len(eventIDs), "error", err)
			for _, id := range eventIDs {
				if markErr := r.outbox.MarkFailed(ctx, id, err.Error()); markErr != nil {
					applog.Warn("[Reconciler] Failed to record outbox failure", "event_id", id, "error", markErr)
				}
			}
			continue
		}

		if err := r.outbox.Ack(ctx, eventIDs...); err != nil {
			applog.Warn("[Reconciler] Failed to ack outbox events", "record_id", recordID, "error", err)
			continue
		}
		report.Succeeded++
	}

	pending, exhausted, err := r.outbox.CountPending(ctx, r.cfg.MaxAttempts)
	if err == nil {
		report.Pending = pending
		report.Exhausted = exhausted
		metrics.OutboxEvents.WithLabelValues("pending").Set(float64(pending))
		metrics.OutboxEvents.WithLabelValues("exhausted").Set(float64(exhausted))
	}

	if report.Events > 0 {
		applog.Info("[Reconciler] Outbox drained",
			"events", report.Events,
			"records", report.Records,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"pending", report.Pending,
			"exhausted", report.Exhausted,
		)
	}
	return report, nil
}

// Start 启动后台循环。后端尚未初始化时跳过，保持首次使用时才初始化。
func (r *Reconciler) Start() {
	if r.cfg.Interval <= 0 || r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if !r.gate.IsReady() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval*4)
				if _, err := r.RunOnce(ctx); err != nil {
					applog.Warn("[Reconciler] Run failed", "error", err)
				}
				cancel()
			}
		}
	}()
	applog.Infof("✅ Index reconciler started (interval: %s, batch: %d)", r.cfg.Interval, r.cfg.BatchSize)
}

// Stop 停止后台循环并等待当前一轮结束
func (r *Reconciler) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.stopCh = nil
}
