// Package knowledge 同时触及记录库与向量索引的应用服务：同步层、补偿、全量重建与问答管线。
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"faultkb/internal/app/bootstrap"
	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// DefaultMaxSettleRounds 同一记录在一次同步内最多重嵌入的轮数
const DefaultMaxSettleRounds = 3

var errNotSettled = errors.New("record kept changing while indexing")

// Gate 后端初始化闸门
type Gate interface {
	Ready(ctx context.Context) (*bootstrap.Backends, error)
	IsReady() bool
}

// Synchronizer 记录库与向量索引之间唯一的写路径。
//
// 记录库先提交（同一事务登记 outbox 事件），再更新索引。索引步骤失败时
// 返回 *fault.PartialSyncError，事件保持待处理，由 Reconciler 补偿。
// 索引步骤按记录当前状态收敛：写入后重读记录，被删则移除向量，revision 变化则重建。
type Synchronizer struct {
	store     fault.RecordStore
	outbox    fault.Outbox
	gate      Gate
	maxSettle int
}

// NewSynchronizer 创建同步层
func NewSynchronizer(store fault.RecordStore, outbox fault.Outbox, gate Gate, maxSettleRounds int) *Synchronizer {
	if maxSettleRounds <= 0 {
		maxSettleRounds = DefaultMaxSettleRounds
	}
	return &Synchronizer{
		store:     store,
		outbox:    outbox,
		gate:      gate,
		maxSettle: maxSettleRounds,
	}
}

// Create 新建记录并写入索引。
// 部分成功时同时返回已提交的记录和 *fault.PartialSyncError。
func (s *Synchronizer) Create(ctx context.Context, rec *fault.Record) (*fault.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	b, err := s.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	row := *rec
	mut, err := s.store.Create(ctx, &row)
	if err != nil {
		metrics.SyncOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	if err := s.finish(ctx, b, "create", row.TicketNo, mut); err != nil {
		return &row, err
	}
	return &row, nil
}

// Update 部分更新记录并重建其向量
func (s *Synchronizer) Update(ctx context.Context, ticketNo string, upd *fault.RecordUpdate) (*fault.Record, error) {
	if upd.IsEmpty() {
		// 先确认单号存在：未知单号返回 NotFound，已知单号的空更新才是校验错误
		rec, err := s.store.GetByTicket(ctx, ticketNo)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("ticket %q: %w", ticketNo, fault.ErrNotFound)
		}
		return nil, upd.Validate()
	}
	b, err := s.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	mut, err := s.store.Update(ctx, ticketNo, upd)
	if err != nil {
		metrics.SyncOperationsTotal.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	syncErr := s.finish(ctx, b, "update", ticketNo, mut)

	rec, err := s.store.Get(ctx, mut.RecordID)
	if err != nil {
		if syncErr != nil {
			return nil, errors.Join(syncErr, err)
		}
		return nil, err
	}
	if rec == nil {
		// 并发删除
		return nil, fmt.Errorf("ticket %q: %w", ticketNo, fault.ErrNotFound)
	}
	return rec, syncErr
}

// Delete 删除记录并移除其向量
func (s *Synchronizer) Delete(ctx context.Context, ticketNo string) error {
	b, err := s.gate.Ready(ctx)
	if err != nil {
		return err
	}

	mut, err := s.store.Delete(ctx, ticketNo)
	if err != nil {
		metrics.SyncOperationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	return s.finish(ctx, b, "delete", ticketNo, mut)
}

// finish 执行索引步骤并处理 outbox 事件
func (s *Synchronizer) finish(ctx context.Context, b *bootstrap.Backends, op, ticketNo string, mut *fault.Mutation) error {
	if err := s.SyncRecord(ctx, b, mut.RecordID); err != nil {
		metrics.SyncOperationsTotal.WithLabelValues(op, "partial").Inc()
		applog.Warn("[Sync] Index step failed, left for reconciliation",
			"op", op, "ticket_no", ticketNo, "record_id", mut.RecordID, "event_id", mut.EventID, "error", err)
		if markErr := s.outbox.MarkFailed(ctx, mut.EventID, err.Error()); markErr != nil {
			applog.Warn("[Sync] Failed to record outbox failure", "event_id", mut.EventID, "error", markErr)
		}
		return &fault.PartialSyncError{Op: op, RecordID: mut.RecordID, TicketNo: ticketNo, Err: err}
	}

	metrics.SyncOperationsTotal.WithLabelValues(op, "ok").Inc()
	if err := s.outbox.Ack(ctx, mut.EventID); err != nil {
		// 事件保留，Reconciler 会再做一次幂等同步
		applog.Warn("[Sync] Failed to ack outbox event", "event_id", mut.EventID, "error", err)
	}
	applog.Debug("[Sync] Record synchronized", "op", op, "ticket_no", ticketNo, "record_id", mut.RecordID)
	return nil
}

// SyncRecord 让索引中 recordID 的状态与记录库一致：
// 先移除旧向量，记录存在则按当前内容重嵌入写回，直到写入的 revision 与库中一致。
// 中途失败时移除已写入的向量，记录暂时不可检索，而不是带着旧内容被检索到。
func (s *Synchronizer) SyncRecord(ctx context.Context, b *bootstrap.Backends, recordID int64) (err error) {
	if _, err := b.Index.Remove(recordID); err != nil {
		return fmt.Errorf("remove vector %d: %w", recordID, err)
	}

	added := false
	defer func() {
		if err == nil || !added {
			return
		}
		if _, rmErr := b.Index.Remove(recordID); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove vector %d: %w", recordID, rmErr))
		}
	}()

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return err
	}

	for round := 0; rec != nil; round++ {
		if round >= s.maxSettle {
			return fmt.Errorf("record %d: %w after %d rounds", recordID, errNotSettled, round)
		}

		vec, err := rag.EmbedOne(ctx, b.Embedder, fault.EmbeddingText(rec))
		if err != nil {
			return err
		}
		if err := b.Index.Add(recordID, vec); err != nil {
			return fmt.Errorf("add vector %d: %w", recordID, err)
		}
		added = true

		latest, err := s.store.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if latest == nil {
			// 嵌入期间记录被删除
			added = false
			if _, err := b.Index.Remove(recordID); err != nil {
				return fmt.Errorf("remove vector %d: %w", recordID, err)
			}
			return nil
		}
		if latest.Revision == rec.Revision {
			return nil
		}
		rec = latest
	}
	return nil
}
