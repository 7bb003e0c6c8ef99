package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/rag"
	"faultkb/internal/domain/vectorindex"
	applog "faultkb/internal/platform/log"
)

// ReindexConfig 全量重建参数
type ReindexConfig struct {
	RatePerSecond float64 // 嵌入请求速率，<=0 不限速
	Burst         int
	Parallelism   int
	PageSize      int
}

// ReindexReport 全量重建结果
type ReindexReport struct {
	RunID      string        `json:"run_id"`
	Records    int           `json:"records"`
	Indexed    int           `json:"indexed"`
	Skipped    int           `json:"skipped"`
	SkippedIDs []int64       `json:"skipped_record_ids,omitempty"`
	Watermark  int64         `json:"watermark"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Reindexer 从记录库全量重建向量索引
type Reindexer struct {
	store  fault.RecordStore
	outbox fault.Outbox
	gate   Gate
	cfg    ReindexConfig
}

// NewReindexer 创建全量重建器
func NewReindexer(store fault.RecordStore, outbox fault.Outbox, gate Gate, cfg ReindexConfig) *Reindexer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Reindexer{store: store, outbox: outbox, gate: gate, cfg: cfg}
}

// Run 读取全部记录并重嵌入，替换索引内容。
// 嵌入失败的记录跳过并重新登记 outbox 事件，交给 Reconciler 处理；
// 扫描开始前已登记的事件在重建完成后清除。
func (r *Reindexer) Run(ctx context.Context) (*ReindexReport, error) {
	start := time.Now()
	report := &ReindexReport{RunID: uuid.NewString()}

	b, err := r.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	watermark, err := r.outbox.MaxEventID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read outbox watermark: %w", err)
	}
	report.Watermark = watermark

	var limiter *rate.Limiter
	if r.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), r.cfg.Burst)
	}

	applog.Info("[Reindex] Started", "run_id", report.RunID, "watermark", watermark, "parallelism", r.cfg.Parallelism)

	var (
		mu      sync.Mutex
		entries []vectorindex.Entry
	)

	var afterID int64
	for {
		page, err := r.store.List(ctx, afterID, r.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list records after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].RecordID
		report.Records += len(page)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Parallelism)
		for _, rec := range page {
			rec := rec
			g.Go(func() error {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				vec, err := rag.EmbedOne(gctx, b.Embedder, fault.EmbeddingText(rec))

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					report.Skipped++
					report.SkippedIDs = append(report.SkippedIDs, rec.RecordID)
					applog.Warn("[Reindex] Embedding failed, record skipped",
						"run_id", report.RunID, "record_id", rec.RecordID, "ticket_no", rec.TicketNo, "error", err)
					return nil
				}
				entries = append(entries, vectorindex.Entry{ID: rec.RecordID, Vector: vec})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		applog.Info("[Reindex] Progress", "run_id", report.RunID, "records", report.Records, "indexed", len(entries))
		if len(page) < r.cfg.PageSize {
			break
		}
	}

	if err := b.Index.Rebuild(entries); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	report.Indexed = len(entries)

	if err := r.outbox.AckUpTo(ctx, watermark); err != nil {
		return report, fmt.Errorf("clear outbox up to %d: %w", watermark, err)
	}

	var errs []error
	for _, id := range report.SkippedIDs {
		if _, err := r.outbox.Enqueue(ctx, id, fault.OutboxOpUpsert); err != nil {
			errs = append(errs, fmt.Errorf("enqueue record %d: %w", id, err))
		}
	}

	report.Elapsed = time.Since(start)
	applog.Infof("✅ Index rebuilt (run: %s, indexed: %d, skipped: %d, elapsed: %s)",
		report.RunID, report.Indexed, report.Skipped, report.Elapsed.Round(time.Millisecond))
	return report, errors.Join(errs...)
}
