package fault

import "context"

// OutboxOp 索引补偿操作类型
type OutboxOp string

const (
	OutboxOpUpsert OutboxOp = "upsert"
	OutboxOpRemove OutboxOp = "remove"
)

// Mutation 一次记录库写入的结果。每次写入都会在同一事务内登记一条 outbox 事件。
type Mutation struct {
	RecordID int64
	EventID  int64
}

// RecordStore 故障记录存储接口
type RecordStore interface {
	// Create 写入新记录并回填 RecordID/Revision，故障单号重复时返回 ErrConflict
	Create(ctx context.Context, rec *Record) (*Mutation, error)
	// GetByTicket 按故障单号精确查询，不存在时返回 nil, nil
	GetByTicket(ctx context.Context, ticketNo string) (*Record, error)
	// Get 按 record_id 查询，不存在时返回 nil, nil
	Get(ctx context.Context, recordID int64) (*Record, error)
	// GetMany 批量查询，不保证顺序
	GetMany(ctx context.Context, recordIDs []int64) ([]*Record, error)
	// SearchByDevice 设备名称模糊搜索
	SearchByDevice(ctx context.Context, deviceName string) ([]*Record, error)
	// Update 部分更新，不存在时返回 ErrNotFound
	Update(ctx context.Context, ticketNo string, upd *RecordUpdate) (*Mutation, error)
	// Delete 删除记录，不存在时返回 ErrNotFound
	Delete(ctx context.Context, ticketNo string) (*Mutation, error)
	// List 按 record_id 升序分页（keyset）
	List(ctx context.Context, afterID int64, limit int) ([]*Record, error)
}

// OutboxEvent 待补偿的索引事件
type OutboxEvent struct {
	EventID   int64    `json:"event_id" db:"event_id"`
	RecordID  int64    `json:"record_id" db:"record_id"`
	Op        OutboxOp `json:"op" db:"op"`
	Attempts  int      `json:"attempts" db:"attempts"`
	LastError string   `json:"last_error" db:"last_error"`
	CreatedAt string   `json:"created_at" db:"created_at"`
}

// Outbox 索引补偿队列
type Outbox interface {
	Enqueue(ctx context.Context, recordID int64, op OutboxOp) (int64, error)
	Pending(ctx context.Context, limit, maxAttempts int) ([]*OutboxEvent, error)
	Ack(ctx context.Context, eventIDs ...int64) error
	AckUpTo(ctx context.Context, eventID int64) error
	MarkFailed(ctx context.Context, eventID int64, cause string) error
	MaxEventID(ctx context.Context) (int64, error)
	// CountPending 返回仍会重试的事件数与已超过重试上限的事件数
	CountPending(ctx context.Context, maxAttempts int) (pending int, exhausted int, err error)
}
