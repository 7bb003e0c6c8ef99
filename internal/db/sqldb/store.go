package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
)

const recordColumns = `record_id, ticket_no, specialty, device_name, station_name, report_time, fix_time,
	fault_time, fault_phenomenon, fault_cause, resolution, spare_parts, handler, remarks,
	revision, created_at, updated_at`

const insertRecordSQL = `
	INSERT INTO fault_records (ticket_no, specialty, device_name, station_name, report_time, fix_time,
		fault_time, fault_phenomenon, fault_cause, resolution, spare_parts, handler, remarks,
		revision, created_at, updated_at)
	VALUES (:ticket_no, :specialty, :device_name, :station_name, :report_time, :fix_time,
		:fault_time, :fault_phenomenon, :fault_cause, :resolution, :spare_parts, :handler, :remarks,
		:revision, :created_at, :updated_at)
	RETURNING record_id`

const insertRecordWithIDSQL = `
	INSERT INTO fault_records (record_id, ticket_no, specialty, device_name, station_name, report_time, fix_time,
		fault_time, fault_phenomenon, fault_cause, resolution, spare_parts, handler, remarks,
		revision, created_at, updated_at)
	VALUES (:record_id, :ticket_no, :specialty, :device_name, :station_name, :report_time, :fix_time,
		:fault_time, :fault_phenomenon, :fault_cause, :resolution, :spare_parts, :handler, :remarks,
		:revision, :created_at, :updated_at)`

// Store 故障记录库 + 索引 outbox，实现 fault.RecordStore 与 fault.Outbox。
// 每次记录写入都在同一事务内登记 outbox 事件。
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ fault.RecordStore = (*Store)(nil)
	_ fault.Outbox      = (*Store)(nil)
)

// NewStore 创建存储
func NewStore(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dialect 返回方言
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().Format(time.RFC3339)
}

// ── RecordStore ────────────────────────────────────────────────

// Create 写入新记录，回填 RecordID/Revision/时间戳
func (s *Store) Create(ctx context.Context, rec *fault.Record) (*fault.Mutation, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	var mut *fault.Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		ts := s.timestamp()
		row := *rec
		row.Revision = 1
		row.CreatedAt = ts
		row.UpdatedAt = ts

		id, err := s.insertRecord(ctx, tx, &row)
		if err != nil {
			return err
		}
		eventID, err := s.enqueueTx(ctx, tx, id, fault.OutboxOpUpsert)
		if err != nil {
			return err
		}

		row.RecordID = id
		*rec = row
		mut = &fault.Mutation{RecordID: id, EventID: eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mut, nil
}

func (s *Store) insertRecord(ctx context.Context, tx *sqlx.Tx, rec *fault.Record) (int64, error) {
	query, args, err := sqlx.Named(insertRecordSQL, rec)
	if err != nil {
		return 0, fmt.Errorf("bind insert: %w", err)
	}

	var id int64
	if err := tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("ticket %q: %w", rec.TicketNo, fault.ErrConflict)
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// GetByTicket 按故障单号精确查询
func (s *Store) GetByTicket(ctx context.Context, ticketNo string) (*fault.Record, error) {
	var rec fault.Record
	query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM fault_records WHERE ticket_no = ?`)
	if err := s.db.GetContext(ctx, &rec, query, ticketNo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record by ticket: %w", err)
	}
	return &rec, nil
}

// Get 按 record_id 查询
func (s *Store) Get(ctx context.Context, recordID int64) (*fault.Record, error) {
	var rec fault.Record
	query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM fault_records WHERE record_id = ?`)
	if err := s.db.GetContext(ctx, &rec, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// GetMany 批量查询，结果顺序不保证，不存在的 id 被忽略
func (s *Store) GetMany(ctx context.Context, recordIDs []int64) ([]*fault.Record, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+recordColumns+` FROM fault_records WHERE record_id IN (?)`, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("bind get many: %w", err)
	}

	var recs []*fault.Record
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	return recs, nil
}

// SearchByDevice 设备名称子串匹配，不区分大小写
func (s *Store) SearchByDevice(ctx context.Context, deviceName string) ([]*fault.Record, error) {
	like := "LIKE"
	if s.dialect == DialectPostgres {
		like = "ILIKE"
	}
	query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM fault_records WHERE device_name ` + like + ` ? ORDER BY record_id`)

	var recs []*fault.Record
	if err := s.db.SelectContext(ctx, &recs, query, "%"+deviceName+"%"); err != nil {
		return nil, fmt.Errorf("search records by device: %w", err)
	}
	return recs, nil
}

// List 按 record_id 升序分页
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]*fault.Record, error) {
	if limit <= 0 {
		limit = 500
	}
	query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM fault_records WHERE record_id > ? ORDER BY record_id LIMIT ?`)

	var recs []*fault.Record
	if err := s.db.SelectContext(ctx, &recs, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Update 部分更新，revision 自增。先按单号定位记录，再校验更新内容。
func (s *Store) Update(ctx context.Context, ticketNo string, upd *fault.RecordUpdate) (*fault.Mutation, error) {
	var mut *fault.Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := s.lookupID(ctx, tx, ticketNo)
		if err != nil {
			return err
		}
		if err := upd.Validate(); err != nil {
			return err
		}

		assignments := upd.Assignments()
		sets := make([]string, 0, len(assignments)+2)
		args := make([]any, 0, len(assignments)+2)
		for _, a := range assignments {
			// 列名来自固定白名单
			sets = append(sets, a.Column+" = ?")
			args = append(args, a.Value)
		}
		sets = append(sets, "revision = revision + 1", "updated_at = ?")
		args = append(args, s.timestamp(), id)

		query := tx.Rebind(`UPDATE fault_records SET ` + strings.Join(sets, ", ") + ` WHERE record_id = ?`)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		eventID, err := s.enqueueTx(ctx, tx, id, fault.OutboxOpUpsert)
		if err != nil {
			return err
		}
		mut = &fault.Mutation{RecordID: id, EventID: eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mut, nil
}

// Delete 删除记录
func (s *Store) Delete(ctx context.Context, ticketNo string) (*fault.Mutation, error) {
	var mut *fault.Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := s.lookupID(ctx, tx, ticketNo)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM fault_records WHERE record_id = ?`), id); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		eventID, err := s.enqueueTx(ctx, tx, id, fault.OutboxOpRemove)
		if err != nil {
			return err
		}
		mut = &fault.Mutation{RecordID: id, EventID: eventID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mut, nil
}

func (s *Store) lookupID(ctx context.Context, tx *sqlx.Tx, ticketNo string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT record_id FROM fault_records WHERE ticket_no = ?`), ticketNo)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ticket %q: %w", ticketNo, fault.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup ticket: %w", err)
	}
	return id, nil
}

// ── 批量导入 ──────────────────────────────────────────────────

// ImportResult 导入结果
type ImportResult struct {
	Inserted int
	Removed  int
}

// Import 在一个事务内批量写入记录。replace=true 时先清空原表。
// RecordID > 0 的记录保留原编号。每条写入/删除都登记 outbox 事件。
func (s *Store) Import(ctx context.Context, recs []*fault.Record, replace bool) (*ImportResult, error) {
	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	res := &ImportResult{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if replace {
			var ids []int64
			if err := tx.SelectContext(ctx, &ids, `SELECT record_id FROM fault_records ORDER BY record_id`); err != nil {
				return fmt.Errorf("list existing records: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM fault_records`); err != nil {
				return fmt.Errorf("clear records: %w", err)
			}
			for _, id := range ids {
				if _, err := s.enqueueTx(ctx, tx, id, fault.OutboxOpRemove); err != nil {
					return err
				}
			}
			res.Removed = len(ids)
		}

		ts := s.timestamp()
		explicitIDs := false
		for i, rec := range recs {
			row := *rec
			row.Revision = 1
			row.CreatedAt = ts
			row.UpdatedAt = ts

			if row.RecordID > 0 {
				explicitIDs = true
				if _, err := sqlx.NamedExecContext(ctx, tx, insertRecordWithIDSQL, &row); err != nil {
					if isUniqueViolation(err) {
						return fmt.Errorf("row %d ticket %q record %d: %w", i+1, row.TicketNo, row.RecordID, fault.ErrConflict)
					}
					return fmt.Errorf("row %d: insert record: %w", i+1, err)
				}
			} else {
				id, err := s.insertRecord(ctx, tx, &row)
				if err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
				row.RecordID = id
			}

			if _, err := s.enqueueTx(ctx, tx, row.RecordID, fault.OutboxOpUpsert); err != nil {
				return err
			}
			*rec = row
			res.Inserted++
		}

		if explicitIDs && s.dialect == DialectPostgres {
			// 显式写入 id 后推进序列，避免后续 Create 撞号
			if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('fault_records', 'record_id'),
				GREATEST((SELECT COALESCE(MAX(record_id), 0) FROM fault_records), 1))`); err != nil {
				return fmt.Errorf("advance record sequence: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info("[Storage] Records imported", "inserted", res.Inserted, "removed", res.Removed, "replace", replace)
	return res, nil
}

// ── Outbox ────────────────────────────────────────────────────

const outboxColumns = `event_id, record_id, op, attempts, last_error, created_at`

// Enqueue 单独登记一条 outbox 事件
func (s *Store) Enqueue(ctx context.Context, recordID int64, op fault.OutboxOp) (int64, error) {
	var eventID int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		eventID, err = s.enqueueTx(ctx, tx, recordID, op)
		return err
	})
	return eventID, err
}

func (s *Store) enqueueTx(ctx context.Context, tx *sqlx.Tx, recordID int64, op fault.OutboxOp) (int64, error) {
	var eventID int64
	query := tx.Rebind(`INSERT INTO index_outbox (record_id, op, attempts, last_error, created_at)
		VALUES (?, ?, 0, '', ?) RETURNING event_id`)
	if err := tx.QueryRowxContext(ctx, query, recordID, string(op), s.timestamp()).Scan(&eventID); err != nil {
		return 0, fmt.Errorf("enqueue index event: %w", err)
	}
	return eventID, nil
}

// Pending 按 event_id 升序返回待处理事件；maxAttempts<=0 表示不限重试次数
func (s *Store) Pending(ctx context.Context, limit, maxAttempts int) ([]*fault.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		events []*fault.OutboxEvent
		err    error
	)
	if maxAttempts > 0 {
		query := s.db.Rebind(`SELECT ` + outboxColumns + ` FROM index_outbox WHERE attempts < ? ORDER BY event_id LIMIT ?`)
		err = s.db.SelectContext(ctx, &events, query, maxAttempts, limit)
	} else {
		query := s.db.Rebind(`SELECT ` + outboxColumns + ` FROM index_outbox ORDER BY event_id LIMIT ?`)
		err = s.db.SelectContext(ctx, &events, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list pending index events: %w", err)
	}
	return events, nil
}

// Ack 删除已完成的事件
func (s *Store) Ack(ctx context.Context, eventIDs ...int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM index_outbox WHERE event_id IN (?)`, eventIDs)
	if err != nil {
		return fmt.Errorf("bind ack: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("ack index events: %w", err)
	}
	return nil
}

// AckUpTo 删除 event_id <= eventID 的全部事件（全量重建后使用）
func (s *Store) AckUpTo(ctx context.Context, eventID int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM index_outbox WHERE event_id <= ?`), eventID); err != nil {
		return fmt.Errorf("ack index events up to %d: %w", eventID, err)
	}
	return nil
}

// maxLastErrorBytes last_error 列保留的最大字节数
const maxLastErrorBytes = 1024

// MarkFailed 记录一次失败
func (s *Store) MarkFailed(ctx context.Context, eventID int64, cause string) error {
	cause = truncateUTF8(cause, maxLastErrorBytes)
	query := s.db.Rebind(`UPDATE index_outbox SET attempts = attempts + 1, last_error = ? WHERE event_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, cause, eventID); err != nil {
		return fmt.Errorf("mark index event failed: %w", err)
	}
	return nil
}

// truncateUTF8 截断到至多 n 字节，不切开多字节字符
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MaxEventID 当前最大事件号（空表为 0）
func (s *Store) MaxEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(event_id), 0) FROM index_outbox`); err != nil {
		return 0, fmt.Errorf("max index event id: %w", err)
	}
	return id, nil
}

// CountPending 统计仍会重试与已超过上限的事件数
func (s *Store) CountPending(ctx context.Context, maxAttempts int) (int, int, error) {
	var total, exhausted int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM index_outbox`); err != nil {
		return 0, 0, fmt.Errorf("count index events: %w", err)
	}
	if maxAttempts > 0 {
		query := s.db.Rebind(`SELECT COUNT(*) FROM index_outbox WHERE attempts >= ?`)
		if err := s.db.GetContext(ctx, &exhausted, query, maxAttempts); err != nil {
			return 0, 0, fmt.Errorf("count exhausted index events: %w", err)
		}
	}
	return total - exhausted, exhausted, nil
}

// ── helpers ───────────────────────────────────────────────────

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w", fault.ErrConflict)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
