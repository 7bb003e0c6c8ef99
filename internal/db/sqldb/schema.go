package sqldb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS fault_records (
		record_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_no        TEXT NOT NULL UNIQUE,
		specialty        TEXT NOT NULL DEFAULT '',
		device_name      TEXT NOT NULL DEFAULT '',
		station_name     TEXT NOT NULL DEFAULT '',
		report_time      TEXT NOT NULL DEFAULT '',
		fix_time         TEXT NOT NULL DEFAULT '',
		fault_time       TEXT NOT NULL DEFAULT '',
		fault_phenomenon TEXT NOT NULL DEFAULT '',
		fault_cause      TEXT NOT NULL DEFAULT '',
		resolution       TEXT NOT NULL DEFAULT '',
		spare_parts      TEXT NOT NULL DEFAULT '',
		handler          TEXT,
		remarks          TEXT,
		revision         INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fault_records_device ON fault_records(device_name)`,
	`CREATE TABLE IF NOT EXISTS index_outbox (
		event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id  INTEGER NOT NULL,
		op         TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_outbox_record ON index_outbox(record_id)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS fault_records (
		record_id        BIGSERIAL PRIMARY KEY,
		ticket_no        VARCHAR(128) NOT NULL UNIQUE,
		specialty        TEXT NOT NULL DEFAULT '',
		device_name      TEXT NOT NULL DEFAULT '',
		station_name     TEXT NOT NULL DEFAULT '',
		report_time      TEXT NOT NULL DEFAULT '',
		fix_time         TEXT NOT NULL DEFAULT '',
		fault_time       TEXT NOT NULL DEFAULT '',
		fault_phenomenon TEXT NOT NULL DEFAULT '',
		fault_cause      TEXT NOT NULL DEFAULT '',
		resolution       TEXT NOT NULL DEFAULT '',
		spare_parts      TEXT NOT NULL DEFAULT '',
		handler          TEXT,
		remarks          TEXT,
		revision         BIGINT NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fault_records_device ON fault_records(device_name)`,
	`CREATE TABLE IF NOT EXISTS index_outbox (
		event_id   BIGSERIAL PRIMARY KEY,
		record_id  BIGINT NOT NULL,
		op         VARCHAR(16) NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_outbox_record ON index_outbox(record_id)`,
}

// EnsureSchema 确保 fault_records 与 index_outbox 表存在（幂等）
func EnsureSchema(ctx context.Context, db *sqlx.DB, dialect Dialect) error {
	stmts := schemaSQLite
	if dialect == DialectPostgres {
		stmts = schemaPostgres
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
