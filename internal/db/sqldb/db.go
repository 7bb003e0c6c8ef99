// Package sqldb 故障记录库：PostgreSQL（lib/pq）或 SQLite（modernc.org/sqlite），统一通过 sqlx 访问。
package sqldb

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	applog "faultkb/internal/platform/log"
)

// Dialect 数据库方言
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func init() {
	// modernc 驱动名为 "sqlite"，sqlx 默认不认识，注册为 ? 占位符
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Config 数据库连接配置
type Config struct {
	URL             string `json:"url"` // postgres://... | sqlite://path | 文件路径
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// ResolveDSN 根据 URL 判断方言并返回驱动可用的 DSN
func ResolveDSN(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	}

	path := raw
	for _, prefix := range []string{"sqlite://", "sqlite3://", "file:"} {
		path = strings.TrimPrefix(path, prefix)
	}
	query := url.Values{}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		q, err := url.ParseQuery(path[i+1:])
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite options: %w", err)
		}
		query = q
		path = path[:i]
	}
	if path == "" {
		return "", "", fmt.Errorf("sqlite path is empty")
	}
	if len(query["_pragma"]) == 0 {
		query.Add("_pragma", "busy_timeout(5000)")
		query.Add("_pragma", "foreign_keys(1)")
		query.Add("_pragma", "journal_mode(WAL)")
	}
	return DialectSQLite, "file:" + path + "?" + query.Encode(), nil
}

// sqlitePath 从 DSN 中取出文件路径（内存库返回空）
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == ":memory:" {
		return ""
	}
	return p
}

// Open 打开数据库并校验连接
func Open(ctx context.Context, cfg Config) (*sqlx.DB, Dialect, error) {
	dialect, dsn, err := ResolveDSN(cfg.URL)
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectSQLite {
		if p := sqlitePath(dsn); p != "" {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, "", fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite 单写者，串行化连接避免 SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		maxIdle := cfg.MaxIdleConns
		if maxIdle <= 0 {
			maxIdle = 5
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxIdle)
	}
	lifetime := time.Duration(cfg.ConnMaxLifetime) * time.Second
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}

	applog.Info("[Storage] Database connected", "dialect", dialect)
	return db, dialect, nil
}
