// Package sqldb opens the relational database shared by the record store and
// the job store, and applies the embedded schema migrations.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// 支持的驱动。
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config 描述数据库连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 建立连接池并确认数据库可用。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMySQL
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", driver)
	}
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite 只允许单写者。
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("执行 %q 失败: %w", pragma, err)
			}
		}
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(10)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
		if cfg.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", driver, err)
	}
	return db, nil
}
