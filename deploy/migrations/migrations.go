package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。语句同时兼容 MySQL 与 SQLite。
//
//go:embed *.sql
var Files embed.FS
