package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"SpriteForge/deploy/migrations"
	"SpriteForge/pkg/logger"
)

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// Migrate 依次执行尚未应用的内置迁移。
func Migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	return MigrateFS(ctx, db, migrations.Files)
}

// MigrateFS 执行 files 根目录下的 *.sql 迁移，返回本次新应用的版本号。
func MigrateFS(ctx context.Context, db *sql.DB, files fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := loadAppliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	pending, err := loadMigrationFiles(files)
	if err != nil {
		return nil, err
	}

	var versions []string
	for _, migration := range pending {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return versions, err
		}
		logger.L().Info("已应用数据库迁移", "version", migration.version, "file", migration.name)
		versions = append(versions, migration.version)
	}
	return versions, nil
}

func loadAppliedVersions(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration migrationFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}

	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", migration.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, migration.version, time.Now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

func loadMigrationFiles(files fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var out []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		contentBytes, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(contentBytes))
		if len(statements) == 0 {
			continue
		}
		out = append(out, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		statements = append(statements, trimmed)
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
