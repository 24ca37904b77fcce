package recordstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "SpriteForge/internal/errors"
)

// SQLRepository 使用 MySQL 或 SQLite 存储生成记录，表结构由 sqldb.Migrate 创建。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 包装一个已经完成迁移的连接池。
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const insertGenerationSQL = `INSERT INTO generations
        (id, user_id, kind, prompt, seed, style, motions, atlas_url, meta_url, image_url, cache_key, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert 实现 Repository。
func (s *SQLRepository) Insert(ctx context.Context, record Generation) error {
	if _, err := s.db.ExecContext(ctx, insertGenerationSQL,
		record.ID,
		record.UserID,
		string(record.Kind),
		record.Prompt,
		record.Seed,
		record.Style,
		strings.Join(record.Motions, ","),
		record.AtlasURL,
		record.MetaURL,
		record.ImageURL,
		record.CacheKey,
		record.CreatedAt.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入生成记录失败",
			xerrors.WithMetadata("generation_id", record.ID))
	}
	return nil
}

// CountSince 实现 Repository。
func (s *SQLRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generations WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计生成记录失败")
	}
	return count, nil
}

// ListByUser 实现 Repository。
func (s *SQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, kind, prompt, seed, style, motions, atlas_url, meta_url, image_url, cache_key, created_at
        FROM generations WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, normalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询生成记录失败")
	}
	defer rows.Close()

	var records []Generation
	for rows.Next() {
		var (
			record  Generation
			kind    string
			motions string
			created int64
		)
		if err := rows.Scan(&record.ID, &record.UserID, &kind, &record.Prompt, &record.Seed, &record.Style,
			&motions, &record.AtlasURL, &record.MetaURL, &record.ImageURL, &record.CacheKey, &created); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析生成记录失败")
		}
		record.Kind = Kind(kind)
		if motions != "" {
			record.Motions = strings.Split(motions, ",")
		}
		record.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历生成记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Repository = (*SQLRepository)(nil)
