package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
)

// SQLStore 使用 MySQL 或 SQLite 的 sprite_jobs 表记录任务状态，表结构由 sqldb.Migrate 创建。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 包装一个已经完成迁移的连接池。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const jobColumns = `id, user_id, request, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	request, err := json.Marshal(job.Request)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务请求失败")
	}
	result, err := marshalResult(job.Result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务结果失败")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO sprite_jobs (`+jobColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.UserID,
		string(request),
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.LastError,
		job.ErrorCode,
		result,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sprite_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const updateStmt = `UPDATE sprite_jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch job.Status {
	case StatusSucceeded:
		return job, ErrJobCompleted
	case StatusPending:
		if job.Attempts >= job.MaxRetries {
			return job, ErrJobExhausted
		}
	}
	return job, ErrJobConflict
}

// MarkSucceeded 将任务标记为成功。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result Result) error {
	encoded, err := marshalResult(&result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务结果失败")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sprite_jobs SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`,
		string(StatusSucceeded), encoded, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败原因，非终态失败会让任务回到待执行状态。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sprite_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CountActive 统计用户待执行与运行中的任务数。
func (s *SQLStore) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sprite_jobs WHERE user_id = ? AND status IN (?, ?)`,
		userID, string(StatusPending), string(StatusRunning),
	).Scan(&count)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计排队任务失败")
	}
	return count, nil
}

// List 返回符合条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM sprite_jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		status  string
		request string
		result  string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&request,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorCode,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	var req generation.SpriteRequest
	if err := json.Unmarshal([]byte(request), &req); err != nil {
		return nil, fmt.Errorf("解析任务请求失败: %w", err)
	}
	job.Request = req
	if strings.TrimSpace(result) != "" {
		var decoded Result
		if err := json.Unmarshal([]byte(result), &decoded); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
		job.Result = &decoded
	}
	return &job, nil
}

func marshalResult(result *Result) (string, error) {
	if result == nil {
		return "", nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

// isDuplicateKey 识别 MySQL 1062 与 SQLite 的唯一约束冲突。
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLStore)(nil)
