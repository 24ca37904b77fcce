package task

import (
	"context"

	xerrors "SpriteForge/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将待执行任务置为运行中并累加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	// MarkFailed 记录失败原因。terminal 为 false 时任务回到待执行状态等待重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// CountActive 统计用户待执行与运行中的任务数。
	CountActive(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Close() error
}
