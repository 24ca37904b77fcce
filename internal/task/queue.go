package task

import (
	"context"
	"log/slog"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/pkg/logger"
)

// Handler 处理来自消息队列的任务 ID。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
//
// 所有实现遵循同一约定：每条消息只交给 handler 一次，handler 返回后消息即视为
// 已消费，返回的错误只记录日志。队列本身从不重投，重试一律由 Processor 按退避
// 策略重新 Publish，任务状态以 Store 为准。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// ErrQueueClosed 表示队列已经关闭。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "queue closed")

// dispatch 把一条消息交给 handler，是各队列实现共享的消费步骤。
func dispatch(ctx context.Context, driver string, handler Handler, jobID string) {
	if err := handler(ctx, jobID); err != nil {
		logger.L().Warn("任务处理返回错误，消息不会由队列重投",
			slog.String("driver", driver),
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
