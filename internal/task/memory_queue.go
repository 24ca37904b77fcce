package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MemoryQueue 是单进程内的任务队列，供测试与 memory 驱动使用。关闭后尚未
// 消费的消息被丢弃，未完成的任务由 Service.ResumePending 在下次启动时恢复。
type MemoryQueue struct {
	pending chan string
	closed  chan struct{}
	once    sync.Once
}

// NewMemoryQueue 创建一个容量为 capacity 的内存队列。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		pending: make(chan string, capacity),
		closed:  make(chan struct{}),
	}
}

// Publish 投递任务；队列已满时阻塞直到有空位或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.pending <- jobID:
		return nil
	}
}

// Consume 以 workerCount 个协程消费，直到 ctx 取消（返回 ctx.Err()）或队列关闭（返回 nil）。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range workers(workerCount) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-q.closed:
					return nil
				case jobID := <-q.pending:
					dispatch(gctx, "memory", handler, jobID)
				}
			}
		})
	}
	return g.Wait()
}

// Close 关闭队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

// Len 返回尚未被消费的消息数。
func (q *MemoryQueue) Len() int { return len(q.pending) }

var _ Queue = (*MemoryQueue)(nil)
