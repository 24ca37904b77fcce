package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "SpriteForge/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// DefaultRedisQueue 是默认的 list 键名。
const DefaultRedisQueue = "spriteforge:jobs"

// RedisListClient 是队列用到的 Redis 命令子集，*redis.Client 与集群客户端均满足。
type RedisListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisQueue 把任务 ID 放在一个 Redis list 中：LPUSH 入队，BRPOP 出队。
// 弹出即消费，不做回推。
type RedisQueue struct {
	client RedisListClient
	key    string
	block  time.Duration
}

// NewRedisQueue 连接 Redis 并创建队列。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return NewRedisQueueWithClient(client, cfg.Queue, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 复用已有的客户端。block 是单次 BRPOP 的最长等待。
func NewRedisQueueWithClient(client RedisListClient, key string, block time.Duration) *RedisQueue {
	if key == "" {
		key = DefaultRedisQueue
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, block: block}
}

// Publish 将任务 ID 推入 list 头部。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败",
			xerrors.WithMetadata("job_id", jobID))
	}
	return nil
}

// Consume 以 workerCount 个协程轮流 BRPOP。ctx 取消时返回 ctx.Err()，
// Redis 不可用时返回第一个错误并停止全部协程。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range workers(workerCount) {
		g.Go(func() error { return q.work(gctx, handler) })
	}
	return g.Wait()
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		jobID, err := q.pop(ctx)
		switch {
		case err == nil:
			dispatch(ctx, "redis", handler, jobID)
		case errors.Is(err, redis.Nil):
			// 本轮等待超时，没有消息。
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		}
	}
}

// pop 返回一条任务 ID；等待超时返回 redis.Nil。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	values, err := q.client.BRPop(ctx, q.block, q.key).Result()
	if err != nil {
		return "", err
	}
	// values 依次为键名与元素。
	if len(values) != 2 {
		return "", redis.Nil
	}
	return values[1], nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
