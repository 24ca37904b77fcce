package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedisList 在内存中模拟 LPUSH/BRPOP。
type fakeRedisList struct {
	mu    sync.Mutex
	items []string
}

func (f *fakeRedisList) LPush(_ context.Context, _ string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.items = append([]string{fmt.Sprint(v)}, f.items...)
	}
	return redis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeRedisList) BRPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	if n := len(f.items); n > 0 {
		last := f.items[n-1]
		f.items = f.items[:n-1]
		f.mu.Unlock()
		return redis.NewStringSliceResult([]string{keys[0], last}, nil)
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(5 * time.Millisecond):
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
}

func (f *fakeRedisList) Close() error { return nil }

func (f *fakeRedisList) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func TestQueuesDeliverFailedMessagesOnlyOnce(t *testing.T) {
	redisList := &fakeRedisList{}
	queues := map[string]Queue{
		"memory": NewMemoryQueue(8),
		"redis":  NewRedisQueueWithClient(redisList, "", 10*time.Millisecond),
	}
	for name, queue := range queues {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var mu sync.Mutex
			deliveries := make(map[string]int)
			done := make(chan error, 1)
			go func() {
				done <- queue.Consume(ctx, 2, func(_ context.Context, jobID string) error {
					mu.Lock()
					deliveries[jobID]++
					mu.Unlock()
					return errors.New("store offline")
				})
			}()

			for _, id := range []string{"job-1", "job-2"} {
				if err := queue.Publish(ctx, id); err != nil {
					t.Fatalf("publish %s: %v", id, err)
				}
			}

			deadline := time.After(2 * time.Second)
			for {
				mu.Lock()
				got := len(deliveries)
				mu.Unlock()
				if got == 2 {
					break
				}
				select {
				case <-deadline:
					t.Fatalf("messages not delivered: %v", deliveries)
				case <-time.After(5 * time.Millisecond):
				}
			}
			// 给错误的重投留出时间窗口。
			time.Sleep(100 * time.Millisecond)

			mu.Lock()
			for id, n := range deliveries {
				if n != 1 {
					t.Fatalf("%s delivered %d times, handler errors must not redeliver", id, n)
				}
			}
			mu.Unlock()

			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		})
	}
	if n := redisList.len(); n != 0 {
		t.Fatalf("redis list should be drained, %d left", n)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	queue := NewMemoryQueue(2)
	if err := queue.Publish(context.Background(), "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one pending message, got %d", queue.Len())
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = queue.Close()

	if err := queue.Publish(context.Background(), "job-2"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := queue.Consume(context.Background(), 1, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("consume on a closed queue should return nil, got %v", err)
	}
}
