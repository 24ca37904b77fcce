package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	calls     atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeExecutor) Execute(ctx context.Context, userID string, req generation.SpriteRequest) (*generation.SpriteResult, error) {
	f.calls.Add(1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.processed.Add(1)
	return &generation.SpriteResult{GenerationID: "gen-" + req.Prompt, AtlasURL: "/sprites/atlas.png", MetaURL: "/sprites/meta.json"}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

// recordingScheduler 记录延迟并立即重投。
type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingScheduler) schedule(delay time.Duration, fn func()) {
	r.mu.Lock()
	r.delays = append(r.delays, delay)
	r.mu.Unlock()
	go fn()
}

func (r *recordingScheduler) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func startProcessor(t *testing.T, ctx context.Context, p *Processor) {
	t.Helper()
	go func() {
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, nil, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))
	startProcessor(t, ctx, processor)

	total := 200
	for i := 0; i < total; i++ {
		prompt := fmt.Sprintf("prompt-%d", i)
		if _, err := service.Submit(ctx, fmt.Sprintf("user-%d", i%7), generation.SpriteRequest{Prompt: prompt, Seed: int64(i)}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}

	jobs, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusSucceeded), WithLimit(100)}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 100 {
		t.Fatalf("expected a full page of succeeded jobs, got %d", len(jobs))
	}
}

func TestProcessorRetriesSynthesisFailuresWithBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeSynthesisFailed, "image synthesis failed")}
	alerts := &recordingDispatcher{}
	scheduler := &recordingScheduler{}

	service := NewService(store, queue, nil, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithBackoff(Backoff{Base: time.Second}),
		WithScheduler(scheduler.schedule),
		WithAlertDispatcher(alerts),
	)
	startProcessor(t, ctx, processor)

	job, err := service.Submit(ctx, "user-1", generation.SpriteRequest{Prompt: "knight", Seed: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final, err := service.WaitUntilCompleted(ctx, "user-1", job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if final.Status != StatusFailed {
		t.Fatalf("expected failed job, got %s", final.Status)
	}
	if final.Attempts != 3 || executor.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", final.Attempts, executor.calls.Load())
	}
	if final.ErrorCode != string(xerrors.CodeSynthesisFailed) {
		t.Fatalf("unexpected error code: %s", final.ErrorCode)
	}
	delays := scheduler.snapshot()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected retry delays: %v", delays)
	}

	events := alerts.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal alert, got %d", len(events))
	}
	if events[0].JobID != job.ID || events[0].Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected alert: %+v", events[0])
	}
}

func TestProcessorDoesNotRetryCacheFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeCacheUnavailable, "asset cache unavailable")}
	scheduler := &recordingScheduler{}
	alerts := &recordingDispatcher{}

	service := NewService(store, queue, nil, 3)
	processor := NewProcessor(executor, store, queue, queue, WithScheduler(scheduler.schedule), WithAlertDispatcher(alerts))
	startProcessor(t, ctx, processor)

	job, err := service.Submit(ctx, "user-1", generation.SpriteRequest{Prompt: "knight", Seed: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final, err := service.WaitUntilCompleted(ctx, "user-1", job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusFailed || final.Attempts != 1 {
		t.Fatalf("expected a single terminal attempt, got %+v", final)
	}
	if len(scheduler.snapshot()) != 0 {
		t.Fatalf("cache failures must not be rescheduled")
	}
	if events := alerts.snapshot(); len(events) != 1 || events[0].Metadata["stage"] != "non_retryable" {
		t.Fatalf("unexpected alerts: %+v", events)
	}
}

// flakyClaimStore 让前 failures 次 Claim 返回存储错误。
type flakyClaimStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (s *flakyClaimStore) Claim(ctx context.Context, id string) (*Job, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "database is locked")
	}
	return s.MemoryStore.Claim(ctx, id)
}

func TestProcessorRepublishesWhenClaimFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &flakyClaimStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(1)
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}
	scheduler := &recordingScheduler{}

	service := NewService(store, queue, nil, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithBackoff(Backoff{Base: 250 * time.Millisecond}),
		WithScheduler(scheduler.schedule),
	)
	startProcessor(t, ctx, processor)

	job, err := service.Submit(ctx, "user-1", generation.SpriteRequest{Prompt: "knight", Motions: []string{"idle"}, Seed: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final, err := service.WaitUntilCompleted(ctx, "user-1", job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded || final.Attempts != 1 {
		t.Fatalf("expected success on the first counted attempt, got %+v", final)
	}
	if delays := scheduler.snapshot(); len(delays) != 1 || delays[0] != 250*time.Millisecond {
		t.Fatalf("expected one republish after the claim failure, got %v", delays)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("expected a single execution, got %d", executor.calls.Load())
	}
}
