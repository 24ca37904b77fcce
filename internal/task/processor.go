package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/observability/alerting"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/pkg/logger"
)

// Executor 定义了处理器所需的生成能力。
type Executor interface {
	Execute(ctx context.Context, userID string, req generation.SpriteRequest) (*generation.SpriteResult, error)
}

// Backoff 描述重试间隔：第 n 次尝试失败后等待 Base * 2^(n-1)，不超过 Max。
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 与默认的 3 次尝试配合使用。
var DefaultBackoff = Backoff{Base: time.Second, Max: time.Minute}

// Delay 返回第 attempt 次尝试失败后的等待时间。
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Scheduler 在 delay 之后执行 fn。
type Scheduler func(delay time.Duration, fn func())

func afterFunc(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

// Processor 负责从队列消费任务并交给生成服务执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	backoff     Backoff
	schedule    Scheduler
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithBackoff 设置重试间隔。
func WithBackoff(b Backoff) ProcessorOption {
	return func(p *Processor) {
		p.backoff = b
	}
}

// WithScheduler 替换延迟重投的调度方式。
func WithScheduler(s Scheduler) ProcessorOption {
	return func(p *Processor) {
		if s != nil {
			p.schedule = s
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		backoff:     DefaultBackoff,
		schedule:    afterFunc,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrJobExhausted):
			// 例如进程在最后一次尝试中退出，任务被恢复为待执行。
			if markErr := p.store.MarkFailed(ctx, jobID, CodeJobExhausted, xerrors.PublicMessage(err), true); markErr != nil {
				return markErr
			}
			metrics.ObserveJob(metrics.JobFailed)
			p.emitAlert(ctx, &Job{ID: jobID}, CodeJobExhausted, err, "exhausted")
			return nil
		case stdErrors.Is(err, ErrJobNotFound), stdErrors.Is(err, ErrJobCompleted), stdErrors.Is(err, ErrJobConflict):
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		// 队列不会重投，存储暂时不可用时由处理器延迟重新发布。
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.republish(ctx, jobID, p.backoff.Delay(1))
		return err
	}

	result, execErr := p.executor.Execute(ctx, job.UserID, job.Request)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}

	record := Result{
		GenerationID: result.GenerationID,
		AtlasURL:     result.AtlasURL,
		MetaURL:      result.MetaURL,
		Cached:       result.Cached,
	}
	if err := p.store.MarkSucceeded(ctx, job.ID, record); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	metrics.ObserveJob(metrics.JobSucceeded)
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("generation_id", record.GenerationID),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

// handleExecutionFailure 只重试可重试的错误（图像生成失败等），其余错误直接终止。
func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || job.Attempts >= job.MaxRetries

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, xerrors.PublicMessage(execErr), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		metrics.ObserveJob(metrics.JobFailed)
		stage := "terminal"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, job, code, execErr, stage)
		return nil
	}

	delay := p.backoff.Delay(job.Attempts)
	metrics.ObserveJob(metrics.JobRetried)
	p.republish(ctx, job.ID, delay)
	p.logDebug("任务将延迟重试", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts), slog.Duration("delay", delay))
	return nil
}

// republish 在 delay 之后把任务重新放回队列。
func (p *Processor) republish(ctx context.Context, jobID string, delay time.Duration) {
	if p.producer == nil {
		return
	}
	p.schedule(delay, func() {
		if err := p.producer.Publish(ctx, jobID); err != nil {
			wrapped := xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", jobID))
			logger.L().Error("任务重投失败", slog.Any("error", wrapped), slog.String("job_id", jobID))
		}
	})
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		message = xerrors.PublicMessage(cause)
		metadata["cause"] = cause.Error()
		if e, ok := xerrors.From(cause); ok {
			for k, v := range e.Metadata() {
				metadata[k] = v
			}
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		UserID:     job.UserID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
