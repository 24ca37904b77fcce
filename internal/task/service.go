package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/pkg/logger"
)

// DefaultMaxRetries 是默认的最大尝试次数。
const DefaultMaxRetries = 3

// Admitter 在任务入队前执行校验与配额、排队检查。Reserve 占用的名额在任务行
// 写入后释放，此后由任务存储的 CountActive 计入。
type Admitter interface {
	ValidateSprite(req generation.SpriteRequest) error
	Reserve(ctx context.Context, userID string) (release func(), err error)
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	admitter   Admitter
	maxRetries int
}

// NewService 构造任务服务。admitter 为空时跳过入队检查。
func NewService(store Store, producer Producer, admitter Admitter, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, admitter: admitter, maxRetries: maxRetries}
}

// Submit 校验请求、完成准入检查后创建任务并推送到队列。
func (s *Service) Submit(ctx context.Context, userID string, req generation.SpriteRequest) (*Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	if s.admitter != nil {
		if err := s.admitter.ValidateSprite(req); err != nil {
			return nil, err
		}
		release, err := s.admitter.Reserve(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	job := &Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Request:    req,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, job.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, job.ID, CodeJobPublish, xerrors.PublicMessage(wrapped), true)
		return nil, wrapped
	}
	metrics.ObserveJob(metrics.JobSubmitted)
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
		slog.Int64("seed", req.Seed),
		slog.Int("max_retries", job.MaxRetries),
	)
	return cloneJob(job), nil
}

// Get 返回调用方自己的任务，其他用户的任务视为不存在。
func (s *Service) Get(ctx context.Context, userID, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List 返回用户符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, userID string, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	options := buildListOptions(opts)
	options.UserID = strings.TrimSpace(userID)
	if options.UserID == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}
	return s.store.List(ctx, options)
}

// ResumePending 在启动时重新投递未完成的任务。运行中的任务视为上次进程中断，退回待执行。
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	var pending []*Job
	for {
		page, err := s.store.List(ctx, ListOptions{
			Statuses: []Status{StatusPending, StatusRunning},
			Order:    SortByUpdatedAsc,
			Limit:    100,
			Offset:   len(pending),
		})
		if err != nil {
			return 0, err
		}
		pending = append(pending, page...)
		if len(page) < 100 {
			break
		}
	}

	resumed := 0
	for _, job := range pending {
		if job.Status == StatusRunning {
			if err := s.store.MarkFailed(ctx, job.ID, xerrors.CodeTimeout, "进程中断，任务重新排队", false); err != nil {
				return resumed, err
			}
		}
		if err := s.producer.Publish(ctx, job.ID); err != nil {
			return resumed, xerrors.Wrap(CodeJobPublish, err, "恢复任务入队失败")
		}
		resumed++
	}
	if resumed > 0 {
		logger.L().Info("已恢复未完成的任务", slog.Int("count", resumed))
	}
	return resumed, nil
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在 ctx 超时前轮询任务状态，直到任务成功或终态失败。
func (s *Service) WaitUntilCompleted(ctx context.Context, userID, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsNotFound 判断错误是否表示任务不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrJobNotFound)
}
