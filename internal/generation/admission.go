package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/pkg/logger"
)

// admission 记录本进程中已通过准入、但尚未写入生成记录的请求数。
// 同步请求在整个流水线期间持有名额；异步提交只持有到任务行写入为止，此后由
// ActiveJobCounter 计入。
type admission struct {
	mu       sync.Mutex
	inflight map[string]int
}

func newAdmission() *admission {
	return &admission{inflight: make(map[string]int)}
}

func (a *admission) release(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight[userID] <= 1 {
		delete(a.inflight, userID)
		return
	}
	a.inflight[userID]--
}

// Reserve runs the quota check and then the queue check, and on success holds
// one slot for the caller until release is called. Records, pending jobs and
// other holders all count against both ceilings, so a burst of concurrent
// requests cannot pass admission together. release is safe to call twice.
func (s *Service) Reserve(ctx context.Context, userID string) (release func(), err error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}

	s.admission.mu.Lock()
	defer s.admission.mu.Unlock()

	holding := s.admission.inflight[userID]
	if err := s.checkCeilings(ctx, userID, holding); err != nil {
		return nil, err
	}
	s.admission.inflight[userID] = holding + 1

	var once sync.Once
	return func() {
		once.Do(func() { s.admission.release(userID) })
	}, nil
}

// Admit runs the admission checks without holding a slot.
func (s *Service) Admit(ctx context.Context, userID string) error {
	release, err := s.Reserve(ctx, userID)
	if err != nil {
		return err
	}
	release()
	return nil
}

func (s *Service) checkCeilings(ctx context.Context, userID string, holding int) error {
	used, err := s.records.CountSince(ctx, userID, s.now().Add(-s.cfg.Window))
	if err != nil {
		return annotateStorage(err, "统计配额失败")
	}
	active := 0
	if s.jobs != nil {
		if active, err = s.jobs.CountActive(ctx, userID); err != nil {
			return annotateStorage(err, "统计排队任务失败")
		}
	}

	// 排队中的任务与进行中的请求都会产生一条记录。
	if used+active+holding >= s.cfg.DailyLimit {
		logger.Audit().Info("配额已用完",
			slog.String("user_id", userID),
			slog.Int("used", used),
			slog.Int("pending", active+holding),
			slog.Int("limit", s.cfg.DailyLimit))
		return xerrors.New(xerrors.CodeQuotaExceeded, "今日生成次数已用完")
	}
	if active+holding >= s.cfg.QueueLimit {
		return xerrors.New(xerrors.CodeTooManyConcurrent, "排队中的任务过多，请稍后再试")
	}
	return nil
}
