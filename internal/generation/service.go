// Package generation coordinates quota checks, cache lookups, synthesis,
// frame processing, uploads and the generation record.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/storage/recordstore"
	"SpriteForge/internal/synthesis"
	"SpriteForge/pkg/logger"
)

// ActiveJobCounter reports how many pending or running jobs a user owns.
type ActiveJobCounter interface {
	CountActive(ctx context.Context, userID string) (int, error)
}

// Dependencies 为编排服务提供协作组件。Jobs 可以为空，此时排队检查只统计本进程中进行中的请求。
type Dependencies struct {
	Motions  *motion.Registry
	Prompts  prompt.Builder
	Cache    cache.Store
	Provider synthesis.Provider
	Records  recordstore.Repository
	Jobs     ActiveJobCounter
}

// Service 是生成流水线的唯一入口。
type Service struct {
	cfg      Config
	motions  *motion.Registry
	prompts  prompt.Builder
	cache    cache.Store
	provider synthesis.Provider
	records  recordstore.Repository
	jobs     ActiveJobCounter

	admission *admission

	now    func() time.Time
	newID  func() string
	seeds  func() int64
	logger *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator 替换生成记录 ID 的来源。
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithSeedSource 替换单图路径的随机种子来源。
func WithSeedSource(fn func() int64) Option {
	return func(s *Service) {
		if fn != nil {
			s.seeds = fn
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造编排服务。
func NewService(deps Dependencies, cfg Config, opts ...Option) (*Service, error) {
	if deps.Motions == nil || deps.Cache == nil || deps.Provider == nil || deps.Records == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "生成服务缺少必要依赖")
	}
	cfg.applyDefaults()
	s := &Service{
		cfg:       cfg,
		motions:   deps.Motions,
		prompts:   deps.Prompts,
		cache:     deps.Cache,
		provider:  deps.Provider,
		records:   deps.Records,
		jobs:      deps.Jobs,
		admission: newAdmission(),
		now:       time.Now,
		newID:     uuid.NewString,
		seeds:     func() int64 { return rand.Int64N(1 << 31) },
		logger:    logger.Named("generation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config 返回生效的配置。
func (s *Service) Config() Config { return s.cfg }

// Motions 返回动作目录。
func (s *Service) Motions() *motion.Registry { return s.motions }

// Usage 返回用户在当前窗口内的用量。
func (s *Service) Usage(ctx context.Context, userID string) (Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return Usage{}, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}
	used, err := s.records.CountSince(ctx, userID, s.now().Add(-s.cfg.Window))
	if err != nil {
		return Usage{}, annotateStorage(err, "统计配额失败")
	}
	remaining := s.cfg.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Used:        used,
		Limit:       s.cfg.DailyLimit,
		Remaining:   remaining,
		WindowHours: int(s.cfg.Window / time.Hour),
	}, nil
}

// History 按时间倒序返回用户的生成记录。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]recordstore.Generation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}
	records, err := s.records.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, annotateStorage(err, "查询生成记录失败")
	}
	return records, nil
}

// put 写入一个资源。内容寻址的键已经覆盖所有影响生成的输入，若已存在不同字节，
// 以先写入者为准并返回 existing=true，调用方需要以缓存中的内容为准。
func (s *Service) put(ctx context.Context, asset cache.Asset) (url string, existing bool, err error) {
	url, err = s.cache.Put(ctx, asset)
	if err == nil {
		return url, false, nil
	}
	if errors.Is(err, cache.ErrConflict) {
		s.logger.Warn("资源已存在且内容不同，保留已有内容",
			slog.String("cache_key", asset.Key), slog.String("name", asset.Name))
		return s.cache.URL(asset.Key, asset.Name), true, nil
	}
	return "", false, err
}

func annotateStorage(err error, msg string) error {
	if xerrors.CodeOf(err) != xerrors.CodeUnknown {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}
