package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"SpriteForge/internal/api"
	"SpriteForge/internal/auth"
	"SpriteForge/internal/config"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/observability/alerting"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/task"
	"SpriteForge/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("spriteforged")

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	assets, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQuietly(assets)

	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}

	motions, err := motion.LoadFile(cfg.Motions.CatalogPath)
	if err != nil {
		return err
	}

	generator, err := generation.NewService(generation.Dependencies{
		Motions:  motions,
		Prompts:  prompt.NewBuilder(),
		Cache:    assets,
		Provider: provider,
		Records:  stores.records,
		Jobs:     stores.jobs,
	}, generation.Config{
		DailyLimit:        cfg.Limits.DailyLimit,
		QueueLimit:        cfg.Limits.QueueLimit,
		Window:            cfg.Limits.Window(),
		MaxPromptLength:   cfg.Limits.MaxPromptLength,
		MaxMotions:        cfg.Limits.MaxMotions,
		AtlasFrameSize:    cfg.Limits.AtlasFrameSize,
		UploadConcurrency: cfg.Limits.UploadConcurrency,
	})
	if err != nil {
		return err
	}

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	jobs := task.NewService(stores.jobs, queue, generator, cfg.Queue.MaxRetries)
	processor := task.NewProcessor(generator, stores.jobs, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("worker")),
		task.WithBackoff(task.Backoff{
			Base: time.Duration(cfg.Queue.BackoffMillis) * time.Millisecond,
			Max:  time.Duration(cfg.Queue.MaxBackoffMillis) * time.Millisecond,
		}),
		task.WithAlertDispatcher(buildAlerts(cfg.Alerting)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if resumed, err := jobs.ResumePending(ctx); err != nil {
		log.Warn("恢复未完成任务失败", slog.Any("error", err))
	} else if resumed > 0 {
		log.Info("已恢复未完成任务", slog.Int("count", resumed))
	}

	authn, err := auth.NewService(authConfig(cfg.Auth))
	if err != nil {
		return err
	}

	serverOpts := []api.Option{
		api.WithAuth(authn),
		api.WithRequestTimeout(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second),
	}
	// 绝对地址说明资源由 CDN 等外部服务提供。
	if strings.HasPrefix(cfg.Cache.BaseURL, "/") {
		serverOpts = append(serverOpts, api.WithAssets(cfg.Cache.BaseURL, assets))
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			serverOpts = append(serverOpts, api.WithMetricsEndpoint(true))
		} else {
			go func() {
				if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("指标服务异常退出", slog.Any("error", err))
				}
			}()
		}
	}

	log.Info("SpriteForge 启动",
		slog.String("cache", cfg.Cache.Backend),
		slog.String("database", cfg.Database.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("provider", cfg.Synthesis.Provider),
		slog.String("auth", string(authn.Mode())),
	)

	server := api.NewServer(cfg.Server.Address, generator, jobs, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func authConfig(cfg config.AuthConfig) auth.Config {
	return auth.Config{
		Mode: auth.Mode(cfg.Mode),
		JWT: auth.JWTOptions{
			Secret:   cfg.ResolveSecret(),
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
			Leeway:   30 * time.Second,
		},
		StaticTokens: cfg.StaticTokens,
	}
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if strings.TrimSpace(cfg.Webhook) != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Webhook, Headers: cfg.Headers})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
