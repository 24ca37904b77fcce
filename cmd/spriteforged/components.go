package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"SpriteForge/internal/cache"
	"SpriteForge/internal/config"
	"SpriteForge/internal/storage/recordstore"
	"SpriteForge/internal/storage/sqldb"
	"SpriteForge/internal/synthesis"
	"SpriteForge/internal/synthesis/openai"
	"SpriteForge/internal/synthesis/procedural"
	"SpriteForge/internal/task"
	"SpriteForge/pkg/logger"
)

// stores 汇总生成记录与任务状态的存储。
type stores struct {
	db      *sql.DB
	records recordstore.Repository
	jobs    task.Store
}

func (s *stores) Close() {
	if s.jobs != nil {
		_ = s.jobs.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		records, err := recordstore.NewMemoryRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, err
		}
		return &stores{records: records, jobs: task.NewMemoryStore()}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate != nil && *cfg.Database.AutoMigrate {
		applied, err := sqldb.Migrate(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if len(applied) > 0 {
			logger.L().Info("数据库迁移完成", slog.Any("versions", applied))
		}
	}
	return &stores{
		db:      db,
		records: recordstore.NewSQLRepository(db),
		jobs:    task.NewSQLStore(db),
	}, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.Driver == sqldb.DriverSQLite {
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	return sqldb.Open(ctx, sqldb.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(cfg.Cache.BaseURL), nil
	case "fs":
		return cache.NewFSStore(cfg.Cache.Dir, cfg.Cache.BaseURL)
	case "redis":
		return cache.NewRedisStore(ctx, cache.RedisStoreConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			BaseURL:  cfg.Cache.BaseURL,
		})
	default:
		return nil, fmt.Errorf("未知的缓存后端: %s", cfg.Cache.Backend)
	}
}

func openProvider(cfg *config.Config) (synthesis.Provider, error) {
	switch cfg.Synthesis.Provider {
	case "procedural":
		logger.L().Warn("使用本地占位图像生成器，仅适用于开发环境")
		return procedural.New(), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.Synthesis.ResolveAPIKey(),
			BaseURL: cfg.Synthesis.BaseURL,
			Model:   cfg.Synthesis.Model,
			Timeout: time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的图像生成服务: %s", cfg.Synthesis.Provider)
	}
}

func openQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return task.NewMemoryQueue(cfg.Queue.Buffer), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Name,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.Name,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func closeQuietly(v any) {
	if closer, ok := v.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
