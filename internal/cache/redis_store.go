package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 描述 Redis 资源缓存的连接参数。
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	BaseURL  string
}

// RedisStore keeps assets as Redis strings. SETNX gives write-once semantics
// without a separate lock.
type RedisStore struct {
	client  redis.Cmdable
	closer  func() error
	prefix  string
	baseURL string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(fmt.Errorf("连接 Redis 失败: %w", err), "缓存后端不可用", cfg.Address)
	}
	store := NewRedisStoreWithClient(client, cfg.Prefix, cfg.BaseURL)
	store.closer = client.Close
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.Cmdable, prefix, baseURL string) *RedisStore {
	if prefix == "" {
		prefix = "spriteforge:asset:"
	}
	if baseURL == "" {
		baseURL = "/sprites"
	}
	return &RedisStore{client: client, prefix: prefix, baseURL: baseURL}
}

func (s *RedisStore) redisKey(objectPath string) string {
	return s.prefix + objectPath
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, key, name string) (bool, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.redisKey(p)).Result()
	if err != nil {
		return false, unavailable(err, "检查缓存失败", p)
	}
	return n > 0, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key, name string) ([]byte, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.redisKey(p)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err, "读取缓存失败", p)
	}
	return data, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, asset Asset) (string, error) {
	p, err := ObjectPath(asset.Key, asset.Name)
	if err != nil {
		return "", err
	}
	set, err := s.client.SetNX(ctx, s.redisKey(p), asset.Bytes, 0).Result()
	if err != nil {
		return "", unavailable(err, "写入缓存失败", p)
	}
	if !set {
		existing, err := s.client.Get(ctx, s.redisKey(p)).Bytes()
		if err != nil {
			return "", unavailable(err, "读取缓存失败", p)
		}
		if !bytes.Equal(existing, asset.Bytes) {
			return "", ErrConflict
		}
	}
	return joinURL(s.baseURL, p), nil
}

// URL implements Store.
func (s *RedisStore) URL(key, name string) string {
	p, err := ObjectPath(key, name)
	if err != nil {
		return ""
	}
	return joinURL(s.baseURL, p)
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

var _ Store = (*RedisStore)(nil)
