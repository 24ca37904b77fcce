package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SpriteForge/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SPRITEFORGE_CONFIG"

// Config 描述了 SpriteForge 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   logger.Config   `json:"logging"`
	Cache     CacheConfig     `json:"cache"`
	Synthesis SynthesisConfig `json:"synthesis"`
	Database  DatabaseConfig  `json:"database"`
	Queue     QueueConfig     `json:"queue"`
	Limits    LimitsConfig    `json:"limits"`
	Motions   MotionsConfig   `json:"motions"`
	Auth      AuthConfig      `json:"auth"`
	Alerting  AlertingConfig  `json:"alerting"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	// RequestTimeoutSeconds 限制同步生成接口的总耗时。
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// CacheConfig 描述资源缓存后端。
type CacheConfig struct {
	// Backend 可选 memory、fs、redis。
	Backend string      `json:"backend"`
	BaseURL string      `json:"base_url"`
	Dir     string      `json:"dir"`
	Redis   RedisConfig `json:"redis"`
}

// RedisConfig 是 Redis 的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// SynthesisConfig 描述图像生成服务。
type SynthesisConfig struct {
	// Provider 可选 openai、procedural。
	Provider       string `json:"provider"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResolveAPIKey 优先读取环境变量中的密钥。
func (s SynthesisConfig) ResolveAPIKey() string {
	if s.APIKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(s.APIKeyEnv)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(s.APIKey)
}

// DatabaseConfig 描述生成记录与任务状态的存储。
type DatabaseConfig struct {
	// Driver 可选 memory、mysql、sqlite。
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	// AutoMigrate 为 true 时在启动时执行内置迁移。
	AutoMigrate *bool `json:"auto_migrate"`
}

// QueueConfig 描述异步任务队列。
type QueueConfig struct {
	// Driver 可选 memory、redis、rabbitmq。
	Driver           string `json:"driver"`
	Name             string `json:"name"`
	Workers          int    `json:"workers"`
	Buffer           int    `json:"buffer"`
	MaxRetries       int    `json:"max_retries"`
	BackoffMillis    int    `json:"backoff_millis"`
	MaxBackoffMillis int    `json:"max_backoff_millis"`

	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 是 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LimitsConfig 控制配额与图像流水线参数。
type LimitsConfig struct {
	DailyLimit        int `json:"daily_limit"`
	QueueLimit        int `json:"queue_limit"`
	WindowHours       int `json:"window_hours"`
	MaxPromptLength   int `json:"max_prompt_length"`
	MaxMotions        int `json:"max_motions"`
	AtlasFrameSize    int `json:"atlas_frame_size"`
	UploadConcurrency int `json:"upload_concurrency"`
}

// Window 返回配额窗口。
func (l LimitsConfig) Window() time.Duration {
	return time.Duration(l.WindowHours) * time.Hour
}

// MotionsConfig 指定动作目录文件，为空时使用内置目录。
type MotionsConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// AuthConfig 描述身份认证方式。
type AuthConfig struct {
	// Mode 可选 disabled、jwt、static。
	Mode         string            `json:"mode"`
	Secret       string            `json:"secret"`
	SecretEnv    string            `json:"secret_env"`
	Issuer       string            `json:"issuer"`
	Audience     []string          `json:"audience"`
	StaticTokens map[string]string `json:"static_tokens"`
}

// ResolveSecret 优先读取环境变量中的签名密钥。
func (a AuthConfig) ResolveSecret() string {
	if a.SecretEnv != "" {
		if secret := strings.TrimSpace(os.Getenv(a.SecretEnv)); secret != "" {
			return secret
		}
	}
	return strings.TrimSpace(a.Secret)
}

// AlertingConfig 描述任务终态失败时的告警渠道。
type AlertingConfig struct {
	Log     bool              `json:"log"`
	Webhook string            `json:"webhook"`
	Headers map[string]string `json:"headers"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// Address 为空时指标挂载在 API 服务的 /metrics 上。
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。路径为空时读取 SPRITEFORGE_CONFIG，
// 两者都为空时返回全部默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取工作目录失败: %w", err)
		}
		cfg := &Config{}
		cfg.applyDefaults(cwd)
		return cfg, cfg.Validate()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 300
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		c.Server.RequestTimeoutSeconds = 240
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	} else if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = "fs"
	}
	if c.Cache.BaseURL == "" {
		c.Cache.BaseURL = "/sprites"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.Runtime.DataDir, "sprites")
	} else {
		c.Cache.Dir = resolve(baseDir, c.Cache.Dir)
	}

	c.Synthesis.Provider = strings.ToLower(strings.TrimSpace(c.Synthesis.Provider))
	if c.Synthesis.Provider == "" {
		c.Synthesis.Provider = "openai"
	}
	if c.Synthesis.APIKeyEnv == "" {
		c.Synthesis.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Synthesis.TimeoutSeconds <= 0 {
		c.Synthesis.TimeoutSeconds = 120
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.Driver == "sqlite" {
		if c.Database.DSN == "" {
			c.Database.DSN = filepath.Join(c.Runtime.DataDir, "spriteforge.db")
		} else {
			c.Database.DSN = resolve(baseDir, c.Database.DSN)
		}
	}
	if c.Database.AutoMigrate == nil {
		enabled := true
		c.Database.AutoMigrate = &enabled
	}

	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 256
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BackoffMillis <= 0 {
		c.Queue.BackoffMillis = 1000
	}
	if c.Queue.MaxBackoffMillis <= 0 {
		c.Queue.MaxBackoffMillis = 60000
	}

	if c.Limits.DailyLimit <= 0 {
		c.Limits.DailyLimit = 20
	}
	if c.Limits.QueueLimit <= 0 {
		c.Limits.QueueLimit = 3
	}
	if c.Limits.WindowHours <= 0 {
		c.Limits.WindowHours = 24
	}
	if c.Limits.MaxPromptLength <= 0 {
		c.Limits.MaxPromptLength = 200
	}
	if c.Limits.AtlasFrameSize <= 0 {
		c.Limits.AtlasFrameSize = 1024
	}
	if c.Limits.UploadConcurrency <= 0 {
		c.Limits.UploadConcurrency = 8
	}

	if c.Motions.CatalogPath != "" {
		c.Motions.CatalogPath = resolve(baseDir, c.Motions.CatalogPath)
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case "memory", "fs":
	case "redis":
		if c.Cache.Redis.Address == "" {
			errs = append(errs, errors.New("cache.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的缓存后端 %q", c.Cache.Backend))
	}
	switch c.Synthesis.Provider {
	case "openai", "procedural":
	default:
		errs = append(errs, fmt.Errorf("未知的图像生成服务 %q", c.Synthesis.Provider))
	}
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的数据库驱动 %q", c.Database.Driver))
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("queue.redis.address 不能为空"))
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("queue.rabbitmq.url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的队列驱动 %q", c.Queue.Driver))
	}
	switch c.Auth.Mode {
	case "disabled", "jwt", "static":
	default:
		errs = append(errs, fmt.Errorf("未知的认证方式 %q", c.Auth.Mode))
	}
	return errors.Join(errs...)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
