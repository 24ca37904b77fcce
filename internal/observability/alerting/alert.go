package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	JobID      string            `json:"jobId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"maxRetries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("job_id", event.JobID),
		slog.String("user_id", event.UserID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	logger.Audit().Warn(event.Message, attrs...)
	return nil
}

// WebhookNotifier 以 JSON 形式将告警 POST 到外部地址。
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 webhook 请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("job_id", event.JobID))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警接收方返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
