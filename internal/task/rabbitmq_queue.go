package task

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// DefaultRabbitMQQueue 是默认的队列名。
const DefaultRabbitMQQueue = "spriteforge.jobs"

// RabbitMQQueue 使用 RabbitMQ 实现任务队列。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	_, err = ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, durable: cfg.Durable}, nil
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	msg := amqp.Publishing{
		ContentType: "text/plain",
		MessageId:   jobID,
		Body:        []byte(jobID),
	}
	if q.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return fmt.Errorf("RabbitMQ 发布任务失败: %w", err)
	}
	return nil
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。消息在 handler 返回后确认，
// 进程在处理中退出时由 broker 重新投递。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for range workers(workerCount) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case msg, ok := <-msgs:
					if !ok {
						return ErrQueueClosed
					}
					dispatch(gctx, "rabbitmq", handler, string(msg.Body))
					if err := msg.Ack(false); err != nil {
						return fmt.Errorf("确认 RabbitMQ 消息失败: %w", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
