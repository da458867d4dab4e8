// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatfabrica-go/internal/config"
	"chatfabrica-go/pkg/log"
	"chatfabrica-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// Producer 把任务写入 Kafka，实现 tasks.Dispatcher。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个任务到 Kafka，任务 ID 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.Task) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

// messageReader 是消费循环用到的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理后台任务，直到 ctx 取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor tasks.Processor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, rdb, processor)
}

func consume(ctx context.Context, r messageReader, rdb *redis.Client, processor tasks.Processor) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var task tasks.Task
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if !handle(ctx, rdb, processor, task) {
			// ctx 已取消，不提交 offset，重启后重新投递
			break
		}
		commit(ctx, r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 在进程内重试任务，最多 tasks.MaxAttempts 次。
// Redis 里的计数跨重启累计，已用完次数的任务直接跳过。
// 返回 false 表示 ctx 已取消，消息不应提交。
func handle(ctx context.Context, rdb *redis.Client, processor tasks.Processor, task tasks.Task) bool {
	key := attemptsKey(task.ID)
	used, err := rdb.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		log.Warnf("读取任务重试次数失败: id=%s, error: %v", task.ID, err)
	}

	for attempt := used + 1; attempt <= tasks.MaxAttempts; attempt++ {
		err := processor.Process(ctx, task)
		if err == nil {
			_ = rdb.Del(ctx, key).Err()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("处理任务失败: id=%s type=%s attempt=%d, Error: %v", task.ID, task.Type, attempt, err)
		if incErr := rdb.Incr(ctx, key).Err(); incErr == nil {
			_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
		}
		if errors.Is(err, tasks.ErrUnknownType) {
			break
		}
	}

	log.Errorf("任务多次失败(>=%d)，提交 offset 终止重试: id=%s", tasks.MaxAttempts, task.ID)
	_ = rdb.Del(ctx, key).Err()
	return true
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
