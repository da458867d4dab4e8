// Package tasks 定义了后台任务的结构，以及任务的投递与消费接口。
// 任务可以走 Kafka，也可以走进程内的 LocalQueue，两者共用同一个 Processor。
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatfabrica-go/internal/model"

	"github.com/google/uuid"
)

// Type 是任务类型。
type Type string

const (
	TypeSendEmail     Type = "send_email"
	TypeTrackUsage    Type = "track_usage"
	TypeIndexExchange Type = "index_exchange"
)

// MaxAttempts 是一个任务最多被处理的次数，超过后丢弃并记录日志。
const MaxAttempts = 3

// ErrUnknownType 表示 Processor 不认识这个任务类型。
var ErrUnknownType = errors.New("tasks: unknown task type")

// Task 是投递到队列里的一条任务。
type Task struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EmailPayload 描述一封模板邮件。
type EmailPayload struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// UsagePayload 描述一次用量统计的增量。
type UsagePayload struct {
	UserID uint             `json:"user_id"`
	Delta  model.UsageDelta `json:"delta"`
}

// New 构造一个带新 ID 的任务。
func New(t Type, payload interface{}) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("tasks: marshal %s payload: %w", t, err)
	}
	return Task{ID: uuid.NewString(), Type: t, Payload: raw, CreatedAt: time.Now()}, nil
}

// Decode 把任务的 payload 解析到 v。
func (t Task) Decode(v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("tasks: decode %s payload: %w", t.Type, err)
	}
	return nil
}

// Dispatcher 负责投递任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Processor 负责处理一条任务，返回错误时由队列决定是否重试。
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// Enqueue 构造并投递任务。投递失败只记录在返回值里，调用方通常只打日志。
func Enqueue(ctx context.Context, d Dispatcher, t Type, payload interface{}) error {
	if d == nil {
		return nil
	}
	task, err := New(t, payload)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}
