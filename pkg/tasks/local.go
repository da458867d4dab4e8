package tasks

import (
	"context"
	"errors"
	"sync"

	"chatfabrica-go/pkg/log"
)

// ErrQueueClosed 表示 LocalQueue 已经关闭。
var ErrQueueClosed = errors.New("tasks: queue closed")

// LocalQueue 是进程内的任务队列，Kafka 未启用时使用。
type LocalQueue struct {
	ch        chan Task
	processor Processor
	workers   int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalQueue 创建一个新的 LocalQueue，需要调用 Start 才会开始消费。
func NewLocalQueue(processor Processor, workers, buffer int) *LocalQueue {
	if workers <= 0 {
		workers = 1
	}
	return &LocalQueue{
		ch:        make(chan Task, buffer),
		processor: processor,
		workers:   workers,
	}
}

// Start 启动 worker。ctx 取消后正在处理的任务会收到取消信号。
func (q *LocalQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for task := range q.ch {
				q.run(ctx, task)
			}
		}()
	}
	log.Infof("本地任务队列已启动, workers=%d", q.workers)
}

func (q *LocalQueue) Dispatch(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务，并等待已入队的任务处理完。
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *LocalQueue) run(ctx context.Context, task Task) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := q.processor.Process(ctx, task)
		if err == nil {
			return
		}
		if errors.Is(err, ErrUnknownType) || ctx.Err() != nil {
			log.Errorw("任务处理失败，不再重试", "taskId", task.ID, "type", task.Type, "error", err)
			return
		}
		log.Warnw("任务处理失败", "taskId", task.ID, "type", task.Type, "attempt", attempt, "error", err)
	}
	log.Errorf("任务多次失败(>=%d)，丢弃: id=%s type=%s", MaxAttempts, task.ID, task.Type)
}
