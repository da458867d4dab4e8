// Package poll 提供带总时长上限的固定间隔轮询。
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout 表示在最大时长内条件始终未满足。
var ErrTimeout = errors.New("poll: timed out")

// Func 返回 done=true 结束轮询；返回 error 立即中止。
type Func func(ctx context.Context) (done bool, err error)

// Until 立即执行一次 fn，之后每隔 interval 执行一次，直到完成、出错、
// ctx 取消或累计超过 max。max <= 0 表示不设上限。
func Until(ctx context.Context, interval, max time.Duration, fn Func) error {
	if max > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			if max > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return ErrTimeout
			}
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && max > 0 {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
