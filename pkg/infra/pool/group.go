package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"
)

// ForEach 在池中执行 fn(0..n-1) 并等待全部完成。
//
// 每个任务独立运行，单个任务 panic 只影响其自身（由 recover 转换为对应下标的错误）。
// 池已关闭或过载时在当前 goroutine 中降级执行，保证每个下标恰好执行一次。
// 返回值按下标对应每个任务的错误；ctx 取消后尚未开始的任务返回 ctx.Err()。
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.stats.PanicRecovered.Add(1)
				errs[i] = fmt.Errorf("task %d panicked: %v", i, r)
			}
		}()
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		errs[i] = fn(ctx, i)
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		idx := i
		if err := p.Submit(func() { run(idx) }); err != nil {
			logger.Debugw("pool submit failed, running inline", "pool", p.name, "error", err.Error())
			run(idx)
		}
	}
	wg.Wait()

	return errs
}
