package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many submitted tasks run at once. Go returns immediately: the
// slot is acquired inside the spawned goroutine, never on the caller.
type Pool struct {
	name   string
	size   int
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *logger.Logger
}

// NewPool creates a pool that runs at most size tasks concurrently.
func NewPool(name string, size int, log *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Pool{
		name:   name,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		wg:     sync.WaitGroup{},
		logger: log,
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// Go schedules task. If ctx is cancelled before a slot frees up, the task is
// skipped and onSkip (when non-nil) is called with the context error.
func (p *Pool) Go(ctx context.Context, task func(ctx context.Context), onSkip func(err error)) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			if onSkip != nil {
				onSkip(err)
			}

			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Pool task panicked",
					zap.String("pool", p.name),
					zap.String("panic", fmt.Sprint(r)),
				)
			}
		}()

		task(ctx)
	}()
}

// Wait blocks until every scheduled task has finished or been skipped.
func (p *Pool) Wait() {
	p.wg.Wait()
}
