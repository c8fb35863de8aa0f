// Package transport implements the fetch strategies a page manager loads pages
// with: push over the streaming service, pull over the page request/poll API,
// and push with a single fallback to pull.
package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
)

// ProgressFunc receives load progress in percent.
type ProgressFunc func(pct float64)

// Result is the outcome of one fetch.
type Result[T types.Record] struct {
	Records []T
	// Partial is set when chunks were dropped during assembly.
	Partial       bool
	DroppedChunks int
}

// Strategy produces the dataset for a page spec.
type Strategy[T types.Record] interface {
	Fetch(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc[T types.Record] func(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error)

func (f StrategyFunc[T]) Fetch(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error) {
	return f(ctx, spec, progress)
}

// RecordCounter counts records decoded by transfers still in flight. Strategies
// add as chunks land and subtract when the transfer ends, after which the page
// manager accounts the finished dataset itself. A nil counter ignores updates.
type RecordCounter struct {
	n atomic.Int64
}

func (c *RecordCounter) Add(delta int) {
	if c == nil {
		return
	}

	c.n.Add(int64(delta))
}

func (c *RecordCounter) Load() int64 {
	if c == nil {
		return 0
	}

	return c.n.Load()
}

// DefaultPushTimeout bounds how long a push transfer may take for kind.
func DefaultPushTimeout(kind types.DataKind) time.Duration {
	if kind == types.DataKindTrades {
		return 10 * time.Minute
	}

	return 5 * time.Minute
}

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPollTimeout  = 5 * time.Minute
)

func report(progress ProgressFunc, pct float64) {
	if progress != nil {
		progress(pct)
	}
}
