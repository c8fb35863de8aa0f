package transport

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Fallback tries push first and falls back to pull exactly once when push is
// unavailable, fails or times out. Cancellation is returned as is.
type Fallback[T types.Record] struct {
	push   Strategy[T]
	pull   Strategy[T]
	logger *logger.Logger
}

var _ Strategy[types.Candle] = (*Fallback[types.Candle])(nil)

func NewFallback[T types.Record](push, pull Strategy[T], log *logger.Logger) *Fallback[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Fallback[T]{push: push, pull: pull, logger: log}
}

func (f *Fallback[T]) Fetch(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error) {
	if f.push != nil {
		result, err := f.push.Fetch(ctx, spec, progress)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil || f.pull == nil {
			return Result[T]{}, err
		}

		f.logger.Warn("Push fetch failed, falling back to pull",
			zap.String("page", spec.CacheKey()),
			zap.Error(err),
		)
	}

	if f.pull == nil {
		return Result[T]{}, errors.New(errors.ErrCodeTransportUnavailable, "no transport configured")
	}

	return f.pull.Fetch(ctx, spec, progress)
}

// New builds the standard strategy for a kind: push over stream with pull over
// pages as the fallback. Either service may be nil.
func New[T types.Record](
	stream dataservice.StreamService,
	pages dataservice.PageService,
	codec dataservice.Codec[T],
	config Config,
	counter *RecordCounter,
	log *logger.Logger,
) Strategy[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}

	log = log.Named(string(codec.Kind()))

	var push, pull Strategy[T]

	if stream != nil {
		push = NewPush(stream, codec,
			WithPushTimeout(config.PushTimeout(codec.Kind())),
			WithRecordCounter(counter),
			WithPushLogger(log),
		)
	}

	if pages != nil {
		pull = NewPull(pages, codec, PullConfig{Interval: config.PollInterval, Timeout: config.PollTimeout}, log)
	}

	return NewFallback(push, pull, log)
}

// Config carries the tunables of the standard strategy.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	// PushTimeouts overrides DefaultPushTimeout per kind.
	PushTimeouts map[types.DataKind]time.Duration
}

// PushTimeout returns the configured push timeout for kind.
func (c Config) PushTimeout(kind types.DataKind) time.Duration {
	if d, ok := c.PushTimeouts[kind]; ok && d > 0 {
		return d
	}

	return DefaultPushTimeout(kind)
}
