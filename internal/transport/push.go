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

// PushOption configures a Push strategy.
type PushOption func(*pushOptions)

type pushOptions struct {
	timeout time.Duration
	counter *RecordCounter
	logger  *logger.Logger
}

// WithPushTimeout bounds the whole transfer.
func WithPushTimeout(d time.Duration) PushOption {
	return func(o *pushOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRecordCounter reports decoded record deltas to counter.
func WithRecordCounter(counter *RecordCounter) PushOption {
	return func(o *pushOptions) {
		o.counter = counter
	}
}

func WithPushLogger(log *logger.Logger) PushOption {
	return func(o *pushOptions) {
		o.logger = log
	}
}

// Push fetches pages over the streaming service.
type Push[T types.Record] struct {
	stream  dataservice.StreamService
	codec   dataservice.Codec[T]
	timeout time.Duration
	counter *RecordCounter
	logger  *logger.Logger
}

var _ Strategy[types.Candle] = (*Push[types.Candle])(nil)

func NewPush[T types.Record](stream dataservice.StreamService, codec dataservice.Codec[T], opts ...PushOption) *Push[T] {
	o := pushOptions{
		timeout: DefaultPushTimeout(codec.Kind()),
		counter: nil,
		logger:  nil,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}

	return &Push[T]{
		stream:  stream,
		codec:   codec,
		timeout: o.timeout,
		counter: o.counter,
		logger:  o.logger,
	}
}

// Fetch subscribes for spec and waits for the transfer to complete. Server
// progress maps to 0-50%, chunk arrival to 50-99%.
func (p *Push[T]) Fetch(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error) {
	acc := NewAccumulator(p.codec, p.counter, p.logger)
	defer acc.Release()

	callback := &pushCallback[T]{acc: acc, progress: progress}

	sub, err := p.stream.Subscribe(ctx, spec, callback)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeUnknown {
			err = errors.Wrap(errors.ErrCodeTransportUnavailable, "push subscribe failed", err)
		}

		return Result[T]{}, err
	}
	defer sub.Cancel()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-acc.Done():
	case <-sub.Done():
		// Callbacks have all returned once Done is closed.
		select {
		case <-acc.Done():
		default:
			return Result[T]{}, errors.Newf(errors.ErrCodeTransportFailed, "stream for %s closed before completion", spec.CacheKey())
		}
	case <-timer.C:
		p.logger.Warn("Push transfer timed out",
			zap.String("page", spec.CacheKey()),
			zap.Duration("timeout", p.timeout),
			zap.Float64("received", acc.Received()),
		)

		return Result[T]{}, errors.Newf(errors.ErrCodeTransportTimeout, "push transfer for %s timed out after %s", spec.CacheKey(), p.timeout)
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}

	result, err := acc.Result()
	if err != nil {
		return Result[T]{}, err
	}

	if result.Partial {
		p.logger.Warn("Push transfer completed with dropped chunks",
			zap.String("page", spec.CacheKey()),
			zap.Int("dropped", result.DroppedChunks),
			zap.Int("records", len(result.Records)),
		)
	}

	return result, nil
}

type pushCallback[T types.Record] struct {
	acc      *Accumulator[T]
	progress ProgressFunc
}

func (c *pushCallback[T]) OnStateChanged(state types.PageState, progress float64) {
	if state == types.PageStateLoading || state == types.PageStateReady {
		report(c.progress, min(progress, 100)/2)
	}
}

func (c *pushCallback[T]) OnData(payload []byte, count int) {
	c.acc.SetData(payload, count)
}

func (c *pushCallback[T]) OnChunk(payload []byte, index int, total int) {
	c.acc.AddChunk(payload, index, total)
	report(c.progress, 50+c.acc.Received()*49)
}

func (c *pushCallback[T]) OnError(message string) {
	c.acc.Fail(errors.Newf(errors.ErrCodeTransportFailed, "data service: %s", message))
}
