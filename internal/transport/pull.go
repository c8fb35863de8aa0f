package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Pull fetches pages through the request/poll API: it requests a server-side
// page, polls its status at a fixed interval until it settles, then fetches
// the finished frame once.
type Pull[T types.Record] struct {
	pages    dataservice.PageService
	codec    dataservice.Codec[T]
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger
}

var _ Strategy[types.Candle] = (*Pull[types.Candle])(nil)

// PullConfig holds the polling parameters. Zero values use the defaults.
type PullConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func NewPull[T types.Record](pages dataservice.PageService, codec dataservice.Codec[T], config PullConfig, log *logger.Logger) *Pull[T] {
	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultPollTimeout
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Pull[T]{
		pages:    pages,
		codec:    codec,
		interval: config.Interval,
		timeout:  config.Timeout,
		logger:   log,
	}
}

func (p *Pull[T]) Fetch(ctx context.Context, spec dataservice.PageSpec, progress ProgressFunc) (Result[T], error) {
	pageKey, err := p.pages.RequestPage(ctx, spec)
	if err != nil {
		return Result[T]{}, err
	}

	if err := p.poll(ctx, spec, pageKey, progress); err != nil {
		return Result[T]{}, err
	}

	raw, err := p.pages.Fetch(ctx, pageKey)
	if err != nil {
		return Result[T]{}, err
	}

	frame, err := dataservice.UnmarshalFrame(raw)
	if err != nil {
		return Result[T]{}, err
	}

	if err := frame.Verify(); err != nil {
		return Result[T]{}, err
	}

	if frame.Kind != p.codec.Kind() {
		return Result[T]{}, errors.Newf(errors.ErrCodeFrameInvalid, "expected %s frame, got %s", p.codec.Kind(), frame.Kind)
	}

	records, err := p.codec.Decode(frame.Payload)
	if err != nil {
		return Result[T]{}, err
	}

	return Result[T]{Records: records, Partial: false, DroppedChunks: 0}, nil
}

func (p *Pull[T]) poll(ctx context.Context, spec dataservice.PageSpec, pageKey string, progress ProgressFunc) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(p.interval), pollCtx))
	defer ticker.Stop()

	for range ticker.C {
		status, err := p.pages.GetPageStatus(pollCtx, pageKey)
		if err != nil {
			if pollCtx.Err() != nil {
				break
			}

			return err
		}

		report(progress, status.Progress)

		switch status.State {
		case types.PageStateReady:
			return nil
		case types.PageStateError:
			return errors.Newf(errors.ErrCodePageFailed, "data service failed %s: %s", spec.CacheKey(), status.Error)
		default:
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.Warn("Polling timed out", zap.String("page", spec.CacheKey()), zap.Duration("timeout", p.timeout))

	return errors.Newf(errors.ErrCodePollTimeout, "page %s not ready after %s", spec.CacheKey(), p.timeout)
}
