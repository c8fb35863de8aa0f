package app

import (
	"context"

	"github.com/rxtech-lab/argo-datapage/internal/computed"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Indicator computes name with params over the candles of req through the
// computed page cache and waits until the series is ready. It returns the
// points with the event they were read at.
func (r *Runtime) Indicator(ctx context.Context, name types.IndicatorType, params []any, req page.Request) ([]indicator.Point, computed.Event, error) {
	wake := make(chan struct{}, 1)

	h, err := r.Computed.Request(name, params, req, func(computed.Event) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, computed.Event{}, err
	}
	defer h.Dispose()

	for {
		if err := ctx.Err(); err != nil {
			return nil, h.Snapshot(), err
		}

		ev := h.Snapshot()

		switch ev.State {
		case computed.StateReady:
			points, err := h.Get()
			if err == nil {
				r.logger.Debug("Indicator ready",
					zap.String("page", ev.Key.String()),
					zap.Int("points", len(points)),
					zap.Bool("degraded", ev.Degraded),
				)

				return points, ev, nil
			}

			if !errors.HasCode(err, errors.ErrCodePageNotReady) {
				return nil, ev, err
			}
		case computed.StateError:
			return nil, ev, errors.Newf(errors.ErrCodeComputeFailed, "indicator %s failed: %s", ev.Key, ev.Error)
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ev, ctx.Err()
		}
	}
}
