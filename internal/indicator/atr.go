package indicator

import (
	"context"
	"math"
	"strconv"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// ATR represents the Average True Range indicator.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator with default configuration.
func NewATR() Calculator {
	return &ATR{
		period: 14, // Default period
	}
}

// Name returns the name of the indicator.
func (a *ATR) Name() types.IndicatorType {
	return types.IndicatorTypeATR
}

func (a *ATR) NeedsTrades() bool {
	return false
}

// Config configures the ATR indicator. Expected parameters: period (int).
func (a *ATR) Config(params ...any) error {
	period, err := periodParam(params)
	if err != nil {
		return err
	}

	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "period must be a positive integer, got %d", period)
	}

	a.period = period

	return nil
}

func (a *ATR) Params() string {
	return "period=" + strconv.Itoa(a.period)
}

// Calculate returns one value per candle from index period-1 on: the mean of
// the first period true ranges, then Wilder's smoothing.
func (a *ATR) Calculate(ctx context.Context, in Input) ([]Point, error) {
	candles := in.Candles
	if len(candles) < a.period {
		return []Point{}, nil
	}

	out := make([]Point, 0, len(candles)-a.period+1)
	n := float64(a.period)
	atr := 0.0

	for i, c := range candles {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}

		if i < a.period {
			atr += tr / n

			if i < a.period-1 {
				continue
			}
		} else {
			atr = (atr*(n-1) + tr) / n
		}

		out = append(out, Point{Time: c.Time, Value: atr})
	}

	return out, nil
}
