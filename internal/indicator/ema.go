package indicator

import (
	"context"
	"strconv"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// EMA indicator implements Exponential Moving Average calculation.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator with default configuration.
func NewEMA() Calculator {
	return &EMA{
		period: 20, // Default period
	}
}

// Name returns the name of the indicator.
func (e *EMA) Name() types.IndicatorType {
	return types.IndicatorTypeEMA
}

func (e *EMA) NeedsTrades() bool {
	return false
}

// Config configures the EMA indicator. Expected parameters: period (int).
func (e *EMA) Config(params ...any) error {
	period, err := periodParam(params)
	if err != nil {
		return err
	}

	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "period must be a positive integer, got %d", period)
	}

	e.period = period

	return nil
}

func (e *EMA) Params() string {
	return "period=" + strconv.Itoa(e.period)
}

// Calculate returns one EMA value per candle. The first period values are the
// running simple average, which then seeds the EMA with
// alpha = 2/(period+1), matching pandas ewm(span=period, adjust=False).
func (e *EMA) Calculate(ctx context.Context, in Input) ([]Point, error) {
	out := make([]Point, 0, len(in.Candles))
	alpha := 2.0 / float64(e.period+1)

	sum := 0.0
	ema := 0.0

	for i, c := range in.Candles {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		if i < e.period {
			sum += c.Close
			ema = sum / float64(i+1)
		} else {
			ema = (c.Close * alpha) + (ema * (1 - alpha))
		}

		out = append(out, Point{Time: c.Time, Value: ema})
	}

	return out, nil
}
