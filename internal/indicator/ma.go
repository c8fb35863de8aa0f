package indicator

import (
	"context"
	"strconv"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// MA indicator implements Simple Moving Average calculation.
type MA struct {
	period int
}

// NewMA creates a new MA indicator with default configuration.
func NewMA() Calculator {
	return &MA{
		period: 20, // Default period
	}
}

// Name returns the name of the indicator.
func (m *MA) Name() types.IndicatorType {
	return types.IndicatorTypeMA
}

func (m *MA) NeedsTrades() bool {
	return false
}

// Expected parameters: period (int).
func (m *MA) Config(params ...any) error {
	period, err := periodParam(params)
	if err != nil {
		return err
	}

	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "period must be a positive integer, got %d", period)
	}

	m.period = period

	return nil
}

func (m *MA) Params() string {
	return "period=" + strconv.Itoa(m.period)
}

// Calculate returns one value per candle. Until a full window is available
// the value is the average of the candles seen so far.
func (m *MA) Calculate(ctx context.Context, in Input) ([]Point, error) {
	return SimpleMovingAverage(ctx, in.Candles, m.period)
}

// SimpleMovingAverage computes the rolling mean of candle closes.
func SimpleMovingAverage(ctx context.Context, candles []types.Candle, period int) ([]Point, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "period must be a positive integer, got %d", period)
	}

	out := make([]Point, 0, len(candles))
	sum := 0.0

	for i, c := range candles {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		sum += c.Close
		n := i + 1

		if i >= period {
			sum -= candles[i-period].Close
			n = period
		}

		out = append(out, Point{Time: c.Time, Value: sum / float64(n)})
	}

	return out, nil
}
