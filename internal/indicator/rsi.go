package indicator

import (
	"context"
	"strconv"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// RSI represents the Relative Strength Index indicator.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator with default configuration.
func NewRSI() Calculator {
	return &RSI{
		period: 14, // Default period
	}
}

// Name returns the name of the indicator.
func (r *RSI) Name() types.IndicatorType {
	return types.IndicatorTypeRSI
}

func (r *RSI) NeedsTrades() bool {
	return false
}

// Config configures the RSI indicator. Expected parameters: period (int).
func (r *RSI) Config(params ...any) error {
	period, err := periodParam(params)
	if err != nil {
		return err
	}

	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "period must be a positive integer, got %d", period)
	}

	r.period = period

	return nil
}

func (r *RSI) Params() string {
	return "period=" + strconv.Itoa(r.period)
}

// Calculate returns one value per candle from index period on. The first
// value averages the first period changes; later values use Wilder's
// smoothing.
func (r *RSI) Calculate(ctx context.Context, in Input) ([]Point, error) {
	candles := in.Candles
	if len(candles) <= r.period {
		return []Point{}, nil
	}

	out := make([]Point, 0, len(candles)-r.period)
	n := float64(r.period)
	avgGain := 0.0
	avgLoss := 0.0

	for i := 1; i < len(candles); i++ {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		gain, loss := 0.0, 0.0
		if change := candles[i].Close - candles[i-1].Close; change > 0 {
			gain = change
		} else {
			loss = -change
		}

		if i <= r.period {
			avgGain += gain / n
			avgLoss += loss / n

			if i < r.period {
				continue
			}
		} else {
			avgGain = (avgGain*(n-1) + gain) / n
			avgLoss = (avgLoss*(n-1) + loss) / n
		}

		out = append(out, Point{Time: candles[i].Time, Value: rsiValue(avgGain, avgLoss)})
	}

	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100 // Perfect uptrend
	}

	rs := avgGain / avgLoss

	return 100 - (100 / (1 + rs))
}
