package indicator

import (
	"context"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// CVD is cumulative volume delta: the running sum of taker buy volume minus
// taker sell volume, sampled at every candle close.
//
// With trades, each candle's delta is the signed quantity of the trades inside
// it. Without trades the delta is approximated from the candle body as
// volume * (close-open) / (high-low).
type CVD struct{}

// NewCVD creates a CVD calculator.
func NewCVD() Calculator {
	return &CVD{}
}

func (c *CVD) Name() types.IndicatorType {
	return types.IndicatorTypeCVD
}

func (c *CVD) NeedsTrades() bool {
	return true
}

// Config takes no parameters.
func (c *CVD) Config(params ...any) error {
	if len(params) != 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "cvd takes no parameters")
	}

	return nil
}

func (c *CVD) Params() string {
	return ""
}

func (c *CVD) Calculate(ctx context.Context, in Input) ([]Point, error) {
	if in.Trades.IsSome() {
		return fromTrades(ctx, in.Candles, in.Trades.Unwrap())
	}

	return fromCandles(ctx, in.Candles)
}

// fromTrades assigns every trade to the candle whose [open, next open) window
// holds it. Trades before the first candle are ignored; trades after the last
// open belong to the last candle. Both inputs are sorted by time.
func fromTrades(ctx context.Context, candles []types.Candle, trades []types.TickTrade) ([]Point, error) {
	out := make([]Point, 0, len(candles))
	total := 0.0
	j := 0

	for j < len(trades) && len(candles) > 0 && trades[j].Time.Before(candles[0].Time) {
		j++
	}

	for i, c := range candles {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		last := i == len(candles)-1

		for ; j < len(trades); j++ {
			if !last && !trades[j].Time.Before(candles[i+1].Time) {
				break
			}

			if err := cancelled(ctx, j); err != nil {
				return nil, err
			}

			total += trades[j].SignedQuantity()
		}

		out = append(out, Point{Time: c.Time, Value: total})
	}

	return out, nil
}

func fromCandles(ctx context.Context, candles []types.Candle) ([]Point, error) {
	out := make([]Point, 0, len(candles))
	total := 0.0

	for i, c := range candles {
		if err := cancelled(ctx, i); err != nil {
			return nil, err
		}

		if span := c.High - c.Low; span > 0 {
			total += c.Volume * (c.Close - c.Open) / span
		}

		out = append(out, Point{Time: c.Time, Value: total})
	}

	return out, nil
}
