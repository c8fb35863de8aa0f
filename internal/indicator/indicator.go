// Package indicator holds the calculators computed pages run over page data.
package indicator

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/types"
)

// Point is one value of a computed series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Input is the data a calculator reads. Trades is None when the calculator
// does not need them or the trade page failed, in which case calculators that
// want trades fall back to a candle-only approximation.
type Input struct {
	Candles []types.Candle
	Trades  optional.Option[[]types.TickTrade]
}

// Calculator computes a series from page data. Calculate must not modify its
// input and should return early once ctx is done.
type Calculator interface {
	// Name returns the name of the indicator
	Name() types.IndicatorType
	// NeedsTrades reports whether trades improve the result.
	NeedsTrades() bool
	// Config applies calculator specific parameters.
	Config(params ...any) error
	// Params returns the configured parameters in canonical form.
	Params() string
	Calculate(ctx context.Context, in Input) ([]Point, error)
}

// checkEvery is how many iterations run between context checks.
const checkEvery = 1 << 12

func cancelled(ctx context.Context, i int) error {
	if i%checkEvery != 0 {
		return nil
	}

	return ctx.Err()
}

func periodParam(params []any) (int, error) {
	if len(params) != 1 {
		return 0, errInvalidParams("expects 1 parameter: period (int)")
	}

	switch p := params[0].(type) {
	case int:
		return p, nil
	case float64:
		return int(p), nil
	case optional.Option[int]:
		return p.TakeOr(0), nil
	default:
		return 0, errInvalidParams("invalid type for period parameter, expected int or float")
	}
}
