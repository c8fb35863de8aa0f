package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// progressSteps is how many simulate progress reports a run emits at most.
const progressSteps = 20

type Option func(*Engine)

func WithCommissionFee(fee CommissionFee) Option {
	return func(e *Engine) { e.fee = fee }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs SMACross strategies.
type Engine struct {
	fee    CommissionFee
	logger *logger.Logger
	now    func() time.Time
}

var _ compute.Engine = (*Engine)(nil)

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		fee:    NewZeroCommissionFee(),
		logger: nil,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logger.NewNopLogger()
	}

	e.logger = e.logger.Named("backtest")

	return e
}

// Run simulates strategy over inputs. A position still open after the last
// candle is closed at that candle's close.
func (e *Engine) Run(
	ctx context.Context,
	strategy compute.Strategy,
	config compute.Config,
	inputs compute.Inputs,
	phases []compute.Phase,
	progress compute.ProgressFunc,
) (*compute.Result, error) {
	cross, ok := strategy.(*SMACross)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported strategy %s", strategy.Name())
	}

	if cross.Fast <= 0 || cross.Slow <= cross.Fast {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "invalid periods fast=%d slow=%d", cross.Fast, cross.Slow)
	}

	if !config.Capital.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "capital must be positive")
	}

	report := reporter(phases, progress)
	candles := inputs.Candles

	report(compute.PhasePrepare, 0)

	if len(candles) <= cross.Slow {
		return nil, errors.Newf(errors.ErrCodeInsufficientCandles,
			"strategy %s needs more than %d candles, got %d", cross.Name(), cross.Slow, len(candles))
	}

	fast, err := indicator.SimpleMovingAverage(ctx, candles, cross.Fast)
	if err != nil {
		return nil, err
	}

	slow, err := indicator.SimpleMovingAverage(ctx, candles, cross.Slow)
	if err != nil {
		return nil, err
	}

	delta, err := e.volumeDelta(ctx, cross, inputs)
	if err != nil {
		return nil, err
	}

	report(compute.PhasePrepare, 100)

	sim := newSimulation(config.Capital, e.fee)
	funding := fundingCursor{rates: inputs.Funding, idx: -1}
	total := len(candles) - cross.Slow
	step := max(total/progressSteps, 1)

	for i := cross.Slow; i < len(candles); i++ {
		n := i - cross.Slow
		if n%step == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			report(compute.PhaseSimulate, float64(n)*100/float64(total))
		}

		c := candles[i]
		price := decimal.NewFromFloat(c.Close)
		rate := funding.at(c.Time)

		crossedUp := fast[i-1].Value <= slow[i-1].Value && fast[i].Value > slow[i].Value
		crossedDown := fast[i-1].Value >= slow[i-1].Value && fast[i].Value < slow[i].Value

		switch {
		case crossedUp && !sim.inPosition():
			if rate.IsSome() && rate.Unwrap() > cross.MaxFunding {
				e.logger.Debug("Entry blocked by funding",
					zap.Time("time", c.Time),
					zap.Float64("rate", rate.Unwrap()),
				)

				break
			}

			if delta.IsSome() && delta.Unwrap()[i] <= 0 {
				break
			}

			sim.buy(c.Time, price)
		case crossedDown && sim.inPosition():
			sim.sell(c.Time, price)
		}

		sim.mark(price)
	}

	report(compute.PhaseSimulate, 100)

	if sim.inPosition() {
		last := candles[len(candles)-1]
		price := decimal.NewFromFloat(last.Close)
		sim.sell(last.Time, price)
		sim.mark(price)
	}

	result := &compute.Result{
		ID:          uuid.NewString(),
		RunID:       config.RunID,
		Strategy:    cross.Name(),
		Symbol:      config.Symbol,
		Timeframe:   config.Timeframe,
		Start:       config.Start,
		End:         config.End,
		Capital:     config.Capital,
		FinalEquity: sim.cash,
		TotalReturn: sim.cash.Sub(config.Capital).Div(config.Capital),
		MaxDrawdown: sim.maxDrawdown,
		WinRate:     sim.winRate(),
		Fills:       sim.fills,
		Degraded:    inputs.Degraded,
		CreatedAt:   e.now(),
	}

	report(compute.PhaseReport, 100)

	e.logger.Debug("Backtest finished",
		zap.String("run_id", config.RunID),
		zap.String("strategy", result.Strategy),
		zap.Int("fills", len(result.Fills)),
		zap.String("return", result.TotalReturn.String()),
	)

	return result, nil
}

// volumeDelta returns the per-candle volume delta when the strategy reads
// trades and trades were loaded.
func (e *Engine) volumeDelta(ctx context.Context, cross *SMACross, inputs compute.Inputs) (optional.Option[[]float64], error) {
	if cross.Trades == compute.NotNeeded || len(inputs.Trades) == 0 {
		return optional.None[[]float64](), nil
	}

	points, err := indicator.NewCVD().Calculate(ctx, indicator.Input{
		Candles: inputs.Candles,
		Trades:  optional.Some(inputs.Trades),
	})
	if err != nil {
		return nil, err
	}

	delta := make([]float64, len(points))
	for i, p := range points {
		if i == 0 {
			delta[i] = p.Value

			continue
		}

		delta[i] = p.Value - points[i-1].Value
	}

	return optional.Some(delta), nil
}

// reporter only forwards phases the caller asked for.
func reporter(phases []compute.Phase, progress compute.ProgressFunc) compute.ProgressFunc {
	if progress == nil {
		return func(compute.Phase, float64) {}
	}

	wanted := make(map[compute.Phase]bool, len(phases))
	for _, p := range phases {
		wanted[p] = true
	}

	return func(phase compute.Phase, pct float64) {
		if wanted[phase] {
			progress(phase, pct)
		}
	}
}

// fundingCursor walks funding rates in time order.
type fundingCursor struct {
	rates []types.FundingRate
	idx   int
}

// at returns the latest rate published at or before t.
func (f *fundingCursor) at(t time.Time) optional.Option[float64] {
	for f.idx+1 < len(f.rates) && !f.rates[f.idx+1].Time.After(t) {
		f.idx++
	}

	if f.idx < 0 {
		return optional.None[float64]()
	}

	return optional.Some(f.rates[f.idx].Rate)
}
