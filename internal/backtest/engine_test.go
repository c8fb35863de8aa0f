package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/mocks"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type EngineTestSuite struct {
	suite.Suite
	start  time.Time
	config compute.Config
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) SetupTest() {
	suite.start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	suite.config = compute.Config{
		RunID:     "run-1",
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe1h,
		Start:     suite.start,
		End:       suite.start.Add(24 * time.Hour),
		Capital:   decimal.NewFromInt(1000),
	}
}

func (suite *EngineTestSuite) candles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{
			Symbol: "BTCUSDT",
			Time:   suite.at(i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1,
		}
	}

	return out
}

func (suite *EngineTestSuite) at(i int) time.Time {
	return suite.start.Add(time.Duration(i) * time.Hour)
}

// roundTrip crosses up at index 5 (close 10) and back down at index 8 (close 9).
func (suite *EngineTestSuite) roundTrip() []types.Candle {
	return suite.candles(10, 9, 8, 7, 8, 10, 12, 11, 9, 7)
}

func (suite *EngineTestSuite) run(e *Engine, s compute.Strategy, inputs compute.Inputs) (*compute.Result, error) {
	return e.Run(context.Background(), s, suite.config, inputs, compute.DefaultPhases, nil)
}

func (suite *EngineTestSuite) TestLosingRoundTrip() {
	now := suite.start.Add(48 * time.Hour)
	e := NewEngine(WithClock(func() time.Time { return now }))

	result, err := suite.run(e, &SMACross{Fast: 2, Slow: 3}, compute.Inputs{Candles: suite.roundTrip()})
	suite.Require().NoError(err)

	suite.Require().Len(result.Fills, 2)
	suite.Equal(compute.SideBuy, result.Fills[0].Side)
	suite.Equal(suite.at(5), result.Fills[0].Time)
	suite.True(result.Fills[0].Quantity.Equal(decimal.NewFromInt(100)))
	suite.Equal(compute.SideSell, result.Fills[1].Side)
	suite.Equal(suite.at(8), result.Fills[1].Time)
	suite.True(result.Fills[1].PnL.Equal(decimal.NewFromInt(-100)))

	suite.True(result.FinalEquity.Equal(decimal.NewFromInt(900)), result.FinalEquity.String())
	suite.True(result.TotalReturn.Equal(decimal.RequireFromString("-0.1")), result.TotalReturn.String())
	suite.True(result.MaxDrawdown.Equal(decimal.RequireFromString("0.25")), result.MaxDrawdown.String())
	suite.Equal(0.0, result.WinRate)

	suite.NotEmpty(result.ID)
	suite.Equal("run-1", result.RunID)
	suite.Equal("sma-cross(2,3)", result.Strategy)
	suite.Equal("BTCUSDT", result.Symbol)
	suite.Equal(now, result.CreatedAt)
}

func (suite *EngineTestSuite) TestOpenPositionClosesAtLastCandle() {
	e := NewEngine()

	result, err := suite.run(e, &SMACross{Fast: 2, Slow: 3}, compute.Inputs{Candles: suite.candles(10, 9, 8, 7, 8, 10, 12, 13)})
	suite.Require().NoError(err)

	suite.Require().Len(result.Fills, 2)
	suite.Equal(suite.at(7), result.Fills[1].Time)
	suite.True(result.FinalEquity.Equal(decimal.NewFromInt(1300)), result.FinalEquity.String())
	suite.True(result.TotalReturn.Equal(decimal.RequireFromString("0.3")))
	suite.Equal(1.0, result.WinRate)
}

func (suite *EngineTestSuite) TestCommissionIsCharged() {
	e := NewEngine(WithCommissionFee(NewPercentageCommissionFee(decimal.RequireFromString("0.001"))))

	result, err := suite.run(e, &SMACross{Fast: 2, Slow: 3}, compute.Inputs{Candles: suite.roundTrip()})
	suite.Require().NoError(err)

	suite.True(result.Fills[0].Quantity.Equal(decimal.RequireFromString("99.9")), result.Fills[0].Quantity.String())
	suite.True(result.FinalEquity.Equal(decimal.RequireFromString("898.2009")), result.FinalEquity.String())
}

func (suite *EngineTestSuite) TestFundingBlocksEntry() {
	e := NewEngine()
	strategy := &SMACross{Fast: 2, Slow: 3, MaxFunding: 0.001, Funding: compute.Optional}

	result, err := suite.run(e, strategy, compute.Inputs{
		Candles: suite.roundTrip(),
		Funding: []types.FundingRate{{Time: suite.at(0), Rate: 0.01}},
	})
	suite.Require().NoError(err)
	suite.Empty(result.Fills)
	suite.True(result.FinalEquity.Equal(decimal.NewFromInt(1000)))
	suite.True(result.TotalReturn.IsZero())

	// a later settlement below the limit reopens entries
	result, err = suite.run(e, strategy, compute.Inputs{
		Candles: suite.roundTrip(),
		Funding: []types.FundingRate{
			{Time: suite.at(0), Rate: 0.01},
			{Time: suite.at(4), Rate: 0.0001},
		},
	})
	suite.Require().NoError(err)
	suite.Len(result.Fills, 2)
}

func (suite *EngineTestSuite) TestDegradedFundingDoesNotFilter() {
	e := NewEngine()
	strategy := &SMACross{Fast: 2, Slow: 3, MaxFunding: 0.001, Funding: compute.Optional}

	result, err := suite.run(e, strategy, compute.Inputs{
		Candles:  suite.roundTrip(),
		Degraded: []types.DataKind{types.DataKindFunding},
	})
	suite.Require().NoError(err)
	suite.Len(result.Fills, 2)
	suite.Equal([]types.DataKind{types.DataKindFunding}, result.Degraded)
}

func (suite *EngineTestSuite) TestTradesConfirmEntries() {
	e := NewEngine()
	strategy := &SMACross{Fast: 2, Slow: 3, Trades: compute.Optional}
	entry := suite.at(5).Add(time.Minute)

	result, err := suite.run(e, strategy, compute.Inputs{
		Candles: suite.roundTrip(),
		Trades:  []types.TickTrade{{ID: 1, Time: entry, Price: 10, Quantity: 2, IsBuyerMaker: true}},
	})
	suite.Require().NoError(err)
	suite.Empty(result.Fills, "selling pressure blocks the entry")

	result, err = suite.run(e, strategy, compute.Inputs{
		Candles: suite.roundTrip(),
		Trades:  []types.TickTrade{{ID: 1, Time: entry, Price: 10, Quantity: 2, IsBuyerMaker: false}},
	})
	suite.Require().NoError(err)
	suite.Len(result.Fills, 2)
}

func (suite *EngineTestSuite) TestInsufficientCandles() {
	_, err := suite.run(NewEngine(), &SMACross{Fast: 2, Slow: 3}, compute.Inputs{Candles: suite.candles(1, 2, 3)})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientCandles))
}

func (suite *EngineTestSuite) TestInvalidArguments() {
	ctrl := gomock.NewController(suite.T())
	other := mocks.NewMockStrategy(ctrl)
	other.EXPECT().Name().Return("other").AnyTimes()

	inputs := compute.Inputs{Candles: suite.roundTrip()}

	_, err := suite.run(NewEngine(), other, inputs)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = suite.run(NewEngine(), &SMACross{Fast: 3, Slow: 3}, inputs)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	suite.config.Capital = decimal.Zero
	_, err = suite.run(NewEngine(), &SMACross{Fast: 2, Slow: 3}, inputs)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *EngineTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine().Run(ctx, &SMACross{Fast: 2, Slow: 3}, suite.config,
		compute.Inputs{Candles: suite.roundTrip()}, compute.DefaultPhases, nil)
	suite.ErrorIs(err, context.Canceled)
}

func (suite *EngineTestSuite) TestProgressFollowsPhases() {
	type report struct {
		phase compute.Phase
		pct   float64
	}

	var reports []report
	progress := func(phase compute.Phase, pct float64) {
		reports = append(reports, report{phase, pct})
	}

	_, err := NewEngine().Run(context.Background(), &SMACross{Fast: 2, Slow: 3}, suite.config,
		compute.Inputs{Candles: suite.roundTrip()}, compute.DefaultPhases, progress)
	suite.Require().NoError(err)

	suite.Require().NotEmpty(reports)
	suite.Equal(report{compute.PhasePrepare, 0}, reports[0])
	suite.Equal(report{compute.PhaseReport, 100}, reports[len(reports)-1])
	suite.Contains(reports, report{compute.PhaseSimulate, 100})

	reports = nil
	_, err = NewEngine().Run(context.Background(), &SMACross{Fast: 2, Slow: 3}, suite.config,
		compute.Inputs{Candles: suite.roundTrip()}, []compute.Phase{compute.PhaseSimulate}, progress)
	suite.Require().NoError(err)

	for _, r := range reports {
		suite.Equal(compute.PhaseSimulate, r.phase)
	}
}

func (suite *EngineTestSuite) TestBrokers() {
	notional := decimal.NewFromInt(10000)

	suite.True(GetCommissionFeeHandler(BrokerBinanceFutures).Calculate(notional).Equal(decimal.NewFromInt(4)))
	suite.True(GetCommissionFeeHandler(BrokerZero).Calculate(notional).IsZero())
	suite.True(GetCommissionFeeHandler("unknown").Calculate(notional).IsZero())
}
