package indicator

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/types"
)

func (suite *CalculatorTestSuite) TestCVDFromTrades() {
	candles := suite.closes(100, 100, 100)
	trades := []types.TickTrade{
		{ID: 1, Time: suite.start.Add(-time.Minute), Quantity: 5},
		{ID: 2, Time: suite.start.Add(10 * time.Minute), Quantity: 2},
		{ID: 3, Time: suite.start.Add(30 * time.Minute), Quantity: 1, IsBuyerMaker: true},
		{ID: 4, Time: suite.start.Add(time.Hour), Quantity: 3},
		{ID: 5, Time: suite.start.Add(7 * time.Hour), Quantity: 2, IsBuyerMaker: true},
	}

	cvd := NewCVD()
	suite.True(cvd.NeedsTrades())
	suite.Empty(cvd.Params())

	points, err := cvd.Calculate(context.Background(), Input{Candles: candles, Trades: optional.Some(trades)})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{1, 4, 2}, values(points), 1e-9)
}

func (suite *CalculatorTestSuite) TestCVDApproximatesFromCandles() {
	candles := []types.Candle{
		{Time: suite.start, Open: 100, Close: 110, High: 120, Low: 100, Volume: 10},
		{Time: suite.start.Add(time.Hour), Open: 110, Close: 110, High: 110, Low: 110, Volume: 7},
		{Time: suite.start.Add(2 * time.Hour), Open: 110, Close: 100, High: 110, Low: 90, Volume: 4},
	}

	points, err := NewCVD().Calculate(context.Background(), Input{Candles: candles, Trades: optional.None[[]types.TickTrade]()})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{5, 5, 3}, values(points), 1e-9)
}

func (suite *CalculatorTestSuite) TestCVDRejectsParams() {
	suite.Error(NewCVD().Config(14))
	suite.NoError(NewCVD().Config())
}
