package indicator

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
)

func (suite *CalculatorTestSuite) TestRSIUsesWilderSmoothing() {
	rsi := NewRSI()
	suite.Require().NoError(rsi.Config(2))
	suite.Equal("period=2", rsi.Params())

	points, err := rsi.Calculate(context.Background(), Input{Candles: suite.closes(1, 2, 1, 2, 1)})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{50, 75, 37.5}, values(points), 1e-9)
	suite.Equal(suite.start.Add(2*time.Hour), points[0].Time)
}

func (suite *CalculatorTestSuite) TestRSIUptrend() {
	rsi := NewRSI()
	suite.Require().NoError(rsi.Config(3))

	points, err := rsi.Calculate(context.Background(), Input{Candles: suite.closes(1, 2, 3, 4, 5, 6)})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{100, 100, 100}, values(points), 1e-9)
}

func (suite *CalculatorTestSuite) TestRSINotEnoughCandles() {
	points, err := NewRSI().Calculate(context.Background(), Input{Candles: suite.closes(1, 2, 3)})
	suite.Require().NoError(err)
	suite.Empty(points)

	suite.Error(NewRSI().Config(0))
	suite.Error(NewRSI().Config("14"))
}

func (suite *CalculatorTestSuite) TestATR() {
	atr := NewATR()
	suite.Require().NoError(atr.Config(2))
	suite.Equal(types.IndicatorTypeATR, atr.Name())

	candles := []types.Candle{
		{Time: suite.start, High: 10, Low: 8, Close: 9},
		{Time: suite.start.Add(time.Hour), High: 11, Low: 9, Close: 10},
		{Time: suite.start.Add(2 * time.Hour), High: 13, Low: 10, Close: 12},
		// gap down: the distance to the previous close dominates
		{Time: suite.start.Add(3 * time.Hour), High: 8, Low: 7, Close: 7.5},
	}

	points, err := atr.Calculate(context.Background(), Input{Candles: candles})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{2, 2.5, 3.75}, values(points), 1e-9)
	suite.Equal(suite.start.Add(time.Hour), points[0].Time)
}

func (suite *CalculatorTestSuite) TestATRNotEnoughCandles() {
	points, err := NewATR().Calculate(context.Background(), Input{Candles: suite.closes(1, 2)})
	suite.Require().NoError(err)
	suite.Empty(points)
}
