package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/stretchr/testify/suite"
)

type CalculatorTestSuite struct {
	suite.Suite
	start time.Time
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorTestSuite))
}

func (suite *CalculatorTestSuite) SetupTest() {
	suite.start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *CalculatorTestSuite) closes(values ...float64) []types.Candle {
	out := make([]types.Candle, len(values))
	for i, v := range values {
		out[i] = types.Candle{Symbol: "BTCUSDT", Time: suite.start.Add(time.Duration(i) * time.Hour), Close: v}
	}

	return out
}

func values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}

	return out
}

func (suite *CalculatorTestSuite) TestEMASeedsWithSimpleAverage() {
	ema := NewEMA()
	suite.Require().NoError(ema.Config(3))
	suite.Equal("period=3", ema.Params())
	suite.False(ema.NeedsTrades())

	points, err := ema.Calculate(context.Background(), Input{Candles: suite.closes(1, 2, 3, 4, 5)})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{1, 1.5, 2, 3, 4}, values(points), 1e-9)
	suite.Equal(suite.start.Add(4*time.Hour), points[4].Time)
}

func (suite *CalculatorTestSuite) TestEMAConfig() {
	ema := NewEMA()
	suite.Equal("period=20", ema.Params())

	suite.Error(ema.Config())
	suite.Error(ema.Config(0))
	suite.Error(ema.Config("ten"))
	suite.NoError(ema.Config(float64(10)))
	suite.Equal("period=10", ema.Params())
}

func (suite *CalculatorTestSuite) TestEMAEmptyInput() {
	points, err := NewEMA().Calculate(context.Background(), Input{})
	suite.Require().NoError(err)
	suite.Empty(points)
}

func (suite *CalculatorTestSuite) TestCalculateStopsOnCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEMA().Calculate(ctx, Input{Candles: suite.closes(1, 2, 3)})
	suite.ErrorIs(err, context.Canceled)

	_, err = NewCVD().Calculate(ctx, Input{Candles: suite.closes(1, 2, 3)})
	suite.ErrorIs(err, context.Canceled)
}
