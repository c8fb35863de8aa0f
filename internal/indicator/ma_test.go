package indicator

import (
	"context"

	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

func (suite *CalculatorTestSuite) TestMARollingWindow() {
	ma := NewMA()
	suite.Require().NoError(ma.Config(3))

	points, err := ma.Calculate(context.Background(), Input{Candles: suite.closes(1, 2, 3, 4, 5)})
	suite.Require().NoError(err)
	suite.InDeltaSlice([]float64{1, 1.5, 2, 3, 4}, values(points), 1e-9)
}

func (suite *CalculatorTestSuite) TestSimpleMovingAverageRejectsBadPeriod() {
	_, err := SimpleMovingAverage(context.Background(), suite.closes(1, 2), 0)
	suite.Equal(errors.ErrCodeInvalidParameter, errors.GetCode(err))
}
