package types

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type TypesTestSuite struct {
	suite.Suite
}

func TestTypesSuite(t *testing.T) {
	suite.Run(t, new(TypesTestSuite))
}

func (suite *TypesTestSuite) TestRecordTimestamps() {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []Record{
		Candle{Time: ts},
		TickTrade{Time: ts},
		FundingRate{Time: ts},
		OpenInterest{Time: ts},
		PremiumIndex{Time: ts},
	}

	for _, r := range records {
		suite.Equal(ts, r.Timestamp())
	}
}

func (suite *TypesTestSuite) TestSignedQuantity() {
	suite.Equal(2.5, TickTrade{Quantity: 2.5}.SignedQuantity())
	suite.Equal(-2.5, TickTrade{Quantity: 2.5, IsBuyerMaker: true}.SignedQuantity())
}

func (suite *TypesTestSuite) TestUsesTimeframe() {
	suite.True(DataKindCandles.UsesTimeframe())
	suite.False(DataKindTrades.UsesTimeframe())
	suite.False(DataKindFunding.UsesTimeframe())
	suite.False(DataKindOpenInterest.UsesTimeframe())
	suite.False(DataKindPremium.UsesTimeframe())
}

func (suite *TypesTestSuite) TestParseDataKind() {
	kind, err := ParseDataKind("open_interest")
	suite.Require().NoError(err)
	suite.Equal(DataKindOpenInterest, kind)

	_, err = ParseDataKind("orderbook")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDataKind))
}

func (suite *TypesTestSuite) TestPageStateHelpers() {
	suite.True(PageStateReady.HasData())
	suite.True(PageStateUpdating.HasData())
	suite.False(PageStateLoading.HasData())
	suite.False(PageStateError.HasData())
	suite.False(PageStateEmpty.HasData())

	suite.True(PageStateReady.Terminal())
	suite.True(PageStateError.Terminal())
	suite.False(PageStateUpdating.Terminal())
}

func (suite *TypesTestSuite) TestTimeframe() {
	testCases := []struct {
		input    string
		expected time.Duration
	}{
		{"1s", time.Second},
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 168 * time.Hour},
	}

	for _, tc := range testCases {
		suite.Run(tc.input, func() {
			tf, err := ParseTimeframe(tc.input)
			suite.Require().NoError(err)
			suite.Equal(tc.expected, tf.Duration())
			suite.True(tf.Valid())
		})
	}

	_, err := ParseTimeframe("7m")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
	suite.Equal(time.Minute, Timeframe("7m").Duration())
}
