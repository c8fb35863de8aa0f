package backtest

import (
	"github.com/shopspring/decimal"
)

type CommissionFee interface {
	// Calculate returns the fee charged on a trade of the given notional value.
	Calculate(notional decimal.Decimal) decimal.Decimal
}

type Broker string

const (
	BrokerBinanceFutures Broker = "binance_futures"
	BrokerZero           Broker = "zero_commission"
)

var AllBrokers = []any{
	BrokerBinanceFutures,
	BrokerZero,
}

func GetCommissionFeeHandler(broker Broker) CommissionFee {
	switch broker {
	case BrokerBinanceFutures:
		return NewPercentageCommissionFee(decimal.RequireFromString("0.0004"))
	case BrokerZero:
		return NewZeroCommissionFee()
	default:
		return NewZeroCommissionFee()
	}
}

// PercentageCommissionFee charges a fixed share of the notional.
type PercentageCommissionFee struct {
	rate decimal.Decimal
}

func NewPercentageCommissionFee(rate decimal.Decimal) CommissionFee {
	return &PercentageCommissionFee{rate: rate}
}

func (c *PercentageCommissionFee) Calculate(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(c.rate)
}

// ZeroCommissionFee implements CommissionFee interface with zero commission.
type ZeroCommissionFee struct{}

// NewZeroCommissionFee creates a new zero commission fee.
func NewZeroCommissionFee() CommissionFee {
	return &ZeroCommissionFee{}
}

// Calculate returns 0 for any notional.
func (c *ZeroCommissionFee) Calculate(decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}
