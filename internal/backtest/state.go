package backtest

import (
	"time"

	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/shopspring/decimal"
)

// simulation is the account of a long-only run: either all cash or all
// position.
type simulation struct {
	fee CommissionFee

	cash     decimal.Decimal
	quantity decimal.Decimal
	cost     decimal.Decimal

	peak        decimal.Decimal
	maxDrawdown decimal.Decimal

	closed int
	wins   int
	fills  []compute.Fill
}

func newSimulation(capital decimal.Decimal, fee CommissionFee) *simulation {
	return &simulation{
		fee:         fee,
		cash:        capital,
		quantity:    decimal.Zero,
		cost:        decimal.Zero,
		peak:        capital,
		maxDrawdown: decimal.Zero,
		closed:      0,
		wins:        0,
		fills:       nil,
	}
}

func (s *simulation) inPosition() bool {
	return s.quantity.IsPositive()
}

// buy spends all cash, fee included, at price.
func (s *simulation) buy(t time.Time, price decimal.Decimal) {
	fee := s.fee.Calculate(s.cash)
	quantity := s.cash.Sub(fee).Div(price)

	s.cost = s.cash
	s.cash = decimal.Zero
	s.quantity = quantity
	s.fills = append(s.fills, compute.Fill{
		Time:     t,
		Side:     compute.SideBuy,
		Price:    price,
		Quantity: quantity,
		PnL:      decimal.Zero,
	})
}

// sell closes the position at price.
func (s *simulation) sell(t time.Time, price decimal.Decimal) {
	proceeds := s.quantity.Mul(price)
	fee := s.fee.Calculate(proceeds)
	cash := proceeds.Sub(fee)
	pnl := cash.Sub(s.cost)

	s.closed++
	if pnl.IsPositive() {
		s.wins++
	}

	s.fills = append(s.fills, compute.Fill{
		Time:     t,
		Side:     compute.SideSell,
		Price:    price,
		Quantity: s.quantity,
		PnL:      pnl,
	})
	s.cash = cash
	s.quantity = decimal.Zero
	s.cost = decimal.Zero
}

// mark updates the drawdown with the equity at price.
func (s *simulation) mark(price decimal.Decimal) {
	equity := s.cash.Add(s.quantity.Mul(price))
	if equity.GreaterThan(s.peak) {
		s.peak = equity
	}

	if !s.peak.IsPositive() {
		return
	}

	drawdown := s.peak.Sub(equity).Div(s.peak)
	if drawdown.GreaterThan(s.maxDrawdown) {
		s.maxDrawdown = drawdown
	}
}

func (s *simulation) winRate() float64 {
	if s.closed == 0 {
		return 0
	}

	return float64(s.wins) / float64(s.closed)
}
