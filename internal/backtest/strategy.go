// Package backtest is the reference compute engine: a long-only moving
// average crossover simulated with decimal accounting.
package backtest

import (
	"fmt"

	"github.com/rxtech-lab/argo-datapage/pkg/compute"
)

// SMACross goes long when the fast simple moving average crosses above the
// slow one and exits when it crosses back below.
//
// Funding, when present, blocks entries while the latest funding rate is
// above MaxFunding. Trades, when present, only allow entries on candles with
// positive volume delta.
type SMACross struct {
	Fast       int
	Slow       int
	MaxFunding float64
	Funding    compute.Necessity
	Trades     compute.Necessity
}

var _ compute.Strategy = (*SMACross)(nil)

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma-cross(%d,%d)", s.Fast, s.Slow)
}

func (s *SMACross) Dependencies() compute.Dependencies {
	return compute.Dependencies{
		Trades:       s.Trades,
		Funding:      s.Funding,
		OpenInterest: compute.NotNeeded,
		Premium:      compute.NotNeeded,
	}
}
