// Package compute defines the contracts of the compute side the coordinator
// drives: the strategy being run, the engine running it and the store its
// results go to.
package compute

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/shopspring/decimal"
)

// Necessity says whether a strategy needs a data kind.
type Necessity int

const (
	// NotNeeded kinds are never requested.
	NotNeeded Necessity = iota
	// Optional kinds are requested, but an error on them only degrades the run.
	Optional
	// Required kinds must load for the run to start.
	Required
)

func (n Necessity) String() string {
	switch n {
	case Optional:
		return "optional"
	case Required:
		return "required"
	default:
		return "none"
	}
}

// ParseNecessity parses "required", "optional" or "none".
func ParseNecessity(s string) (Necessity, bool) {
	switch s {
	case "required":
		return Required, true
	case "optional":
		return Optional, true
	case "none", "":
		return NotNeeded, true
	default:
		return NotNeeded, false
	}
}

// Dependencies lists the data a strategy reads besides candles, which are
// always required.
type Dependencies struct {
	Trades       Necessity
	Funding      Necessity
	OpenInterest Necessity
	Premium      Necessity
}

// Of returns the necessity for kind.
func (d Dependencies) Of(kind types.DataKind) Necessity {
	switch kind {
	case types.DataKindCandles:
		return Required
	case types.DataKindTrades:
		return d.Trades
	case types.DataKindFunding:
		return d.Funding
	case types.DataKindOpenInterest:
		return d.OpenInterest
	case types.DataKindPremium:
		return d.Premium
	default:
		return NotNeeded
	}
}

// Strategy is what a backtest runs. Its semantics are the engine's business.
type Strategy interface {
	Name() string
	Dependencies() Dependencies
}

// Config describes one backtest run.
type Config struct {
	RunID     string
	Symbol    string
	Timeframe types.Timeframe
	Start     time.Time
	End       time.Time
	Capital   decimal.Decimal
}

// Inputs is the loaded data handed to the engine. Slices are shared with the
// page cache and must not be modified.
type Inputs struct {
	Candles      []types.Candle
	Trades       []types.TickTrade
	Funding      []types.FundingRate
	OpenInterest []types.OpenInterest
	Premium      []types.PremiumIndex
	// Degraded lists optional kinds that failed to load and are absent.
	Degraded []types.DataKind
}

// Phase is a named stage of an engine run.
type Phase string

const (
	// PhaseLoading is reported by the coordinator while pages load; engines
	// never see it.
	PhaseLoading  Phase = "loading"
	PhasePrepare  Phase = "prepare"
	PhaseSimulate Phase = "simulate"
	PhaseReport   Phase = "report"
)

// DefaultPhases is the phase list the coordinator passes to the engine.
var DefaultPhases = []Phase{PhasePrepare, PhaseSimulate, PhaseReport}

// ProgressFunc receives engine progress within a phase, in percent.
type ProgressFunc func(phase Phase, pct float64)

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Fill is one executed trade of a backtest.
type Fill struct {
	Time     time.Time
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	PnL      decimal.Decimal
}

// Result is the outcome of a backtest.
type Result struct {
	ID          string
	RunID       string
	Strategy    string
	Symbol      string
	Timeframe   types.Timeframe
	Start       time.Time
	End         time.Time
	Capital     decimal.Decimal
	FinalEquity decimal.Decimal
	TotalReturn decimal.Decimal
	MaxDrawdown decimal.Decimal
	WinRate     float64
	Fills       []Fill
	Degraded    []types.DataKind
	CreatedAt   time.Time
}

// Engine runs a strategy over loaded inputs.
type Engine interface {
	Run(ctx context.Context, strategy Strategy, config Config, inputs Inputs, phases []Phase, progress ProgressFunc) (*Result, error)
}

// ResultStore persists results.
type ResultStore interface {
	Save(ctx context.Context, result *Result) error
}
