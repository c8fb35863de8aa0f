// Package source provides the upstream datasets the reference data service
// materializes pages from.
package source

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// ProviderType names an upstream provider.
type ProviderType string

const (
	ProviderBinance   ProviderType = "binance"
	ProviderPolygon   ProviderType = "polygon"
	ProviderParquet   ProviderType = "parquet"
	ProviderSynthetic ProviderType = "synthetic"
)

// ProgressFunc receives download progress in percent.
type ProgressFunc func(percent float64)

// Query selects one range of one symbol. Timeframe is only used by candle and
// premium sources.
type Query struct {
	Symbol    string
	Timeframe types.Timeframe
	Start     time.Time
	End       time.Time
	Progress  ProgressFunc
}

func (q Query) report(current, start, end int64) {
	if q.Progress == nil || end <= start {
		return
	}

	pct := float64(current-start) / float64(end-start) * 100
	if pct < 0 {
		pct = 0
	}

	if pct > 100 {
		pct = 100
	}

	q.Progress(pct)
}

type CandleSource interface {
	Candles(ctx context.Context, q Query) ([]types.Candle, error)
}

type TradeSource interface {
	Trades(ctx context.Context, q Query) ([]types.TickTrade, error)
}

type FundingSource interface {
	Funding(ctx context.Context, q Query) ([]types.FundingRate, error)
}

type OpenInterestSource interface {
	OpenInterest(ctx context.Context, q Query) ([]types.OpenInterest, error)
}

type PremiumSource interface {
	Premium(ctx context.Context, q Query) ([]types.PremiumIndex, error)
}

// Set routes each data kind to the source that serves it. A nil entry means
// the kind is not available.
type Set struct {
	Candles      CandleSource
	Trades       TradeSource
	Funding      FundingSource
	OpenInterest OpenInterestSource
	Premium      PremiumSource
}

// Supports reports whether kind has a source.
func (s Set) Supports(kind types.DataKind) bool {
	switch kind {
	case types.DataKindCandles:
		return s.Candles != nil
	case types.DataKindTrades:
		return s.Trades != nil
	case types.DataKindFunding:
		return s.Funding != nil
	case types.DataKindOpenInterest:
		return s.OpenInterest != nil
	case types.DataKindPremium:
		return s.Premium != nil
	default:
		return false
	}
}

// Unavailable is the error returned for a kind without a source.
func Unavailable(kind types.DataKind) error {
	return errors.Newf(errors.ErrCodeDataSourceUnavailable, "no source configured for %s", kind)
}
