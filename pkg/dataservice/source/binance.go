package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

const (
	binanceKlineLimit    = 1500
	binanceAggTradeLimit = 1000
	binanceFundingLimit  = 1000
	binanceOILimit       = 500

	// aggTrades only accepts a start/end window shorter than one hour.
	binanceAggTradeWindow = time.Hour

	// Funding-style kinds carry no timeframe in their page identity, so they
	// are downloaded at a fixed native resolution.
	binanceOpenInterestPeriod = "5m"
	binancePremiumInterval    = types.Timeframe1m
)

// Binance serves every data kind from the USDⓈ-M futures REST API.
type Binance struct {
	client *futures.Client
	logger *logger.Logger
}

var (
	_ CandleSource       = (*Binance)(nil)
	_ TradeSource        = (*Binance)(nil)
	_ FundingSource      = (*Binance)(nil)
	_ OpenInterestSource = (*Binance)(nil)
	_ PremiumSource      = (*Binance)(nil)
)

// NewBinance creates a Binance futures source. An empty baseURL keeps the
// library default.
func NewBinance(baseURL string, log *logger.Logger) *Binance {
	client := futures.NewClient("", "")
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Binance{
		client: client,
		logger: log,
	}
}

// Candles downloads klines, paginating on close time.
func (b *Binance) Candles(ctx context.Context, q Query) ([]types.Candle, error) {
	klines, err := b.klines(ctx, q, q.Timeframe, false)
	if err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, types.Candle{
			Symbol: q.Symbol,
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}

	return candles, nil
}

// Premium downloads premium index klines at a fixed one-minute resolution.
func (b *Binance) Premium(ctx context.Context, q Query) ([]types.PremiumIndex, error) {
	klines, err := b.klines(ctx, q, binancePremiumInterval, true)
	if err != nil {
		return nil, err
	}

	out := make([]types.PremiumIndex, 0, len(klines))
	for _, k := range klines {
		out = append(out, types.PremiumIndex{
			Time:  time.UnixMilli(k.OpenTime).UTC(),
			Open:  parseFloat(k.Open),
			High:  parseFloat(k.High),
			Low:   parseFloat(k.Low),
			Close: parseFloat(k.Close),
		})
	}

	return out, nil
}

func (b *Binance) klines(ctx context.Context, q Query, interval types.Timeframe, premium bool) ([]*futures.Kline, error) {
	startMs := q.Start.UnixMilli()
	endMs := q.End.UnixMilli()
	current := startMs

	var all []*futures.Kline

	for current < endMs {
		var (
			page []*futures.Kline
			err  error
		)

		if premium {
			page, err = b.client.NewPremiumIndexKlinesService().
				Symbol(q.Symbol).
				Interval(string(interval)).
				StartTime(current).
				EndTime(endMs).
				Limit(binanceKlineLimit).
				Do(ctx)
		} else {
			page, err = b.client.NewKlinesService().
				Symbol(q.Symbol).
				Interval(string(interval)).
				StartTime(current).
				EndTime(endMs).
				Limit(binanceKlineLimit).
				Do(ctx)
		}

		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "failed to fetch klines for %s", q.Symbol)
		}

		all = append(all, page...)

		if len(page) < binanceKlineLimit {
			break
		}

		// Use the close time of the last kline + 1ms to avoid duplicates
		current = page[len(page)-1].CloseTime + 1
		q.report(current, startMs, endMs)
	}

	b.logger.Debug("Downloaded klines",
		zap.String("symbol", q.Symbol),
		zap.String("interval", string(interval)),
		zap.Bool("premium", premium),
		zap.Int("count", len(all)),
	)

	return all, nil
}

// Trades downloads aggregated trades. The first page is located by time window,
// subsequent pages continue by trade ID until the range end is passed.
func (b *Binance) Trades(ctx context.Context, q Query) ([]types.TickTrade, error) {
	startMs := q.Start.UnixMilli()
	endMs := q.End.UnixMilli()

	var (
		page []*futures.AggTrade
		err  error
	)

	for windowStart := startMs; windowStart < endMs && len(page) == 0; windowStart += binanceAggTradeWindow.Milliseconds() {
		windowEnd := min(windowStart+binanceAggTradeWindow.Milliseconds()-1, endMs)

		page, err = b.client.NewAggTradesService().
			Symbol(q.Symbol).
			StartTime(windowStart).
			EndTime(windowEnd).
			Limit(binanceAggTradeLimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "failed to fetch agg trades for %s", q.Symbol)
		}

		q.report(windowEnd, startMs, endMs)
	}

	var trades []types.TickTrade

	for len(page) > 0 {
		for _, t := range page {
			if t.Timestamp > endMs {
				return trades, nil
			}

			trades = append(trades, types.TickTrade{
				ID:           t.AggTradeID,
				Time:         time.UnixMilli(t.Timestamp).UTC(),
				Price:        parseFloat(t.Price),
				Quantity:     parseFloat(t.Quantity),
				IsBuyerMaker: t.IsBuyerMaker,
			})
		}

		last := page[len(page)-1]
		q.report(last.Timestamp, startMs, endMs)

		if len(page) < binanceAggTradeLimit {
			break
		}

		page, err = b.client.NewAggTradesService().
			Symbol(q.Symbol).
			FromID(last.AggTradeID + 1).
			Limit(binanceAggTradeLimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "failed to fetch agg trades for %s", q.Symbol)
		}
	}

	return trades, nil
}

// Funding downloads funding rate history.
func (b *Binance) Funding(ctx context.Context, q Query) ([]types.FundingRate, error) {
	startMs := q.Start.UnixMilli()
	endMs := q.End.UnixMilli()
	current := startMs

	var out []types.FundingRate

	for current < endMs {
		page, err := b.client.NewFundingRateService().
			Symbol(q.Symbol).
			StartTime(current).
			EndTime(endMs).
			Limit(binanceFundingLimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "failed to fetch funding rates for %s", q.Symbol)
		}

		for _, f := range page {
			out = append(out, types.FundingRate{
				Time: time.UnixMilli(f.FundingTime).UTC(),
				Rate: parseFloat(f.FundingRate),
			})
		}

		if len(page) < binanceFundingLimit {
			break
		}

		current = page[len(page)-1].FundingTime + 1
		q.report(current, startMs, endMs)
	}

	return out, nil
}

// OpenInterest downloads open interest statistics at a fixed five-minute period.
func (b *Binance) OpenInterest(ctx context.Context, q Query) ([]types.OpenInterest, error) {
	startMs := q.Start.UnixMilli()
	endMs := q.End.UnixMilli()
	current := startMs

	var out []types.OpenInterest

	for current < endMs {
		stats, err := b.client.NewOpenInterestStatisticsService().
			Symbol(q.Symbol).
			Period(binanceOpenInterestPeriod).
			StartTime(current).
			EndTime(endMs).
			Limit(binanceOILimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, err, "failed to fetch open interest for %s", q.Symbol)
		}

		for _, item := range stats {
			if item == nil {
				continue
			}

			out = append(out, types.OpenInterest{
				Time:              time.UnixMilli(item.Timestamp).UTC(),
				OpenInterest:      parseFloat(item.SumOpenInterest),
				OpenInterestValue: parseFloat(item.SumOpenInterestValue),
			})
		}

		if len(stats) < binanceOILimit {
			break
		}

		current = stats[len(stats)-1].Timestamp + 1
		q.report(current, startMs, endMs)
	}

	return out, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}

	return v
}
