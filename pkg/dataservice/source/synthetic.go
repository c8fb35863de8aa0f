package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/zeebo/xxh3"
)

// SyntheticConfig configures how synthetic market data is generated.
type SyntheticConfig struct {
	// Seed makes the output reproducible. The same seed and query always yield
	// the same records.
	Seed int64
	// InitialPrice is the price at the start of every generated range.
	InitialPrice float64
	// Volatility controls price movement per bar (0.002 = 0.2%).
	Volatility float64
	// Trend is the drift distributed across the range.
	Trend float64
	// VolumeBase is the average volume per bar.
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0).
	VolumeVariance float64
	// TradesPerMinute is the number of tick trades generated per minute.
	TradesPerMinute int
}

// DefaultSyntheticConfig returns a sensible default configuration.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:            42,
		InitialPrice:    100.0,
		Volatility:      0.002,
		Trend:           0.0,
		VolumeBase:      10000,
		VolumeVariance:  0.3,
		TradesPerMinute: 20,
	}
}

// Synthetic generates realistic market data with a geometric Brownian motion
// model. It serves every data kind and never touches the network.
type Synthetic struct {
	config SyntheticConfig
}

var (
	_ CandleSource       = (*Synthetic)(nil)
	_ TradeSource        = (*Synthetic)(nil)
	_ FundingSource      = (*Synthetic)(nil)
	_ OpenInterestSource = (*Synthetic)(nil)
	_ PremiumSource      = (*Synthetic)(nil)
)

func NewSynthetic(config SyntheticConfig) *Synthetic {
	return &Synthetic{config: config}
}

// NewSyntheticSet returns a Set serving every kind from one generator.
func NewSyntheticSet(config SyntheticConfig) Set {
	s := NewSynthetic(config)

	return Set{
		Candles:      s,
		Trades:       s,
		Funding:      s,
		OpenInterest: s,
		Premium:      s,
	}
}

func (s *Synthetic) rng(kind types.DataKind, q Query) *rand.Rand {
	h := xxh3.HashString(string(kind) + "|" + q.Symbol + "|" + q.Start.UTC().Format(time.RFC3339Nano))

	return rand.New(rand.NewSource(s.config.Seed ^ int64(h)))
}

func (s *Synthetic) Candles(ctx context.Context, q Query) ([]types.Candle, error) {
	interval := q.Timeframe.Duration()
	count := int(q.End.Sub(q.Start) / interval)
	rng := s.rng(types.DataKindCandles, q)

	data := make([]types.Candle, 0, max(count, 0))
	currentPrice := s.config.InitialPrice
	currentTime := q.Start.UTC()

	for i := 0; i < count; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		open := currentPrice

		// Box-Muller transform for a normal sample
		z := normal(rng)
		drift := s.config.Trend / float64(count)

		closePrice := open * (1 + s.config.Volatility*z + drift)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		highExtension := math.Abs(rng.Float64() * s.config.Volatility * open * 0.5)
		lowExtension := math.Abs(rng.Float64() * s.config.Volatility * open * 0.5)

		high := math.Max(open, closePrice) + highExtension

		low := math.Min(open, closePrice) - lowExtension
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		volume := s.config.VolumeBase * (1.0 + (rng.Float64()*2-1)*s.config.VolumeVariance)
		if volume < 0 {
			volume = s.config.VolumeBase * 0.1
		}

		data = append(data, types.Candle{
			Symbol: q.Symbol,
			Time:   currentTime,
			Open:   roundToDecimals(open, 4),
			High:   roundToDecimals(high, 4),
			Low:    roundToDecimals(low, 4),
			Close:  roundToDecimals(closePrice, 4),
			Volume: roundToDecimals(volume, 2),
		})

		currentPrice = closePrice
		currentTime = currentTime.Add(interval)
	}

	q.report(q.End.UnixMilli(), q.Start.UnixMilli(), q.End.UnixMilli())

	return data, nil
}

func (s *Synthetic) Trades(ctx context.Context, q Query) ([]types.TickTrade, error) {
	perMinute := max(s.config.TradesPerMinute, 1)
	step := time.Minute / time.Duration(perMinute)
	count := int(q.End.Sub(q.Start) / step)
	rng := s.rng(types.DataKindTrades, q)

	trades := make([]types.TickTrade, 0, max(count, 0))
	price := s.config.InitialPrice
	tickVolatility := s.config.Volatility / math.Sqrt(float64(perMinute))

	for i := 0; i < count; i++ {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		price *= 1 + tickVolatility*normal(rng)
		if price <= 0 {
			price = s.config.InitialPrice
		}

		trades = append(trades, types.TickTrade{
			ID:           int64(i + 1),
			Time:         q.Start.UTC().Add(time.Duration(i) * step),
			Price:        roundToDecimals(price, 4),
			Quantity:     roundToDecimals(rng.Float64()*s.config.VolumeBase/float64(perMinute)/50, 4),
			IsBuyerMaker: rng.Intn(2) == 0,
		})
	}

	q.report(q.End.UnixMilli(), q.Start.UnixMilli(), q.End.UnixMilli())

	return trades, nil
}

func (s *Synthetic) Funding(_ context.Context, q Query) ([]types.FundingRate, error) {
	rng := s.rng(types.DataKindFunding, q)

	var out []types.FundingRate

	// Funding settles every 8 hours on the clock.
	for t := q.Start.UTC().Truncate(8 * time.Hour); t.Before(q.End); t = t.Add(8 * time.Hour) {
		if t.Before(q.Start) {
			continue
		}

		out = append(out, types.FundingRate{
			Time: t,
			Rate: roundToDecimals(0.0001+normal(rng)*0.0001, 6),
		})
	}

	return out, nil
}

func (s *Synthetic) OpenInterest(_ context.Context, q Query) ([]types.OpenInterest, error) {
	rng := s.rng(types.DataKindOpenInterest, q)
	oi := s.config.VolumeBase * 50

	var out []types.OpenInterest

	for t := q.Start.UTC(); t.Before(q.End); t = t.Add(5 * time.Minute) {
		oi *= 1 + normal(rng)*0.001
		out = append(out, types.OpenInterest{
			Time:              t,
			OpenInterest:      roundToDecimals(oi, 2),
			OpenInterestValue: roundToDecimals(oi*s.config.InitialPrice, 2),
		})
	}

	return out, nil
}

func (s *Synthetic) Premium(_ context.Context, q Query) ([]types.PremiumIndex, error) {
	rng := s.rng(types.DataKindPremium, q)

	var out []types.PremiumIndex

	for t := q.Start.UTC(); t.Before(q.End); t = t.Add(time.Minute) {
		base := normal(rng) * 0.0005
		spread := math.Abs(normal(rng)) * 0.0001
		out = append(out, types.PremiumIndex{
			Time:  t,
			Open:  roundToDecimals(base, 6),
			High:  roundToDecimals(base+spread, 6),
			Low:   roundToDecimals(base-spread, 6),
			Close: roundToDecimals(base+normal(rng)*spread, 6),
		})
	}

	return out, nil
}

func normal(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}

	u2 := rng.Float64()

	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
