package source

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Polygon serves candles from Polygon.io aggregates.
type Polygon struct {
	client *polygon.Client
	logger *logger.Logger
}

var _ CandleSource = (*Polygon)(nil)

// NewPolygon creates a Polygon candle source.
func NewPolygon(apiKey string, log *logger.Logger) (*Polygon, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeMissingParameter, "polygon apiKey is required")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Polygon{
		client: polygon.New(apiKey),
		logger: log,
	}, nil
}

// Candles lists aggregates for the query range.
func (p *Polygon) Candles(ctx context.Context, q Query) ([]types.Candle, error) {
	multiplier, timespan := polygonTimespan(q.Timeframe)

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     q.Symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(q.Start),
		To:         models.Millis(q.End),
	}.WithLimit(50000)

	iter := p.client.ListAggs(ctx, params)

	var candles []types.Candle

	startMs := q.Start.UnixMilli()
	endMs := q.End.UnixMilli()

	for iter.Next() {
		agg := iter.Item()
		ts := time.Time(agg.Timestamp).UTC()

		candles = append(candles, types.Candle{
			Symbol: q.Symbol,
			Time:   ts,
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})

		if len(candles)%1000 == 0 {
			q.report(ts.UnixMilli(), startMs, endMs)
		}
	}

	if iter.Err() != nil {
		return nil, errors.Wrapf(errors.ErrCodeHistoricalDataFailed, iter.Err(), "error iterating polygon aggregates for %s", q.Symbol)
	}

	p.logger.Debug("Downloaded polygon aggregates", zap.String("symbol", q.Symbol), zap.Int("count", len(candles)))

	return candles, nil
}

// polygonTimespan converts a timeframe into Polygon's multiplier and timespan.
func polygonTimespan(tf types.Timeframe) (int, models.Timespan) {
	switch tf {
	case types.Timeframe1s:
		return 1, models.Second
	case types.Timeframe1m:
		return 1, models.Minute
	case types.Timeframe3m:
		return 3, models.Minute
	case types.Timeframe5m:
		return 5, models.Minute
	case types.Timeframe15m:
		return 15, models.Minute
	case types.Timeframe30m:
		return 30, models.Minute
	case types.Timeframe1h:
		return 1, models.Hour
	case types.Timeframe2h:
		return 2, models.Hour
	case types.Timeframe4h:
		return 4, models.Hour
	case types.Timeframe6h:
		return 6, models.Hour
	case types.Timeframe8h:
		return 8, models.Hour
	case types.Timeframe12h:
		return 12, models.Hour
	case types.Timeframe1d:
		return 1, models.Day
	case types.Timeframe3d:
		return 3, models.Day
	case types.Timeframe1w:
		return 1, models.Week
	default:
		return 1, models.Minute
	}
}
