package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Parquet serves candles from local parquet files through an in-memory DuckDB
// view. Stored bars are resampled to the requested timeframe.
type Parquet struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

var _ CandleSource = (*Parquet)(nil)

// NewParquet opens a DuckDB view over every file matching pattern
// (e.g. "data/*.parquet"). Files need the columns time, symbol, open, high,
// low, close and volume.
func NewParquet(pattern string, log *logger.Logger) (*Parquet, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open DuckDB connection", err)
	}

	// Create a view from the parquet files - raw SQL as Squirrel doesn't support CREATE VIEW
	query := fmt.Sprintf(`
		CREATE VIEW market_data AS
		SELECT * FROM read_parquet('%s');
	`, strings.ReplaceAll(pattern, "'", "''"))

	if _, err := db.Exec(query); err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to create view over %s", pattern)
	}

	log.Debug("Opened parquet source", zap.String("pattern", pattern))

	return &Parquet{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Candles returns bars in [Start, End) bucketed to the query timeframe.
func (p *Parquet) Candles(ctx context.Context, q Query) ([]types.Candle, error) {
	bucket := fmt.Sprintf("time_bucket(INTERVAL '%d seconds', time)", int64(q.Timeframe.Duration().Seconds()))

	query, args, err := p.sq.
		Select(
			bucket+" AS bucket",
			"arg_min(open, time)",
			"max(high)",
			"min(low)",
			"arg_max(close, time)",
			"sum(volume)",
		).
		From("market_data").
		Where(squirrel.Eq{"symbol": q.Symbol}).
		Where(squirrel.GtOrEq{"time": q.Start}).
		Where(squirrel.Lt{"time": q.End}).
		GroupBy("bucket").
		OrderBy("bucket ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build candle query", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to query candles for %s", q.Symbol)
	}
	defer rows.Close()

	var candles []types.Candle

	for rows.Next() {
		var (
			ts                             time.Time
			open, high, low, close, volume float64
		)

		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan candle row", err)
		}

		candles = append(candles, types.Candle{
			Symbol: q.Symbol,
			Time:   ts.UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating candle rows", err)
	}

	q.report(q.End.UnixMilli(), q.Start.UnixMilli(), q.End.UnixMilli())

	return candles, nil
}

// Close releases the DuckDB connection.
func (p *Parquet) Close() error {
	return p.db.Close()
}
