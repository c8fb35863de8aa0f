// Package resultstore persists backtest results in DuckDB.
package resultstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var resultColumns = []string{
	"id", "run_id", "strategy", "symbol", "timeframe", "start_time", "end_time",
	"capital", "final_equity", "total_return", "max_drawdown", "win_rate", "degraded", "created_at",
}

// Store implements compute.ResultStore. Decimal amounts are stored as text so
// they read back exactly.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

var _ compute.ResultStore = (*Store)(nil)

// Open opens the database at path, or an in-memory one when path is empty.
func Open(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to create database directory", err)
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		log.Error("Failed to open result database", zap.Error(err))

		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		log.Error("Failed to connect to result database", zap.Error(err))
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to connect to database", err)
	}

	s := &Store{
		db:     db,
		logger: log.Named("resultstore"),
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// Save writes result and its fills in one transaction.
func (s *Store) Save(ctx context.Context, result *compute.Result) error {
	if result == nil || result.ID == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "result must have an id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query, args, err := s.sq.
		Insert("results").
		Columns(resultColumns...).
		Values(
			result.ID,
			result.RunID,
			result.Strategy,
			result.Symbol,
			string(result.Timeframe),
			result.Start,
			result.End,
			result.Capital.String(),
			result.FinalEquity.String(),
			result.TotalReturn.String(),
			result.MaxDrawdown.String(),
			result.WinRate,
			joinKinds(result.Degraded),
			result.CreatedAt,
		).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to build insert", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(errors.ErrCodeResultStoreFailed, err, "failed to insert result %s", result.ID)
	}

	if len(result.Fills) > 0 {
		insert := s.sq.
			Insert("fills").
			Columns("result_id", "seq", "time", "side", "price", "quantity", "pnl")

		for i, f := range result.Fills {
			insert = insert.Values(result.ID, i, f.Time, string(f.Side), f.Price.String(), f.Quantity.String(), f.PnL.String())
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to build fill insert", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(errors.ErrCodeResultStoreFailed, err, "failed to insert fills of %s", result.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to commit result", err)
	}

	s.logger.Debug("Result saved",
		zap.String("id", result.ID),
		zap.String("run_id", result.RunID),
		zap.Int("fills", len(result.Fills)),
	)

	return nil
}

// Get returns the result with id, fills included.
func (s *Store) Get(ctx context.Context, id string) (optional.Option[*compute.Result], error) {
	results, err := s.query(ctx, squirrel.Eq{"id": id})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return optional.None[*compute.Result](), nil
	}

	return optional.Some(results[0]), nil
}

// List returns the results for symbol, newest first. An empty symbol lists
// every result.
func (s *Store) List(ctx context.Context, symbol string) ([]*compute.Result, error) {
	var where squirrel.Sqlizer = squirrel.Expr("1 = 1")
	if symbol != "" {
		where = squirrel.Eq{"symbol": symbol}
	}

	return s.query(ctx, where)
}

func (s *Store) query(ctx context.Context, where squirrel.Sqlizer) ([]*compute.Result, error) {
	query, args, err := s.sq.
		Select(resultColumns...).
		From("results").
		Where(where).
		OrderBy("created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to build query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to query results", err)
	}
	defer rows.Close()

	var results []*compute.Result

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "error iterating results", err)
	}

	for _, r := range results {
		fills, err := s.fills(ctx, r.ID)
		if err != nil {
			return nil, err
		}

		r.Fills = fills
	}

	return results, nil
}

func (s *Store) fills(ctx context.Context, resultID string) ([]compute.Fill, error) {
	query, args, err := s.sq.
		Select("time", "side", "price", "quantity", "pnl").
		From("fills").
		Where(squirrel.Eq{"result_id": resultID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to build fill query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var fills []compute.Fill

	for rows.Next() {
		var f compute.Fill

		var side, price, quantity, pnl string

		if err := rows.Scan(&f.Time, &side, &price, &quantity, &pnl); err != nil {
			return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to scan fill", err)
		}

		f.Side = compute.Side(side)

		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "invalid fill price", err)
		}

		if f.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "invalid fill quantity", err)
		}

		if f.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "invalid fill pnl", err)
		}

		fills = append(fills, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "error iterating fills", err)
	}

	return fills, nil
}

func scanResult(rows *sql.Rows) (*compute.Result, error) {
	var r compute.Result

	var timeframe, degraded string

	var capital, equity, totalReturn, maxDrawdown string

	err := rows.Scan(
		&r.ID,
		&r.RunID,
		&r.Strategy,
		&r.Symbol,
		&timeframe,
		&r.Start,
		&r.End,
		&capital,
		&equity,
		&totalReturn,
		&maxDrawdown,
		&r.WinRate,
		&degraded,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to scan result", err)
	}

	r.Timeframe = types.Timeframe(timeframe)
	r.Degraded = splitKinds(degraded)

	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.Capital, capital},
		{&r.FinalEquity, equity},
		{&r.TotalReturn, totalReturn},
		{&r.MaxDrawdown, maxDrawdown},
	}

	for _, a := range amounts {
		d, err := decimal.NewFromString(a.src)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeResultStoreFailed, err, "invalid amount %q in result %s", a.src, r.ID)
		}

		*a.dst = d
	}

	return &r, nil
}

// Export writes both tables as Parquet files into dir.
func (s *Store) Export(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to create directory", err)
	}

	for _, table := range []string{"results", "fills"} {
		path := filepath.Join(dir, table+".parquet")

		_, err := s.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, strings.ReplaceAll(path, "'", "''")))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeResultStoreFailed, err, "failed to export %s to Parquet", table)
		}
	}

	s.logger.Info("Exported results to Parquet", zap.String("dir", dir))

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			strategy TEXT,
			symbol TEXT,
			timeframe TEXT,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			capital TEXT,
			final_equity TEXT,
			total_return TEXT,
			max_drawdown TEXT,
			win_rate DOUBLE,
			degraded TEXT,
			created_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to create results table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			result_id TEXT,
			seq INTEGER,
			time TIMESTAMP,
			side TEXT,
			price TEXT,
			quantity TEXT,
			pnl TEXT,
			PRIMARY KEY (result_id, seq)
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to create fills table", err)
	}

	return nil
}

func joinKinds(kinds []types.DataKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}

	return strings.Join(parts, ",")
}

func splitKinds(s string) []types.DataKind {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	kinds := make([]types.DataKind, len(parts))

	for i, p := range parts {
		kinds[i] = types.DataKind(p)
	}

	return kinds
}
