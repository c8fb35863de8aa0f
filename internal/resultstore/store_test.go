package resultstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
	start time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := Open("", nil)
	suite.Require().NoError(err)

	suite.store = store
	suite.start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *StoreTestSuite) result(id, symbol string, created time.Time) *compute.Result {
	return &compute.Result{
		ID:          id,
		RunID:       "run-" + id,
		Strategy:    "sma-cross(2,3)",
		Symbol:      symbol,
		Timeframe:   types.Timeframe1h,
		Start:       suite.start,
		End:         suite.start.Add(24 * time.Hour),
		Capital:     decimal.NewFromInt(1000),
		FinalEquity: decimal.RequireFromString("898.2009"),
		TotalReturn: decimal.RequireFromString("-0.1017991"),
		MaxDrawdown: decimal.RequireFromString("0.25"),
		WinRate:     0.5,
		Fills: []compute.Fill{
			{Time: suite.start.Add(5 * time.Hour), Side: compute.SideBuy, Price: decimal.NewFromInt(10), Quantity: decimal.RequireFromString("99.9"), PnL: decimal.Zero},
			{Time: suite.start.Add(8 * time.Hour), Side: compute.SideSell, Price: decimal.NewFromInt(9), Quantity: decimal.RequireFromString("99.9"), PnL: decimal.RequireFromString("-101.7991")},
		},
		Degraded:  []types.DataKind{types.DataKindFunding, types.DataKindTrades},
		CreatedAt: created,
	}
}

func (suite *StoreTestSuite) TestSaveAndGet() {
	ctx := context.Background()
	saved := suite.result("a", "BTCUSDT", suite.start.Add(48*time.Hour))
	suite.Require().NoError(suite.store.Save(ctx, saved))

	got, err := suite.store.Get(ctx, "a")
	suite.Require().NoError(err)
	suite.Require().True(got.IsSome())

	r := got.Unwrap()
	suite.Equal("run-a", r.RunID)
	suite.Equal("sma-cross(2,3)", r.Strategy)
	suite.Equal(types.Timeframe1h, r.Timeframe)
	suite.True(r.Start.Equal(saved.Start))
	suite.True(r.CreatedAt.Equal(saved.CreatedAt))
	suite.True(r.FinalEquity.Equal(saved.FinalEquity))
	suite.True(r.TotalReturn.Equal(saved.TotalReturn))
	suite.True(r.MaxDrawdown.Equal(saved.MaxDrawdown))
	suite.Equal(0.5, r.WinRate)
	suite.Equal(saved.Degraded, r.Degraded)

	suite.Require().Len(r.Fills, 2)
	suite.Equal(compute.SideBuy, r.Fills[0].Side)
	suite.True(r.Fills[0].Quantity.Equal(decimal.RequireFromString("99.9")))
	suite.Equal(compute.SideSell, r.Fills[1].Side)
	suite.True(r.Fills[1].PnL.Equal(decimal.RequireFromString("-101.7991")))
}

func (suite *StoreTestSuite) TestGetMissing() {
	got, err := suite.store.Get(context.Background(), "missing")
	suite.Require().NoError(err)
	suite.True(got.IsNone())
}

func (suite *StoreTestSuite) TestResultWithoutFills() {
	ctx := context.Background()
	r := suite.result("a", "BTCUSDT", suite.start)
	r.Fills = nil
	r.Degraded = nil
	suite.Require().NoError(suite.store.Save(ctx, r))

	got, err := suite.store.Get(ctx, "a")
	suite.Require().NoError(err)
	suite.Empty(got.Unwrap().Fills)
	suite.Empty(got.Unwrap().Degraded)
}

func (suite *StoreTestSuite) TestListNewestFirst() {
	ctx := context.Background()
	suite.Require().NoError(suite.store.Save(ctx, suite.result("old", "BTCUSDT", suite.start)))
	suite.Require().NoError(suite.store.Save(ctx, suite.result("new", "BTCUSDT", suite.start.Add(time.Hour))))
	suite.Require().NoError(suite.store.Save(ctx, suite.result("eth", "ETHUSDT", suite.start)))

	results, err := suite.store.List(ctx, "BTCUSDT")
	suite.Require().NoError(err)
	suite.Require().Len(results, 2)
	suite.Equal("new", results[0].ID)
	suite.Equal("old", results[1].ID)
	suite.Len(results[0].Fills, 2)

	all, err := suite.store.List(ctx, "")
	suite.Require().NoError(err)
	suite.Len(all, 3)
}

func (suite *StoreTestSuite) TestDuplicateIDFails() {
	ctx := context.Background()
	suite.Require().NoError(suite.store.Save(ctx, suite.result("a", "BTCUSDT", suite.start)))

	err := suite.store.Save(ctx, suite.result("a", "BTCUSDT", suite.start))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeResultStoreFailed))

	results, err := suite.store.List(ctx, "")
	suite.Require().NoError(err)
	suite.Len(results, 1)
	suite.Len(results[0].Fills, 2, "the failed save must not leave fills behind")
}

func (suite *StoreTestSuite) TestInvalidResult() {
	err := suite.store.Save(context.Background(), nil)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	err = suite.store.Save(context.Background(), &compute.Result{})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *StoreTestSuite) TestFileDatabasePersists() {
	path := filepath.Join(suite.T().TempDir(), "nested", "results.duckdb")

	store, err := Open(path, nil)
	suite.Require().NoError(err)
	suite.Require().NoError(store.Save(context.Background(), suite.result("a", "BTCUSDT", suite.start)))
	suite.Require().NoError(store.Close())

	store, err = Open(path, nil)
	suite.Require().NoError(err)
	defer store.Close()

	got, err := store.Get(context.Background(), "a")
	suite.Require().NoError(err)
	suite.True(got.IsSome())
}

func (suite *StoreTestSuite) TestExportParquet() {
	suite.Require().NoError(suite.store.Save(context.Background(), suite.result("a", "BTCUSDT", suite.start)))

	dir := filepath.Join(suite.T().TempDir(), "export")
	suite.Require().NoError(suite.store.Export(dir))

	for _, name := range []string{"results.parquet", "fills.parquet"} {
		info, err := os.Stat(filepath.Join(dir, name))
		suite.Require().NoError(err)
		suite.Positive(info.Size())
	}
}
