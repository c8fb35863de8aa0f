package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SourceTestSuite struct {
	suite.Suite
	start time.Time
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (suite *SourceTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *SourceTestSuite) TestSyntheticCandlesAreDeterministic() {
	s := NewSynthetic(DefaultSyntheticConfig())
	q := Query{Symbol: "BTCUSDT", Timeframe: types.Timeframe1h, Start: suite.start, End: suite.start.Add(48 * time.Hour)}

	first, err := s.Candles(context.Background(), q)
	suite.Require().NoError(err)
	second, err := s.Candles(context.Background(), q)
	suite.Require().NoError(err)

	suite.Len(first, 48)
	suite.Equal(first, second)

	for i, c := range first {
		suite.Equal(suite.start.Add(time.Duration(i)*time.Hour), c.Time)
		suite.GreaterOrEqual(c.High, c.Low)
		suite.GreaterOrEqual(c.High, c.Open)
		suite.GreaterOrEqual(c.High, c.Close)
	}
}

func (suite *SourceTestSuite) TestSyntheticTradesAndFunding() {
	s := NewSynthetic(DefaultSyntheticConfig())
	q := Query{Symbol: "BTCUSDT", Start: suite.start, End: suite.start.Add(24 * time.Hour)}

	trades, err := s.Trades(context.Background(), q)
	suite.Require().NoError(err)
	suite.Len(trades, 24*60*20)

	for i := 1; i < len(trades); i++ {
		suite.True(trades[i].Time.After(trades[i-1].Time))
	}

	funding, err := s.Funding(context.Background(), q)
	suite.Require().NoError(err)
	suite.Len(funding, 3)
	suite.Equal(suite.start.Add(8*time.Hour), funding[1].Time)
}

func (suite *SourceTestSuite) TestSyntheticReportsProgress() {
	s := NewSynthetic(DefaultSyntheticConfig())

	var last float64
	q := Query{
		Symbol:    "ETHUSDT",
		Timeframe: types.Timeframe1m,
		Start:     suite.start,
		End:       suite.start.Add(time.Hour),
		Progress:  func(p float64) { last = p },
	}

	_, err := s.Candles(context.Background(), q)
	suite.Require().NoError(err)
	suite.Equal(100.0, last)
}

func (suite *SourceTestSuite) TestSetSupports() {
	set := NewSyntheticSet(DefaultSyntheticConfig())
	for _, kind := range types.AllDataKinds {
		suite.True(set.Supports(kind))
	}

	empty := Set{}
	suite.False(empty.Supports(types.DataKindCandles))
	suite.True(errors.HasCode(Unavailable(types.DataKindTrades), errors.ErrCodeDataSourceUnavailable))
}

func (suite *SourceTestSuite) TestParquetResamplesToTimeframe() {
	dir := suite.T().TempDir()
	path := filepath.Join(dir, "btc.parquet")

	db, err := sql.Open("duckdb", ":memory:")
	suite.Require().NoError(err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE bars (time TIMESTAMP, symbol VARCHAR, open DOUBLE, high DOUBLE, low DOUBLE, close DOUBLE, volume DOUBLE)`)
	suite.Require().NoError(err)

	for i := 0; i < 120; i++ {
		_, err = db.Exec(`INSERT INTO bars VALUES (?, ?, ?, ?, ?, ?, ?)`,
			suite.start.Add(time.Duration(i)*time.Minute), "BTCUSDT",
			float64(i), float64(i)+0.5, float64(i)-0.5, float64(i)+0.25, 1.0)
		suite.Require().NoError(err)
	}

	_, err = db.Exec(fmt.Sprintf("COPY bars TO '%s' (FORMAT PARQUET)", path))
	suite.Require().NoError(err)

	src, err := NewParquet(path, nil)
	suite.Require().NoError(err)
	defer src.Close()

	candles, err := src.Candles(context.Background(), Query{
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe1h,
		Start:     suite.start,
		End:       suite.start.Add(2 * time.Hour),
	})
	suite.Require().NoError(err)
	suite.Require().Len(candles, 2)

	suite.Equal(suite.start, candles[0].Time)
	suite.Equal(0.0, candles[0].Open)
	suite.Equal(59.5, candles[0].High)
	suite.Equal(-0.5, candles[0].Low)
	suite.Equal(59.25, candles[0].Close)
	suite.Equal(60.0, candles[0].Volume)
	suite.Equal(60.0, candles[1].Open)

	other, err := src.Candles(context.Background(), Query{
		Symbol:    "ETHUSDT",
		Timeframe: types.Timeframe1h,
		Start:     suite.start,
		End:       suite.start.Add(2 * time.Hour),
	})
	suite.Require().NoError(err)
	suite.Empty(other)
}

func (suite *SourceTestSuite) TestBinanceCandlesAndOpenInterest() {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		suite.Equal("BTCUSDT", r.URL.Query().Get("symbol"))
		suite.Equal("1h", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[[%d,"100.0","110.0","90.0","105.0","12.5",%d,"0",10,"0","0","0"],[%d,"105.0","120.0","100.0","115.0","7.5",%d,"0",10,"0","0","0"]]`,
			suite.start.UnixMilli(), suite.start.Add(time.Hour).UnixMilli()-1,
			suite.start.Add(time.Hour).UnixMilli(), suite.start.Add(2*time.Hour).UnixMilli()-1)
	})
	mux.HandleFunc("/futures/data/openInterestHist", func(w http.ResponseWriter, r *http.Request) {
		suite.Equal("5m", r.URL.Query().Get("period"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"symbol":"BTCUSDT","sumOpenInterest":"20403.5","sumOpenInterestValue":"150570784.25","timestamp":%d}]`,
			suite.start.UnixMilli())
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	src := NewBinance(server.URL, nil)
	q := Query{Symbol: "BTCUSDT", Timeframe: types.Timeframe1h, Start: suite.start, End: suite.start.Add(2 * time.Hour)}

	candles, err := src.Candles(context.Background(), q)
	suite.Require().NoError(err)
	suite.Require().Len(candles, 2)
	suite.Equal(105.0, candles[0].Close)
	suite.Equal(12.5, candles[0].Volume)
	suite.Equal(suite.start.Add(time.Hour), candles[1].Time)

	oi, err := src.OpenInterest(context.Background(), q)
	suite.Require().NoError(err)
	suite.Require().Len(oi, 1)
	suite.Equal(20403.5, oi[0].OpenInterest)
	suite.Equal(150570784.25, oi[0].OpenInterestValue)
}

func (suite *SourceTestSuite) TestBinanceFailureIsCoded() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"boom"}`)
	}))
	defer server.Close()

	src := NewBinance(server.URL, nil)
	_, err := src.Funding(context.Background(), Query{Symbol: "BTCUSDT", Start: suite.start, End: suite.start.Add(time.Hour)})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeHistoricalDataFailed))
}

func (suite *SourceTestSuite) TestPolygonRequiresKey() {
	_, err := NewPolygon("", nil)
	suite.True(errors.HasCode(err, errors.ErrCodeMissingParameter))
}
