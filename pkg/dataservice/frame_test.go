package dataservice

import (
	"bytes"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/zeebo/xxh3"
	"google.golang.org/protobuf/encoding/protowire"
)

type WireTestSuite struct {
	suite.Suite
	start time.Time
}

func TestWireSuite(t *testing.T) {
	suite.Run(t, new(WireTestSuite))
}

func (suite *WireTestSuite) SetupTest() {
	suite.start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *WireTestSuite) TestFrameRoundTrip() {
	frame := Frame{Kind: types.DataKindTrades, Index: 2, Total: 5, Count: 17, Payload: []byte("arrow")}

	decoded, err := UnmarshalFrame(frame.Marshal())
	suite.Require().NoError(err)

	frame.Checksum = xxh3.Hash(frame.Payload)
	suite.Equal(frame, decoded)
	suite.True(decoded.Chunked())
	suite.NoError(decoded.Verify())
}

func (suite *WireTestSuite) TestFrameChecksumCatchesCorruptPayload() {
	payload := []byte("arrow payload")
	raw := Frame{Kind: types.DataKindTrades, Index: 0, Total: 2, Count: 1, Payload: payload}.Marshal()

	at := bytes.Index(raw, payload)
	suite.Require().GreaterOrEqual(at, 0)
	raw[at] ^= 0x01

	decoded, err := UnmarshalFrame(raw)
	suite.Require().NoError(err)

	err = decoded.Verify()
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))
}

func (suite *WireTestSuite) TestFrameSkipsUnknownFields() {
	b := Frame{Kind: types.DataKindCandles, Count: 1, Payload: []byte{1}}.Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	decoded, err := UnmarshalFrame(b)
	suite.Require().NoError(err)
	suite.Equal(types.DataKindCandles, decoded.Kind)
	suite.False(decoded.Chunked())
}

func (suite *WireTestSuite) TestFrameRejectsInvalidInput() {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "truncated", raw: Frame{Kind: types.DataKindCandles, Payload: []byte("abc")}.Marshal()[:6]},
		{name: "missing kind", raw: protowire.AppendVarint(protowire.AppendTag(nil, 4, protowire.VarintType), 3)},
		{name: "index out of range", raw: Frame{Kind: types.DataKindCandles, Index: 3, Total: 3}.Marshal()},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := UnmarshalFrame(tt.raw)
			suite.Require().Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeFrameInvalid))
		})
	}
}

func (suite *WireTestSuite) TestCandleCodec() {
	candles := []types.Candle{
		{Symbol: "BTCUSDT", Time: suite.start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Symbol: "BTCUSDT", Time: suite.start.Add(time.Minute), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 20},
	}

	payload, err := CandleCodec().Encode(candles)
	suite.Require().NoError(err)

	decoded, err := CandleCodec().Decode(payload)
	suite.Require().NoError(err)
	suite.Equal(candles, decoded)
}

func (suite *WireTestSuite) TestTradeAndFundingCodecs() {
	trades := []types.TickTrade{
		{ID: 1, Time: suite.start, Price: 100, Quantity: 0.5, IsBuyerMaker: true},
		{ID: 2, Time: suite.start.Add(time.Second), Price: 101, Quantity: 1.5, IsBuyerMaker: false},
	}

	payload, err := TradeCodec().Encode(trades)
	suite.Require().NoError(err)

	decodedTrades, err := TradeCodec().Decode(payload)
	suite.Require().NoError(err)
	suite.Equal(trades, decodedTrades)

	funding := []types.FundingRate{{Time: suite.start, Rate: 0.0001}}

	payload, err = FundingCodec().Encode(funding)
	suite.Require().NoError(err)

	decodedFunding, err := FundingCodec().Decode(payload)
	suite.Require().NoError(err)
	suite.Equal(funding, decodedFunding)
}

func (suite *WireTestSuite) TestEmptyBatch() {
	payload, err := PremiumCodec().Encode(nil)
	suite.Require().NoError(err)

	decoded, err := PremiumCodec().Decode(payload)
	suite.Require().NoError(err)
	suite.Empty(decoded)
}

func (suite *WireTestSuite) TestDecodeRejectsForeignSchema() {
	payload, err := OpenInterestCodec().Encode([]types.OpenInterest{{Time: suite.start, OpenInterest: 1, OpenInterestValue: 2}})
	suite.Require().NoError(err)

	_, err = CandleCodec().Decode(payload)
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))

	_, err = CandleCodec().Decode([]byte("not arrow"))
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))
}

func (suite *WireTestSuite) TestDecodeRejectsCorruptedLengths() {
	trades := make([]types.TickTrade, 200)
	for i := range trades {
		trades[i] = types.TickTrade{ID: int64(i), Time: suite.start.Add(time.Duration(i) * time.Second), Price: 100, Quantity: 1}
	}

	codec := TradeCodec()

	payload, err := codec.Encode(trades)
	suite.Require().NoError(err)

	corrupt := bytes.Clone(payload)
	corrupt[14] = 0xff

	_, err = codec.Decode(corrupt)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))

	truncated := payload[:len(payload)/2]

	_, err = codec.Decode(truncated)
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))
}

func (suite *WireTestSuite) TestDecodeSurvivesAnySingleFlippedByte() {
	trades := make([]types.TickTrade, 50)
	for i := range trades {
		trades[i] = types.TickTrade{ID: int64(i), Time: suite.start.Add(time.Duration(i) * time.Second), Price: 100, Quantity: 1}
	}

	codec := TradeCodec()

	payload, err := codec.Encode(trades)
	suite.Require().NoError(err)

	for i := range payload {
		corrupt := bytes.Clone(payload)
		corrupt[i] ^= 0xff

		suite.NotPanics(func() {
			records, err := codec.Decode(corrupt)
			if err != nil {
				suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed), "byte %d: %v", i, err)

				return
			}

			suite.LessOrEqual(len(records), len(trades), "byte %d", i)
		}, "byte %d", i)
	}
}

func (suite *WireTestSuite) TestCacheKey() {
	spec := PageSpec{Kind: types.DataKindCandles, Symbol: "btcusdt", Timeframe: types.Timeframe1h, Start: suite.start, End: suite.start.Add(time.Hour)}
	suite.Equal("candles|BTCUSDT|1h|1709251200000|1709254800000", spec.CacheKey())

	funding := spec
	funding.Kind = types.DataKindFunding
	other := funding
	other.Timeframe = types.Timeframe4h
	suite.Equal(funding.CacheKey(), other.CacheKey())
}

func (suite *WireTestSuite) TestDeriveStreamURL() {
	suite.Equal("ws://localhost:8090/v1/stream", deriveStreamURL("http://localhost:8090"))
	suite.Equal("wss://data.example.com/v1/stream", deriveStreamURL("https://data.example.com"))
}
