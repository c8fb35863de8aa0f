package server

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice/source"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ServerTestSuite struct {
	suite.Suite
	server *Server
	http   *httptest.Server
	client *dataservice.Client
	start  time.Time
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	suite.server = New(Config{ChunkSize: 100}, source.NewSyntheticSet(source.DefaultSyntheticConfig()), nil)
	suite.http = httptest.NewServer(suite.server.Handler())
	suite.client = dataservice.NewClient(dataservice.ClientConfig{BaseURL: suite.http.URL, Timeout: 5 * time.Second}, nil)
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.http.Close()
	suite.Require().NoError(suite.server.Stop())
}

func (suite *ServerTestSuite) candleSpec(hours int) dataservice.PageSpec {
	return dataservice.PageSpec{
		Kind:      types.DataKindCandles,
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe1h,
		Start:     suite.start,
		End:       suite.start.Add(time.Duration(hours) * time.Hour),
	}
}

func (suite *ServerTestSuite) waitReady(key string) dataservice.Status {
	var status dataservice.Status

	suite.Require().Eventually(func() bool {
		var err error
		status, err = suite.client.GetPageStatus(context.Background(), key)

		return err == nil && status.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	return status
}

func (suite *ServerTestSuite) TestRequestPollFetch() {
	ctx := context.Background()

	key, err := suite.client.RequestPage(ctx, suite.candleSpec(24))
	suite.Require().NoError(err)
	suite.NotEmpty(key)

	again, err := suite.client.RequestPage(ctx, suite.candleSpec(24))
	suite.Require().NoError(err)
	suite.Equal(key, again, "same spec must map to the same page")
	suite.Equal(1, suite.server.PageCount())

	status := suite.waitReady(key)
	suite.Equal(types.PageStateReady, status.State)
	suite.Equal(100.0, status.Progress)
	suite.Equal(24, status.RecordCount)

	raw, err := suite.client.Fetch(ctx, key)
	suite.Require().NoError(err)

	frame, err := dataservice.UnmarshalFrame(raw)
	suite.Require().NoError(err)
	suite.False(frame.Chunked())
	suite.Equal(24, frame.Count)

	candles, err := dataservice.CandleCodec().Decode(frame.Payload)
	suite.Require().NoError(err)
	suite.Len(candles, 24)
	suite.Equal(suite.start, candles[0].Time)
}

func (suite *ServerTestSuite) TestUnknownPage() {
	_, err := suite.client.GetPageStatus(context.Background(), "nope")
	suite.True(errors.HasCode(err, errors.ErrCodePageNotFound))

	_, err = suite.client.Fetch(context.Background(), "nope")
	suite.True(errors.HasCode(err, errors.ErrCodePageNotFound))
}

func (suite *ServerTestSuite) TestInvalidSpecIsRejected() {
	spec := suite.candleSpec(1)
	spec.End = spec.Start.Add(-time.Hour)

	_, err := suite.client.RequestPage(context.Background(), spec)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportFailed))

	spec = suite.candleSpec(1)
	spec.Kind = "orderbook"
	_, err = suite.client.RequestPage(context.Background(), spec)
	suite.Require().Error(err)
}

func (suite *ServerTestSuite) TestUnsupportedKindFailsThePage() {
	srv := New(Config{}, source.Set{Candles: source.NewSynthetic(source.DefaultSyntheticConfig())}, nil)
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := dataservice.NewClient(dataservice.ClientConfig{BaseURL: ts.URL}, nil)
	spec := dataservice.PageSpec{Kind: types.DataKindTrades, Symbol: "BTCUSDT", Start: suite.start, End: suite.start.Add(time.Hour)}

	key, err := client.RequestPage(context.Background(), spec)
	suite.Require().NoError(err)

	var status dataservice.Status
	suite.Require().Eventually(func() bool {
		status, err = client.GetPageStatus(context.Background(), key)

		return err == nil && status.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	suite.Equal(types.PageStateError, status.State)
	suite.NotEmpty(status.Error)

	_, err = client.Fetch(context.Background(), key)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportFailed))
}

func (suite *ServerTestSuite) TestProtocolMismatch() {
	client := dataservice.NewClient(dataservice.ClientConfig{BaseURL: suite.http.URL, ProtocolVersion: "2.0.0"}, nil)

	_, err := client.RequestPage(context.Background(), suite.candleSpec(1))
	suite.True(errors.HasCode(err, errors.ErrCodeProtocolMismatch))
}

func (suite *ServerTestSuite) TestStreamSingleFrame() {
	rec := newRecorder()

	sub, err := suite.client.Subscribe(context.Background(), suite.candleSpec(48), rec)
	suite.Require().NoError(err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("stream did not finish")
	}

	suite.Empty(rec.errors)
	suite.Require().Len(rec.data, 1)
	suite.Equal(48, rec.counts[0])
	suite.Empty(rec.chunks)
	suite.Equal(types.PageStateReady, rec.states[len(rec.states)-1])
}

func (suite *ServerTestSuite) TestStreamChunks() {
	rec := newRecorder()

	// 250 hourly bars with a chunk size of 100
	sub, err := suite.client.Subscribe(context.Background(), suite.candleSpec(250), rec)
	suite.Require().NoError(err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("stream did not finish")
	}

	suite.Empty(rec.errors)
	suite.Empty(rec.data)
	suite.Require().Len(rec.chunks, 3)

	total := 0

	for i, c := range rec.chunks {
		suite.Equal(i, c.index)
		suite.Equal(3, c.total)

		candles, err := dataservice.CandleCodec().Decode(c.payload)
		suite.Require().NoError(err)

		total += len(candles)
	}

	suite.Equal(250, total)
}

func (suite *ServerTestSuite) TestStreamReportsPageFailure() {
	srv := New(Config{}, source.Set{}, nil)
	defer srv.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := dataservice.NewClient(dataservice.ClientConfig{BaseURL: ts.URL}, nil)
	rec := newRecorder()

	sub, err := client.Subscribe(context.Background(), suite.candleSpec(1), rec)
	suite.Require().NoError(err)
	<-sub.Done()

	suite.Require().Len(rec.errors, 1)
	suite.Empty(rec.data)
}

func (suite *ServerTestSuite) TestSweepDropsIdlePages() {
	now := suite.start
	suite.server.now = func() time.Time { return now }

	key, err := suite.client.RequestPage(context.Background(), suite.candleSpec(2))
	suite.Require().NoError(err)
	suite.waitReady(key)

	suite.Equal(0, suite.server.Sweep())

	now = now.Add(time.Hour)
	suite.Equal(1, suite.server.Sweep())
	suite.Equal(0, suite.server.PageCount())
}

type chunk struct {
	payload []byte
	index   int
	total   int
}

type recorder struct {
	mu     sync.Mutex
	states []types.PageState
	data   [][]byte
	counts []int
	chunks []chunk
	errors []string
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) OnStateChanged(state types.PageState, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) OnData(payload []byte, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, append([]byte(nil), payload...))
	r.counts = append(r.counts, count)
}

func (r *recorder) OnChunk(payload []byte, index int, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk{payload: append([]byte(nil), payload...), index: index, total: total})
}

func (r *recorder) OnError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}
