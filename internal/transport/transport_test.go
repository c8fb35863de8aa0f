package transport

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/mocks"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type TransportTestSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	stream *mocks.MockStreamService
	pages  *mocks.MockPageService
	start  time.Time
	spec   dataservice.PageSpec
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (suite *TransportTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.stream = mocks.NewMockStreamService(suite.ctrl)
	suite.pages = mocks.NewMockPageService(suite.ctrl)
	suite.start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	suite.spec = dataservice.PageSpec{
		Kind:   types.DataKindTrades,
		Symbol: "BTCUSDT",
		Start:  suite.start,
		End:    suite.start.Add(time.Hour),
	}
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *TransportTestSuite) trades(from, n int) []types.TickTrade {
	out := make([]types.TickTrade, n)
	for i := range out {
		out[i] = types.TickTrade{
			ID:       int64(from + i),
			Time:     suite.start.Add(time.Duration(from+i) * time.Second),
			Price:    100 + float64(i),
			Quantity: 1,
		}
	}

	return out
}

func (suite *TransportTestSuite) encode(records []types.TickTrade) []byte {
	payload, err := dataservice.TradeCodec().Encode(records)
	suite.Require().NoError(err)

	return payload
}

// streamWith makes Subscribe replay events on a separate goroutine, as the
// real client does, then end the subscription.
func (suite *TransportTestSuite) streamWith(events func(cb dataservice.StreamCallback)) *fakeSubscription {
	sub := newFakeSubscription()

	suite.stream.EXPECT().
		Subscribe(gomock.Any(), suite.spec, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ dataservice.PageSpec, cb dataservice.StreamCallback) (dataservice.Subscription, error) {
			go func() {
				defer sub.finish()
				events(cb)
			}()

			return sub, nil
		})

	return sub
}

func (suite *TransportTestSuite) TestPushSingleFrame() {
	records := suite.trades(0, 10)
	payload := suite.encode(records)

	suite.streamWith(func(cb dataservice.StreamCallback) {
		cb.OnStateChanged(types.PageStateLoading, 40)
		cb.OnStateChanged(types.PageStateReady, 100)
		cb.OnData(payload, len(records))
	})

	var progress []float64

	var mu sync.Mutex

	push := NewPush(suite.stream, dataservice.TradeCodec())
	result, err := push.Fetch(context.Background(), suite.spec, func(p float64) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	})

	suite.Require().NoError(err)
	suite.Equal(records, result.Records)
	suite.False(result.Partial)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]float64{20, 50}, progress)
}

func (suite *TransportTestSuite) TestPushOutOfOrderChunksWithCorruptChunk() {
	chunks := [][]types.TickTrade{suite.trades(0, 5), suite.trades(5, 5), suite.trades(10, 5), suite.trades(15, 5)}

	// A flipped byte inside the schema message turns a length field into
	// garbage; the chunk must be dropped without Arrow acting on it.
	corrupt := suite.encode(chunks[1])
	corrupt[14] = 0xff

	suite.streamWith(func(cb dataservice.StreamCallback) {
		cb.OnChunk(suite.encode(chunks[2]), 2, 4)
		cb.OnChunk(corrupt, 1, 4)
		cb.OnChunk(suite.encode(chunks[3]), 3, 4)
		cb.OnChunk(suite.encode(chunks[0]), 0, 4)
	})

	counter := &RecordCounter{}
	push := NewPush(suite.stream, dataservice.TradeCodec(), WithRecordCounter(counter))

	result, err := push.Fetch(context.Background(), suite.spec, nil)
	suite.Require().NoError(err)
	suite.True(result.Partial)
	suite.Equal(1, result.DroppedChunks)

	expected := append(append(append([]types.TickTrade{}, chunks[0]...), chunks[2]...), chunks[3]...)
	suite.Equal(expected, result.Records)
	suite.Equal(int64(0), counter.Load(), "in-flight records are returned once the transfer ends")
}

func (suite *TransportTestSuite) TestAccumulatorDecodesOnArrival() {
	counter := &RecordCounter{}
	acc := NewAccumulator(dataservice.TradeCodec(), counter, nil)

	acc.AddChunk(suite.encode(suite.trades(5, 5)), 1, 3)
	suite.Equal(int64(5), counter.Load())
	suite.InDelta(1.0/3, acc.Received(), 1e-9)

	// duplicate delivery is ignored
	acc.AddChunk(suite.encode(suite.trades(5, 5)), 1, 3)
	suite.Equal(int64(5), counter.Load())

	acc.AddChunk(suite.encode(suite.trades(0, 5)), 0, 3)
	suite.Equal(int64(10), counter.Load())

	select {
	case <-acc.Done():
		suite.Fail("transfer must not complete before the last chunk")
	default:
	}

	acc.AddChunk(suite.encode(suite.trades(10, 2)), 2, 3)
	<-acc.Done()

	result, err := acc.Result()
	suite.Require().NoError(err)
	suite.Len(result.Records, 12)

	for i, r := range result.Records {
		suite.Equal(int64(i), r.ID)
	}

	acc.Release()
	suite.Equal(int64(0), counter.Load())
}

func (suite *TransportTestSuite) TestAccumulatorDropsChunkWithoutPayload() {
	counter := &RecordCounter{}
	acc := NewAccumulator(dataservice.TradeCodec(), counter, nil)

	acc.AddChunk(nil, 1, 2)
	acc.AddChunk(suite.encode(suite.trades(0, 3)), 0, 2)
	<-acc.Done()

	result, err := acc.Result()
	suite.Require().NoError(err)
	suite.True(result.Partial)
	suite.Equal(1, result.DroppedChunks)
	suite.Len(result.Records, 3)
	suite.Equal(int64(3), counter.Load())

	acc.Release()
	suite.Equal(int64(0), counter.Load())
}

func (suite *TransportTestSuite) TestAccumulatorRejectsChangingTotal() {
	acc := NewAccumulator(dataservice.TradeCodec(), nil, nil)

	acc.AddChunk(suite.encode(suite.trades(0, 1)), 0, 3)
	acc.AddChunk(suite.encode(suite.trades(1, 1)), 1, 4)
	<-acc.Done()

	_, err := acc.Result()
	suite.True(errors.HasCode(err, errors.ErrCodeFrameInvalid))
}

func (suite *TransportTestSuite) TestPushServiceError() {
	suite.streamWith(func(cb dataservice.StreamCallback) {
		cb.OnStateChanged(types.PageStateLoading, 0)
		cb.OnError("upstream exploded")
	})

	_, err := NewPush(suite.stream, dataservice.TradeCodec()).Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportFailed))
	suite.Contains(err.Error(), "upstream exploded")
}

func (suite *TransportTestSuite) TestPushStreamEndsEarly() {
	suite.streamWith(func(cb dataservice.StreamCallback) {
		cb.OnChunk(suite.encode(suite.trades(0, 1)), 0, 2)
	})

	_, err := NewPush(suite.stream, dataservice.TradeCodec()).Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportFailed))
}

func (suite *TransportTestSuite) TestPushTimeout() {
	sub := newFakeSubscription()
	suite.stream.EXPECT().Subscribe(gomock.Any(), suite.spec, gomock.Any()).Return(sub, nil)

	push := NewPush(suite.stream, dataservice.TradeCodec(), WithPushTimeout(30*time.Millisecond))

	_, err := push.Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportTimeout))
	suite.True(sub.cancelled.Load(), "subscription must be cancelled on timeout")
}

func (suite *TransportTestSuite) TestPushSubscribeFailure() {
	suite.stream.EXPECT().Subscribe(gomock.Any(), suite.spec, gomock.Any()).Return(nil, context.DeadlineExceeded)

	_, err := NewPush(suite.stream, dataservice.TradeCodec()).Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportUnavailable))
}

func (suite *TransportTestSuite) TestPullPollsUntilReady() {
	records := suite.trades(0, 7)
	frame := dataservice.Frame{Kind: types.DataKindTrades, Count: len(records), Payload: suite.encode(records)}

	gomock.InOrder(
		suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil),
		suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateLoading, Progress: 30}, nil),
		suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateLoading, Progress: 60}, nil),
		suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateReady, Progress: 100, RecordCount: 7}, nil),
		suite.pages.EXPECT().Fetch(gomock.Any(), "page-1").Return(frame.Marshal(), nil),
	)

	var progress []float64

	pull := NewPull(suite.pages, dataservice.TradeCodec(), PullConfig{Interval: time.Millisecond}, nil)
	result, err := pull.Fetch(context.Background(), suite.spec, func(p float64) { progress = append(progress, p) })

	suite.Require().NoError(err)
	suite.Equal(records, result.Records)
	suite.Equal([]float64{30, 60, 100}, progress)
}

func (suite *TransportTestSuite) TestPullServerError() {
	suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil)
	suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateError, Error: "no data"}, nil)

	pull := NewPull(suite.pages, dataservice.TradeCodec(), PullConfig{Interval: time.Millisecond}, nil)

	_, err := pull.Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodePageFailed))
	suite.Contains(err.Error(), "no data")
}

func (suite *TransportTestSuite) TestPullTimeout() {
	suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil)
	suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateLoading}, nil).AnyTimes()

	pull := NewPull(suite.pages, dataservice.TradeCodec(), PullConfig{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond}, nil)

	_, err := pull.Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodePollTimeout))
}

func (suite *TransportTestSuite) TestPullRejectsForeignFrame() {
	frame := dataservice.Frame{Kind: types.DataKindCandles, Payload: []byte{}}

	suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil)
	suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateReady}, nil)
	suite.pages.EXPECT().Fetch(gomock.Any(), "page-1").Return(frame.Marshal(), nil)

	pull := NewPull(suite.pages, dataservice.TradeCodec(), PullConfig{Interval: time.Millisecond}, nil)

	_, err := pull.Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeFrameInvalid))
}

func (suite *TransportTestSuite) TestPullRejectsCorruptedFrame() {
	payload := suite.encode(suite.trades(0, 20))
	raw := dataservice.Frame{Kind: types.DataKindTrades, Count: 20, Payload: payload}.Marshal()

	at := bytes.Index(raw, payload)
	suite.Require().GreaterOrEqual(at, 0)
	raw[at+len(payload)/2] ^= 0xff

	suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil)
	suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateReady}, nil)
	suite.pages.EXPECT().Fetch(gomock.Any(), "page-1").Return(raw, nil)

	pull := NewPull(suite.pages, dataservice.TradeCodec(), PullConfig{Interval: time.Millisecond}, nil)

	_, err := pull.Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeChunkDecodeFailed))
}

func (suite *TransportTestSuite) TestFallbackUsesPullOnceOnPushFailure() {
	var pushCalls, pullCalls atomic.Int32

	push := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		pushCalls.Add(1)

		return Result[types.TickTrade]{}, errors.New(errors.ErrCodeTransportUnavailable, "no stream")
	})
	pull := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		pullCalls.Add(1)

		return Result[types.TickTrade]{}, errors.New(errors.ErrCodePollTimeout, "still loading")
	})

	_, err := NewFallback[types.TickTrade](push, pull, nil).Fetch(context.Background(), suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodePollTimeout), "pull failures are terminal")
	suite.Equal(int32(1), pushCalls.Load())
	suite.Equal(int32(1), pullCalls.Load())
}

func (suite *TransportTestSuite) TestFallbackRecoversFromPushTimeout() {
	records := suite.trades(0, 4)

	var pullCalls atomic.Int32

	push := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		return Result[types.TickTrade]{}, errors.New(errors.ErrCodeTransportTimeout, "too slow")
	})
	pull := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		pullCalls.Add(1)

		return Result[types.TickTrade]{Records: records}, nil
	})

	result, err := NewFallback[types.TickTrade](push, pull, nil).Fetch(context.Background(), suite.spec, nil)
	suite.Require().NoError(err)
	suite.Equal(records, result.Records)
	suite.Equal(int32(1), pullCalls.Load())
}

func (suite *TransportTestSuite) TestFallbackStopsOnCancellation() {
	ctx, cancel := context.WithCancel(context.Background())

	push := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		cancel()

		return Result[types.TickTrade]{}, errors.New(errors.ErrCodeTransportTimeout, "cancelled while waiting")
	})
	pull := StrategyFunc[types.TickTrade](func(context.Context, dataservice.PageSpec, ProgressFunc) (Result[types.TickTrade], error) {
		suite.Fail("pull must not run once the load was cancelled")

		return Result[types.TickTrade]{}, nil
	})

	_, err := NewFallback[types.TickTrade](push, pull, nil).Fetch(ctx, suite.spec, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeTransportTimeout))
}

func (suite *TransportTestSuite) TestStandardStrategyFallsBackToPull() {
	records := suite.trades(0, 3)
	frame := dataservice.Frame{Kind: types.DataKindTrades, Count: len(records), Payload: suite.encode(records)}

	suite.stream.EXPECT().Subscribe(gomock.Any(), suite.spec, gomock.Any()).Return(nil, errors.New(errors.ErrCodeTransportUnavailable, "refused"))
	suite.pages.EXPECT().RequestPage(gomock.Any(), suite.spec).Return("page-1", nil)
	suite.pages.EXPECT().GetPageStatus(gomock.Any(), "page-1").Return(dataservice.Status{State: types.PageStateReady, Progress: 100}, nil)
	suite.pages.EXPECT().Fetch(gomock.Any(), "page-1").Return(frame.Marshal(), nil)

	strategy := New(suite.stream, suite.pages, dataservice.TradeCodec(), Config{PollInterval: time.Millisecond}, nil, nil)

	result, err := strategy.Fetch(context.Background(), suite.spec, nil)
	suite.Require().NoError(err)
	suite.Equal(records, result.Records)
}

func (suite *TransportTestSuite) TestConfigPushTimeout() {
	cfg := Config{PushTimeouts: map[types.DataKind]time.Duration{types.DataKindCandles: time.Minute}}

	suite.Equal(time.Minute, cfg.PushTimeout(types.DataKindCandles))
	suite.Equal(10*time.Minute, cfg.PushTimeout(types.DataKindTrades))
	suite.Equal(5*time.Minute, cfg.PushTimeout(types.DataKindFunding))
}

type fakeSubscription struct {
	once      sync.Once
	done      chan struct{}
	cancelled atomic.Bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{done: make(chan struct{})}
}

func (s *fakeSubscription) Cancel() {
	s.cancelled.Store(true)
	s.finish()
}

func (s *fakeSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *fakeSubscription) finish() {
	s.once.Do(func() { close(s.done) })
}
