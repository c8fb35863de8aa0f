package server

import (
	"context"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice/source"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// dataset is a materialized page's records behind a kind-independent view.
type dataset interface {
	Len() int
	// Encode returns records [from, to) as one Arrow payload.
	Encode(from, to int) ([]byte, error)
}

type typedDataset[T types.Record] struct {
	codec   dataservice.Codec[T]
	records []T
}

func (d typedDataset[T]) Len() int {
	return len(d.records)
}

func (d typedDataset[T]) Encode(from, to int) ([]byte, error) {
	return d.codec.Encode(d.records[from:to])
}

// materializedPage is the server-side counterpart of a client page. Watchers
// wait on changed, which is closed and replaced on every update.
type materializedPage struct {
	key  string
	spec dataservice.PageSpec

	mu         sync.Mutex
	state      types.PageState
	progress   float64
	err        string
	data       dataset
	changed    chan struct{}
	lastAccess time.Time
}

func newMaterializedPage(key string, spec dataservice.PageSpec, now time.Time) *materializedPage {
	return &materializedPage{
		key:        key,
		spec:       spec,
		mu:         sync.Mutex{},
		state:      types.PageStateLoading,
		progress:   0,
		err:        "",
		data:       nil,
		changed:    make(chan struct{}),
		lastAccess: now,
	}
}

type pageSnapshot struct {
	status  dataservice.Status
	data    dataset
	changed <-chan struct{}
}

func (p *materializedPage) snapshot(now time.Time) pageSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastAccess = now

	count := 0
	if p.data != nil {
		count = p.data.Len()
	}

	return pageSnapshot{
		status: dataservice.Status{
			State:       p.state,
			Progress:    p.progress,
			Error:       p.err,
			RecordCount: count,
		},
		data:    p.data,
		changed: p.changed,
	}
}

func (p *materializedPage) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastAccess
}

func (p *materializedPage) busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state == types.PageStateLoading
}

func (p *materializedPage) update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn()
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *materializedPage) setProgress(pct float64) {
	p.update(func() {
		if pct > p.progress && pct < 100 {
			p.progress = pct
		}
	})
}

func (p *materializedPage) finish(data dataset, err error) {
	p.update(func() {
		if err != nil {
			p.state = types.PageStateError
			p.err = errors.Message(err)

			return
		}

		p.state = types.PageStateReady
		p.progress = 100
		p.data = data
	})
}

// load pulls the page's records from the source that serves its kind.
func load(ctx context.Context, sources source.Set, spec dataservice.PageSpec, progress source.ProgressFunc) (dataset, error) {
	q := source.Query{
		Symbol:    spec.Symbol,
		Timeframe: spec.Timeframe,
		Start:     spec.Start,
		End:       spec.End,
		Progress:  progress,
	}

	if !sources.Supports(spec.Kind) {
		return nil, source.Unavailable(spec.Kind)
	}

	switch spec.Kind {
	case types.DataKindCandles:
		records, err := sources.Candles.Candles(ctx, q)

		return typedDataset[types.Candle]{codec: dataservice.CandleCodec(), records: records}, err
	case types.DataKindTrades:
		records, err := sources.Trades.Trades(ctx, q)

		return typedDataset[types.TickTrade]{codec: dataservice.TradeCodec(), records: records}, err
	case types.DataKindFunding:
		records, err := sources.Funding.Funding(ctx, q)

		return typedDataset[types.FundingRate]{codec: dataservice.FundingCodec(), records: records}, err
	case types.DataKindOpenInterest:
		records, err := sources.OpenInterest.OpenInterest(ctx, q)

		return typedDataset[types.OpenInterest]{codec: dataservice.OpenInterestCodec(), records: records}, err
	case types.DataKindPremium:
		records, err := sources.Premium.Premium(ctx, q)

		return typedDataset[types.PremiumIndex]{codec: dataservice.PremiumCodec(), records: records}, err
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidDataKind, "unknown data kind: %q", spec.Kind)
	}
}
