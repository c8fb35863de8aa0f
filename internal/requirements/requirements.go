// Package requirements bundles the pages one compute request depends on and
// answers whether they are ready together.
package requirements

import (
	"sync"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// Managers holds the page manager of every kind. Kinds a deployment does not
// serve may be nil.
type Managers struct {
	Candles      *page.Manager[types.Candle]
	Trades       *page.Manager[types.TickTrade]
	Funding      *page.Manager[types.FundingRate]
	OpenInterest *page.Manager[types.OpenInterest]
	Premium      *page.Manager[types.PremiumIndex]
}

// Close closes every manager.
func (m Managers) Close() {
	if m.Candles != nil {
		m.Candles.Close()
	}

	if m.Trades != nil {
		m.Trades.Close()
	}

	if m.Funding != nil {
		m.Funding.Close()
	}

	if m.OpenInterest != nil {
		m.OpenInterest.Close()
	}

	if m.Premium != nil {
		m.Premium.Close()
	}
}

type slot struct {
	kind      types.DataKind
	necessity compute.Necessity
	source    page.Source
	sub       *page.Subscription
}

// Requirements is the set of pages one request needs. Each slot is either
// absent (not needed) or holds the page view.
type Requirements struct {
	Candles      optional.Option[*page.View[types.Candle]]
	Trades       optional.Option[*page.View[types.TickTrade]]
	Funding      optional.Option[*page.View[types.FundingRate]]
	OpenInterest optional.Option[*page.View[types.OpenInterest]]
	Premium      optional.Option[*page.View[types.PremiumIndex]]

	slots []slot
	once  sync.Once
}

func acquire[T types.Record](
	r *Requirements,
	m *page.Manager[T],
	kind types.DataKind,
	necessity compute.Necessity,
	req page.Request,
	listener page.Listener,
) (optional.Option[*page.View[T]], error) {
	if necessity == compute.NotNeeded {
		return optional.None[*page.View[T]](), nil
	}

	if m == nil {
		if necessity == compute.Required {
			return optional.None[*page.View[T]](), errors.Newf(errors.ErrCodeMissingPageManager, "no page manager for required %s data", kind)
		}

		return optional.None[*page.View[T]](), nil
	}

	view, sub, err := m.Request(req, listener)
	if err != nil {
		return optional.None[*page.View[T]](), errors.Wrapf(errors.GetCode(err), err, "failed to request %s page", kind)
	}

	r.slots = append(r.slots, slot{kind: kind, necessity: necessity, source: view, sub: sub})

	return optional.Some(view), nil
}

// Build requests every page deps needs and subscribes listener to all of
// them. Candles are always required. If any request fails, pages already
// acquired are released.
func Build(managers Managers, deps compute.Dependencies, req page.Request, listener page.Listener) (*Requirements, error) {
	r := &Requirements{
		Candles:      optional.None[*page.View[types.Candle]](),
		Trades:       optional.None[*page.View[types.TickTrade]](),
		Funding:      optional.None[*page.View[types.FundingRate]](),
		OpenInterest: optional.None[*page.View[types.OpenInterest]](),
		Premium:      optional.None[*page.View[types.PremiumIndex]](),
		slots:        nil,
		once:         sync.Once{},
	}

	var err error

	if r.Candles, err = acquire(r, managers.Candles, types.DataKindCandles, compute.Required, req, listener); err != nil {
		r.Release()

		return nil, err
	}

	if r.Trades, err = acquire(r, managers.Trades, types.DataKindTrades, deps.Trades, req, listener); err != nil {
		r.Release()

		return nil, err
	}

	if r.Funding, err = acquire(r, managers.Funding, types.DataKindFunding, deps.Funding, req, listener); err != nil {
		r.Release()

		return nil, err
	}

	if r.OpenInterest, err = acquire(r, managers.OpenInterest, types.DataKindOpenInterest, deps.OpenInterest, req, listener); err != nil {
		r.Release()

		return nil, err
	}

	if r.Premium, err = acquire(r, managers.Premium, types.DataKindPremium, deps.Premium, req, listener); err != nil {
		r.Release()

		return nil, err
	}

	return r, nil
}

func slotReady(s slot) bool {
	state := s.source.State()
	if state.HasData() {
		return true
	}

	return s.necessity == compute.Optional && state == types.PageStateError
}

// IsReady reports whether every required page has data and every optional
// page has either data or an error.
func (r *Requirements) IsReady() bool {
	if len(r.slots) == 0 {
		return false
	}

	for _, s := range r.slots {
		if !slotReady(s) {
			return false
		}
	}

	return true
}

// HasError reports whether a required page failed.
func (r *Requirements) HasError() bool {
	return r.Err() != nil
}

// Err returns the first failed required page as a dependency error, or nil.
func (r *Requirements) Err() error {
	for _, s := range r.slots {
		if s.necessity == compute.Required && s.source.State() == types.PageStateError {
			return errors.Newf(errors.ErrCodeDependencyFailed, "%s data failed to load: %s", s.kind, s.source.Err())
		}
	}

	return nil
}

// Degraded lists optional kinds that failed.
func (r *Requirements) Degraded() []types.DataKind {
	var out []types.DataKind

	for _, s := range r.slots {
		if s.necessity == compute.Optional && s.source.State() == types.PageStateError {
			out = append(out, s.kind)
		}
	}

	return out
}

// Progress is the mean progress of all pages.
func (r *Requirements) Progress() float64 {
	if len(r.slots) == 0 {
		return 0
	}

	total := 0.0

	for _, s := range r.slots {
		if s.source.State() == types.PageStateError {
			total += 100

			continue
		}

		total += s.source.Progress()
	}

	return total / float64(len(r.slots))
}

// Kinds lists the kinds present in the bundle.
func (r *Requirements) Kinds() []types.DataKind {
	out := make([]types.DataKind, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.kind)
	}

	return out
}

// Owns reports whether key is one of the bundle's pages.
func (r *Requirements) Owns(key page.Key) bool {
	id := key.String()

	for _, s := range r.slots {
		if s.source.Key().String() == id {
			return true
		}
	}

	return false
}

// Inputs snapshots the data of every page. Only meaningful once IsReady.
func (r *Requirements) Inputs() compute.Inputs {
	return compute.Inputs{
		Candles:      data(r.Candles),
		Trades:       data(r.Trades),
		Funding:      data(r.Funding),
		OpenInterest: data(r.OpenInterest),
		Premium:      data(r.Premium),
		Degraded:     r.Degraded(),
	}
}

func data[T types.Record](v optional.Option[*page.View[T]]) []T {
	if v.IsNone() {
		return nil
	}

	return v.Unwrap().Data()
}

// Release drops every page reference. Idempotent.
func (r *Requirements) Release() {
	r.once.Do(func() {
		for _, s := range r.slots {
			s.sub.Release()
		}
	})
}
