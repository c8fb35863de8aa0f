package computed

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// State is the lifecycle of a computed page.
type State string

const (
	// StateEmpty waits for the candle page.
	StateEmpty     State = "empty"
	StateComputing State = "computing"
	StateReady     State = "ready"
	// StateStale means the candle data changed since the last computation.
	StateStale State = "stale"
	StateError State = "error"
)

// Key identifies a computed page: one calculator with one parameter set over
// one candle page.
type Key struct {
	Calculator types.IndicatorType
	Params     string
	Candles    page.Key
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s)@%s", k.Calculator, k.Params, k.Candles)
}

// Event is a snapshot of a computed page.
type Event struct {
	Key        Key
	State      State
	Degraded   bool
	Version    uint64
	PointCount int
	Error      string
}

// Listener receives computed page events on the notification dispatcher.
type Listener func(Event)

// SourceHash identifies the candle data a computation read: the page key, its
// version, the record count and the first and last candle.
func SourceHash(ev page.Event, candles []types.Candle) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(ev.Key.String())

	var buf [8]byte

	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	put(ev.Version)
	put(uint64(len(candles)))

	if len(candles) > 0 {
		first, last := candles[0], candles[len(candles)-1]
		put(uint64(first.Time.UnixNano()))
		put(math.Float64bits(first.Close))
		put(uint64(last.Time.UnixNano()))
		put(math.Float64bits(last.Close))
	}

	return h.Sum64()
}

// Page is one computed series. It holds its own subscriptions to the source
// pages and releases them on close; it never owns the source pages.
type Page struct {
	key     Key
	req     page.Request
	calc    indicator.Calculator
	manager *Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	candleView   *page.View[types.Candle]
	candleSub    *page.Subscription
	tradeView    optional.Option[*page.View[types.TickTrade]]
	tradeSub     *page.Subscription
	state        State
	points       []indicator.Point
	hash         uint64
	degraded     bool
	tradeVersion uint64
	computedAt   time.Time
	tradeRetried bool
	errMsg       string
	version      uint64
	running      bool
	rerun        bool
	disposed     bool
	handles      map[uint64]*Handle
}

func newPage(m *Manager, key Key, req page.Request, calc indicator.Calculator) *Page {
	ctx, cancel := context.WithCancel(context.Background())

	return &Page{
		key:          key,
		req:          req,
		calc:         calc,
		manager:      m,
		ctx:          ctx,
		cancel:       cancel,
		mu:           sync.Mutex{},
		candleView:   nil,
		candleSub:    nil,
		tradeView:    optional.None[*page.View[types.TickTrade]](),
		tradeSub:     nil,
		state:        StateEmpty,
		points:       nil,
		hash:         0,
		degraded:     false,
		tradeVersion: 0,
		computedAt:   time.Time{},
		tradeRetried: false,
		errMsg:       "",
		version:      0,
		running:      false,
		rerun:        false,
		disposed:     false,
		handles:      make(map[uint64]*Handle),
	}
}

// open subscribes to the source pages. Trades are only requested when the
// calculator needs them; failing to request them only degrades the page.
func (p *Page) open() error {
	listener := func(page.Event) { p.trigger() }

	candles, candleSub, err := p.manager.candles.Request(p.req, listener)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.candleView, p.candleSub = candles, candleSub
	p.mu.Unlock()

	if p.calc.NeedsTrades() && p.manager.trades != nil {
		trades, tradeSub, err := p.manager.trades.Request(p.req, listener)
		if err != nil {
			p.manager.logger.Warn("Trade page unavailable, computing from candles only",
				zap.String("page", p.key.String()),
				zap.Error(err),
			)
		} else {
			p.mu.Lock()
			p.tradeView, p.tradeSub = optional.Some(trades), tradeSub
			p.mu.Unlock()
		}
	}

	// Already-ready sources publish nothing new.
	p.trigger()

	return nil
}

func (p *Page) eventLocked() Event {
	return Event{
		Key:        p.key,
		State:      p.state,
		Degraded:   p.degraded,
		Version:    p.version,
		PointCount: len(p.points),
		Error:      p.errMsg,
	}
}

func (p *Page) publishLocked() {
	ev := p.eventLocked()

	for _, h := range p.handles {
		handle := h
		p.manager.dispatcher.Post(func() { handle.deliver(ev) })
	}
}

func (p *Page) setStateLocked(state State) {
	if p.state == state {
		return
	}

	p.state = state
	p.publishLocked()
}

// trigger schedules an evaluation on a fresh goroutine. Calls during a
// running evaluation coalesce into one re-run.
func (p *Page) trigger() {
	p.mu.Lock()

	if p.disposed {
		p.mu.Unlock()

		return
	}

	if p.running {
		p.rerun = true
		p.mu.Unlock()

		return
	}

	p.running = true
	p.mu.Unlock()

	go p.run()
}

func (p *Page) run() {
	for {
		s := p.collect()

		if p.plan(s) {
			in := indicator.Input{Candles: s.candles, Trades: s.trades}
			points, err := p.calc.Calculate(p.ctx, in)
			p.apply(s, points, err)
		}

		p.mu.Lock()
		if !p.rerun || p.disposed {
			p.running = false
			p.mu.Unlock()

			return
		}

		p.rerun = false
		p.mu.Unlock()
	}
}

// sources is what the source pages look like at one moment.
type sources struct {
	failure      string
	waiting      bool
	hash         uint64
	candles      []types.Candle
	trades       optional.Option[[]types.TickTrade]
	tradeVersion uint64
	degraded     bool
}

func (p *Page) collect() sources {
	p.mu.Lock()
	candleView := p.candleView
	tradeView := p.tradeView
	p.mu.Unlock()

	s := sources{trades: optional.None[[]types.TickTrade]()}

	if candleView == nil {
		s.waiting = true

		return s
	}

	ev, candles := candleView.Read()

	switch {
	case ev.State == types.PageStateError:
		s.failure = "candle data failed: " + ev.Error

		return s
	case !ev.State.HasData():
		s.waiting = true

		return s
	}

	s.candles = candles
	s.hash = SourceHash(ev, candles)

	if !p.calc.NeedsTrades() {
		return s
	}

	if tradeView.IsNone() {
		s.degraded = true

		return s
	}

	tev, trades := tradeView.Unwrap().Read()

	switch {
	case tev.State.HasData():
		s.trades = optional.Some(trades)
		s.tradeVersion = tev.Version
	case tev.State == types.PageStateError:
		s.degraded = true
	default:
		s.waiting = true
	}

	return s
}

// plan updates the state for s and reports whether a computation is needed.
func (p *Page) plan(s sources) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return false
	}

	switch {
	case s.failure != "":
		if p.state != StateError || p.errMsg != s.failure {
			p.state = StateError
			p.errMsg = s.failure
			p.points = nil
			p.publishLocked()
		}

		return false
	case s.waiting:
		if p.state == StateError {
			p.errMsg = ""
			p.setStateLocked(StateEmpty)
		}

		return false
	}

	if p.state == StateReady &&
		p.hash == s.hash &&
		p.degraded == s.degraded &&
		p.tradeVersion == s.tradeVersion {
		return false
	}

	p.setStateLocked(StateComputing)

	return true
}

func (p *Page) apply(s sources, points []indicator.Point, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}

	if err != nil {
		err = errors.Wrapf(errors.ErrCodeComputeFailed, err, "%s failed", p.key.Calculator)
		p.manager.logger.Warn("Computation failed",
			zap.String("page", p.key.String()),
			zap.Error(err),
		)

		p.state = StateError
		p.errMsg = errors.Message(err)
		p.points = nil
		p.publishLocked()

		return
	}

	if points == nil {
		points = []indicator.Point{}
	}

	p.points = points
	p.hash = s.hash
	p.degraded = s.degraded
	p.tradeVersion = s.tradeVersion
	p.computedAt = p.manager.now()
	p.errMsg = ""
	p.state = StateReady
	p.version++
	p.publishLocked()

	p.manager.logger.Debug("Computed",
		zap.String("page", p.key.String()),
		zap.Int("points", len(points)),
		zap.Bool("degraded", s.degraded),
	)
}

// get serves the points of a Ready page whose source hash still matches.
func (p *Page) get() ([]indicator.Point, error) {
	p.mu.Lock()
	candleView := p.candleView
	p.mu.Unlock()

	current := uint64(0)
	if candleView != nil {
		ev, candles := candleView.Read()
		if ev.State.HasData() {
			current = SourceHash(ev, candles)
		}
	}

	p.mu.Lock()

	switch p.state {
	case StateReady:
	case StateError:
		msg := p.errMsg
		p.mu.Unlock()

		return nil, errors.New(errors.ErrCodeComputeFailed, msg)
	default:
		state := p.state
		p.mu.Unlock()

		return nil, errors.Newf(errors.ErrCodePageNotReady, "computed page %s is %s", p.key, state)
	}

	if current != p.hash {
		p.state = StateStale
		p.publishLocked()
		p.mu.Unlock()

		p.trigger()

		stale := errors.Newf(errors.ErrCodeStaleComputation, "candles of %s changed since the last computation", p.key)

		return nil, errors.Wrapf(errors.ErrCodePageNotReady, stale, "computed page %s is recomputing", p.key)
	}

	points := p.points
	retry := p.degraded &&
		!p.tradeRetried &&
		p.tradeView.IsSome() &&
		p.manager.now().Sub(p.computedAt) > p.manager.maxDegradedAge

	if retry {
		p.tradeRetried = true
	}
	p.mu.Unlock()

	if retry {
		p.retryTrades()
	}

	return points, nil
}

// retryTrades requests the trade page again. A page in Error reloads on a new
// request; when it turns Ready the resulting event recomputes this page.
func (p *Page) retryTrades() {
	p.manager.logger.Info("Degraded computation expired, retrying trade data",
		zap.String("page", p.key.String()),
	)

	trades, sub, err := p.manager.trades.Request(p.req, func(page.Event) { p.trigger() })
	if err != nil {
		p.manager.logger.Warn("Trade retry failed", zap.String("page", p.key.String()), zap.Error(err))

		return
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		sub.Release()

		return
	}

	old := p.tradeSub
	p.tradeView, p.tradeSub = optional.Some(trades), sub
	p.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

func (p *Page) snapshot() Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.eventLocked()
}

func (p *Page) attach(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handles[h.id] = h
	ev := p.eventLocked()
	p.manager.dispatcher.Post(func() { h.deliver(ev) })
}

// detach removes h and returns how many handles remain.
func (p *Page) detach(h *Handle) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.handles, h.id)

	return len(p.handles)
}

// close cancels any computation and releases the source subscriptions.
func (p *Page) close() {
	p.mu.Lock()
	p.disposed = true
	candleSub, tradeSub := p.candleSub, p.tradeSub
	p.candleSub, p.tradeSub = nil, nil
	p.mu.Unlock()

	p.cancel()

	if candleSub != nil {
		candleSub.Release()
	}

	if tradeSub != nil {
		tradeSub.Release()
	}
}

// Handle is one consumer's reference to a computed page.
type Handle struct {
	id       uint64
	page     *Page
	listener Listener
	active   atomic.Bool
	once     sync.Once
}

func (h *Handle) deliver(ev Event) {
	if h.active.Load() && h.listener != nil {
		h.listener(ev)
	}
}

func (h *Handle) Key() Key {
	return h.page.key
}

// Snapshot returns the current state of the page.
func (h *Handle) Snapshot() Event {
	return h.page.snapshot()
}

// Get returns the computed points. It fails with ErrCodePageNotReady until the
// page is Ready. When the candle data changed since the computation the page
// goes Stale, a recomputation starts, and Get fails with ErrCodePageNotReady
// wrapping ErrCodeStaleComputation. A degraded
// result older than the manager's max degraded age is served while the trade
// data is requested once more.
func (h *Handle) Get() ([]indicator.Point, error) {
	return h.page.get()
}

// Dispose drops this reference. The last one releases the page's source
// subscriptions. Idempotent.
func (h *Handle) Dispose() {
	h.once.Do(func() {
		h.active.Store(false)
		h.page.manager.release(h)
	})
}
