// Package computed caches indicator series computed over cached pages. A
// computed page follows its candle page (and trade page when the calculator
// wants trades) and recomputes whenever the data it was computed from changes.
package computed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/executor"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxDegradedAge is how long a result computed without trade data is
// served before the trade data is requested again.
const DefaultMaxDegradedAge = 5 * time.Minute

type Option func(*Manager)

func WithMaxDegradedAge(d time.Duration) Option {
	return func(m *Manager) { m.maxDegradedAge = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager deduplicates computed pages by calculator, parameters and candle
// page.
type Manager struct {
	candles        *page.Manager[types.Candle]
	trades         *page.Manager[types.TickTrade]
	registry       indicator.Registry
	dispatcher     *executor.Serial
	logger         *logger.Logger
	now            func() time.Time
	maxDegradedAge time.Duration

	mu     sync.Mutex
	pages  map[string]*Page
	closed bool
	nextID atomic.Uint64
}

// NewManager creates a manager reading candles and, when not nil, trades.
// Events are delivered on the candle manager's dispatcher.
func NewManager(candles *page.Manager[types.Candle], trades *page.Manager[types.TickTrade], registry indicator.Registry, opts ...Option) *Manager {
	m := &Manager{
		candles:        candles,
		trades:         trades,
		registry:       registry,
		dispatcher:     candles.Dispatcher(),
		logger:         nil,
		now:            time.Now,
		maxDegradedAge: DefaultMaxDegradedAge,
		mu:             sync.Mutex{},
		pages:          make(map[string]*Page),
		closed:         false,
		nextID:         atomic.Uint64{},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logger.NewNopLogger()
	}

	m.logger = m.logger.Named("computed")

	return m
}

// Request returns a handle to the computed page for calculator name with
// params over the candles of req. Requests with the same calculator,
// canonical parameters and candle key share one page and one computation.
// listener first receives the page's current state.
func (m *Manager) Request(name types.IndicatorType, params []any, req page.Request, listener Listener) (*Handle, error) {
	calc, err := m.registry.New(name, params...)
	if err != nil {
		return nil, err
	}

	key := Key{
		Calculator: name,
		Params:     calc.Params(),
		Candles:    page.NewKey(types.DataKindCandles, req),
	}
	id := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New(errors.ErrCodeManagerClosed, "computed page manager is closed")
	}

	p, exists := m.pages[id]
	if !exists {
		p = newPage(m, key, req, calc)
		if err := p.open(); err != nil {
			p.close()

			return nil, err
		}

		m.pages[id] = p
	}

	h := &Handle{id: m.nextID.Add(1), page: p, listener: listener}
	h.active.Store(true)
	p.attach(h)

	m.logger.Debug("Computed page requested",
		zap.String("page", id),
		zap.Bool("reused", exists),
	)

	return h, nil
}

func (m *Manager) release(h *Handle) {
	p := h.page

	m.mu.Lock()
	remaining := p.detach(h)

	if remaining == 0 && m.pages[p.key.String()] == p {
		delete(m.pages, p.key.String())
	}
	m.mu.Unlock()

	if remaining == 0 {
		p.close()
		m.logger.Debug("Computed page disposed", zap.String("page", p.key.String()))
	}
}

// Len returns the number of live computed pages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pages)
}

// Close disposes every page.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return
	}

	m.closed = true
	pages := m.pages
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	for _, p := range pages {
		p.close()
	}
}
