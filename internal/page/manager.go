package page

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/executor"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/transport"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// DefaultPoolSize returns the load concurrency used for kind.
func DefaultPoolSize(kind types.DataKind) int {
	if kind == types.DataKindCandles {
		return 4
	}

	return 2
}

// DefaultRecordSize is the estimated in-memory size of one record of kind, in bytes.
func DefaultRecordSize(kind types.DataKind) int64 {
	switch kind {
	case types.DataKindCandles:
		return 80
	case types.DataKindTrades:
		return 48
	case types.DataKindPremium:
		return 64
	default:
		return 40
	}
}

const (
	DefaultGracePeriod      = 30 * time.Second
	DefaultEvictionInterval = 10 * time.Second
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	poolSize         int
	gracePeriod      time.Duration
	evictionInterval time.Duration
	recordSize       int64
	dispatcher       *executor.Serial
	counter          *transport.RecordCounter
	logger           *logger.Logger
	now              func() time.Time
}

func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithGracePeriod sets how long an unreferenced page survives eviction passes.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.gracePeriod = d }
}

func WithEvictionInterval(d time.Duration) Option {
	return func(o *options) { o.evictionInterval = d }
}

// WithRecordSize sets the estimated bytes per record used for memory accounting.
func WithRecordSize(bytes int64) Option {
	return func(o *options) { o.recordSize = bytes }
}

// WithDispatcher delivers notifications on a shared dispatcher. Without it the
// manager owns a private one.
func WithDispatcher(d *executor.Serial) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithRecordCounter adds records of in-flight transfers to the memory
// estimate. Pass the same counter to the transport strategy.
func WithRecordCounter(c *transport.RecordCounter) Option {
	return func(o *options) { o.counter = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, for eviction tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	Kind    types.DataKind
	Pages   int
	States  map[types.PageState]int
	Records int64
	Bytes   int64
	Fetches int64
}

// Manager owns every page of one data kind. It deduplicates requests by key,
// counts references, and loads pages on a bounded pool. No method blocks on I/O.
type Manager[T types.Record] struct {
	kind             types.DataKind
	fetcher          transport.Strategy[T]
	pool             *executor.Pool
	dispatcher       *executor.Serial
	ownsDispatcher   bool
	gracePeriod      time.Duration
	evictionInterval time.Duration
	recordSize       int64
	counter          *transport.RecordCounter
	logger           *logger.Logger
	now              func() time.Time

	mu     sync.Mutex
	pages  map[string]*Page[T]
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	records atomic.Int64
	fetches atomic.Int64
	nextID  atomic.Uint64

	evictMu   sync.Mutex
	evictStop chan struct{}
	evictDone chan struct{}
}

// NewManager creates a manager for kind that loads pages through fetcher.
func NewManager[T types.Record](kind types.DataKind, fetcher transport.Strategy[T], opts ...Option) *Manager[T] {
	o := options{
		poolSize:         DefaultPoolSize(kind),
		gracePeriod:      DefaultGracePeriod,
		evictionInterval: DefaultEvictionInterval,
		recordSize:       DefaultRecordSize(kind),
		dispatcher:       nil,
		counter:          nil,
		logger:           nil,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}

	log := o.logger.Named(string(kind))

	owns := false
	if o.dispatcher == nil {
		o.dispatcher = executor.NewSerial(string(kind)+"-notify", log)
		owns = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager[T]{
		kind:             kind,
		fetcher:          fetcher,
		pool:             executor.NewPool(string(kind), o.poolSize, log),
		dispatcher:       o.dispatcher,
		ownsDispatcher:   owns,
		gracePeriod:      o.gracePeriod,
		evictionInterval: o.evictionInterval,
		recordSize:       o.recordSize,
		counter:          o.counter,
		logger:           log,
		now:              o.now,
		mu:               sync.Mutex{},
		pages:            make(map[string]*Page[T]),
		closed:           false,
		ctx:              ctx,
		cancel:           cancel,
		records:          atomic.Int64{},
		fetches:          atomic.Int64{},
		nextID:           atomic.Uint64{},
		evictMu:          sync.Mutex{},
		evictStop:        nil,
		evictDone:        nil,
	}
}

// Kind returns the data kind this manager serves.
func (m *Manager[T]) Kind() types.DataKind {
	return m.kind
}

// Dispatcher returns the dispatcher listeners are called on.
func (m *Manager[T]) Dispatcher() *executor.Serial {
	return m.dispatcher
}

// Request returns a view of the page for req and subscribes listener to it.
// The first request for a key creates the page and schedules its load; later
// ones attach to the same page without fetching again. A page that ended in
// Error is loaded again. The listener first receives a snapshot of the page's
// current state.
func (m *Manager[T]) Request(req Request, listener Listener) (*View[T], *Subscription, error) {
	if err := validateRequest(m.kind, req); err != nil {
		return nil, nil, err
	}

	key := NewKey(m.kind, req)
	id := key.String()

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil, nil, errors.Newf(errors.ErrCodeManagerClosed, "%s page manager is closed", m.kind)
	}

	p, exists := m.pages[id]
	if !exists {
		p = newPage[T](key, m.dispatcher, m.now())
		m.pages[id] = p
	}

	// Scheduled before attaching so a retried page's new listener starts at
	// Loading rather than the old error.
	if !exists || p.currentState() == types.PageStateError {
		m.schedule(p, false)
	}

	sub := newSubscription(m.nextID.Add(1), key, listener, m.release)
	p.attach(sub)

	m.mu.Unlock()

	m.logger.Debug("Page requested",
		zap.String("page", id),
		zap.Bool("reused", exists),
	)

	return &View[T]{page: p}, sub, nil
}

// Release drops sub's reference. Idempotent.
func (m *Manager[T]) Release(sub *Subscription) {
	sub.Release()
}

func (m *Manager[T]) release(sub *Subscription) {
	m.mu.Lock()
	p, ok := m.pages[sub.key.String()]
	m.mu.Unlock()

	if !ok {
		return
	}

	if p.detach(sub, m.now()) {
		m.logger.Debug("Page unreferenced", zap.String("page", sub.key.String()))
	}
}

// Lookup returns the view for key if the page is cached.
func (m *Manager[T]) Lookup(key Key) optional.Option[*View[T]] {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[key.String()]
	if !ok {
		return optional.None[*View[T]]()
	}

	return optional.Some(&View[T]{page: p})
}

// Refresh reloads a Ready page in the background. The page moves to Updating,
// keeps serving its old data, and swaps the new data in on success.
func (m *Manager[T]) Refresh(key Key) error {
	// Held across schedule so an eviction pass cannot drop the page in between.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Newf(errors.ErrCodeManagerClosed, "%s page manager is closed", m.kind)
	}

	p, ok := m.pages[key.String()]
	if !ok {
		return errors.Newf(errors.ErrCodePageNotFound, "page %s not found", key)
	}

	if !m.schedule(p, true) {
		return errors.Newf(errors.ErrCodePageNotReady, "page %s is %s", key, p.currentState())
	}

	return nil
}

func (m *Manager[T]) schedule(p *Page[T], refresh bool) bool {
	ctx, cancel := context.WithCancel(m.ctx)
	if !p.begin(refresh, cancel) {
		cancel()

		return false
	}

	m.pool.Go(ctx, func(ctx context.Context) {
		defer cancel()
		m.load(ctx, p)
	}, func(err error) {
		cancel()
		p.fail("load cancelled: " + err.Error())
	})

	return true
}

func (m *Manager[T]) load(ctx context.Context, p *Page[T]) {
	m.fetches.Add(1)
	started := m.now()

	result, err := m.fetch(ctx, p)
	if err != nil {
		m.logger.Warn("Page load failed",
			zap.String("page", p.key.String()),
			zap.Duration("elapsed", m.now().Sub(started)),
			zap.Error(err),
		)
		p.fail(errors.Message(err))

		return
	}

	delta := p.complete(result.Records, result.Partial)
	m.records.Add(int64(delta))

	m.logger.Debug("Page loaded",
		zap.String("page", p.key.String()),
		zap.Int("records", len(result.Records)),
		zap.Bool("partial", result.Partial),
		zap.Duration("elapsed", m.now().Sub(started)),
	)
}

// fetch runs the fetcher. A panic fails the load like any other error so the
// page still reaches a terminal state.
func (m *Manager[T]) fetch(ctx context.Context, p *Page[T]) (result transport.Result[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodePageFailed, "fetch panicked: %v", r)
		}
	}()

	return m.fetcher.Fetch(ctx, p.key.Spec(), p.setProgress)
}

// Evict removes pages that have had no listeners for the grace period and are
// not loading. It returns how many pages were removed.
func (m *Manager[T]) Evict() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for id, p := range m.pages {
		if !p.evictable(now, m.gracePeriod) {
			continue
		}

		m.records.Add(-int64(p.recordCount()))
		delete(m.pages, id)
		removed++

		m.logger.Debug("Page evicted", zap.String("page", id))
	}

	return removed
}

// Start runs eviction passes in the background until Stop, Close or ctx ends.
func (m *Manager[T]) Start(ctx context.Context) {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()

	if m.evictStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.evictStop, m.evictDone = stop, done

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.evictionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if n := m.Evict(); n > 0 {
					m.logger.Debug("Eviction pass", zap.Int("evicted", n))
				}
			}
		}
	}()
}

// Stop ends background eviction.
func (m *Manager[T]) Stop() {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()

	if m.evictStop == nil {
		return
	}

	close(m.evictStop)
	<-m.evictDone
	m.evictStop, m.evictDone = nil, nil
}

// Close cancels in-flight loads, drops every page and stops the manager.
func (m *Manager[T]) Close() {
	m.Stop()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return
	}

	m.closed = true
	pages := m.pages
	m.pages = make(map[string]*Page[T])
	m.mu.Unlock()

	for _, p := range pages {
		p.stop()
	}

	m.cancel()
	m.pool.Wait()
	m.records.Store(0)

	if m.ownsDispatcher {
		m.dispatcher.Close()
	}
}

// BytesInMemory estimates the memory held by published and in-flight records.
func (m *Manager[T]) BytesInMemory() int64 {
	return (m.records.Load() + m.counter.Load()) * m.recordSize
}

// Stats returns page counts per state together with the memory estimate.
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	pages := make([]*Page[T], 0, len(m.pages))

	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	states := make(map[types.PageState]int)
	for _, p := range pages {
		states[p.currentState()]++
	}

	return Stats{
		Kind:    m.kind,
		Pages:   len(pages),
		States:  states,
		Records: m.records.Load(),
		Bytes:   m.BytesInMemory(),
		Fetches: m.fetches.Load(),
	}
}

// ListenerCount returns the number of listeners on the page for key.
func (m *Manager[T]) ListenerCount(key Key) int {
	m.mu.Lock()
	p, ok := m.pages[key.String()]
	m.mu.Unlock()

	if !ok {
		return 0
	}

	return p.listenerCount()
}
