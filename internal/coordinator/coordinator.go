// Package coordinator runs one backtest at a time for a caller. It requests
// the pages a strategy depends on and submits the backtest exactly once, as
// soon as all of them are ready together.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-datapage/internal/executor"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/requirements"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the lifecycle of the coordinator's current request.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateWaiting    State = "waiting"
	StateTriggered  State = "triggered"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	// StateCancelled is only reported; the coordinator moves straight on to Idle.
	StateCancelled State = "cancelled"
)

// Active reports whether a request is in flight.
func (s State) Active() bool {
	switch s {
	case StateRequesting, StateWaiting, StateTriggered, StateRunning:
		return true
	default:
		return false
	}
}

// DefaultSaveTimeout bounds one result store write.
const DefaultSaveTimeout = 30 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDispatcher sets where callbacks are delivered. It defaults to the candle
// manager's dispatcher so page events and callbacks share one goroutine.
func WithDispatcher(d *executor.Serial) Option {
	return func(c *Coordinator) { c.dispatcher = d }
}

// WithCallbacks registers the caller's callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Coordinator) { c.callbacks = cb }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithSaveTimeout bounds result store writes.
func WithSaveTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.saveTimeout = d }
}

// run is one request. It is never mutated after creation.
type run struct {
	id         string
	generation uint64
	strategy   compute.Strategy
	config     compute.Config
}

// Coordinator owns at most one in-flight backtest request. Its public methods
// never block on I/O or on the engine.
type Coordinator struct {
	managers    requirements.Managers
	engine      compute.Engine
	store       compute.ResultStore
	dispatcher  *executor.Serial
	ownsDisp    bool
	worker      *executor.Serial
	callbacks   Callbacks
	logger      *logger.Logger
	saveTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	state      State
	current    *run
	reqs       *requirements.Requirements
	cancelJob  context.CancelFunc
	closed     bool
}

// New creates a coordinator over managers. store may be nil, in which case
// results are not persisted.
func New(managers requirements.Managers, engine compute.Engine, store compute.ResultStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		managers:    managers,
		engine:      engine,
		store:       store,
		dispatcher:  nil,
		ownsDisp:    false,
		worker:      nil,
		callbacks:   Callbacks{},
		logger:      nil,
		saveTimeout: DefaultSaveTimeout,
		mu:          sync.Mutex{},
		generation:  0,
		state:       StateIdle,
		current:     nil,
		reqs:        nil,
		cancelJob:   nil,
		closed:      false,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.NewNopLogger()
	}

	c.logger = c.logger.Named("coordinator")

	if c.dispatcher == nil && managers.Candles != nil {
		c.dispatcher = managers.Candles.Dispatcher()
	}

	if c.dispatcher == nil {
		c.dispatcher = executor.NewSerial("coordinator-notify", c.logger)
		c.ownsDisp = true
	}

	c.worker = executor.NewSerial("coordinator-worker", c.logger)

	return c
}

// RequestBacktest starts a new request and returns its run ID. Any previous
// request is abandoned: its pages are released and a job it already started
// has its result discarded. The call returns as soon as the pages are
// requested; progress and the outcome arrive through the callbacks.
func (c *Coordinator) RequestBacktest(
	strategy compute.Strategy,
	symbol string,
	timeframe types.Timeframe,
	start, end time.Time,
	capital decimal.Decimal,
) (string, error) {
	if strategy == nil {
		return "", errors.New(errors.ErrCodeMissingParameter, "strategy is required")
	}

	if !capital.IsPositive() {
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "capital must be positive, got %s", capital)
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return "", errors.New(errors.ErrCodeManagerClosed, "coordinator is closed")
	}

	previous, prevState := c.abandonLocked()

	r := &run{
		id:         uuid.NewString(),
		generation: c.generation,
		strategy:   strategy,
		config: compute.Config{
			RunID:     "",
			Symbol:    symbol,
			Timeframe: timeframe,
			Start:     start,
			End:       end,
			Capital:   capital,
		},
	}
	r.config.RunID = r.id
	c.current = r
	c.state = StateRequesting
	c.mu.Unlock()

	if previous != nil {
		previous.Release()
	}

	if prevState.Active() {
		c.logger.Info("Previous backtest request superseded", zap.String("run_id", r.id))
	}

	c.emitStatus(r.id, StateRequesting)

	req := page.Request{Symbol: symbol, Timeframe: timeframe, Start: start, End: end}

	reqs, err := requirements.Build(c.managers, strategy.Dependencies(), req, func(page.Event) {
		c.check(r.generation)
	})
	if err != nil {
		if !c.transition(r.generation, StateRequesting, StateFailed) {
			return "", err
		}

		c.logger.Warn("Backtest request failed",
			zap.String("run_id", r.id),
			zap.Error(err),
		)
		c.emitStatus(r.id, StateFailed)
		c.emitError(r.id, err)

		return "", err
	}

	c.mu.Lock()
	if c.generation != r.generation {
		c.mu.Unlock()
		reqs.Release()

		return "", errors.Newf(errors.ErrCodeRequestSuperseded, "backtest request %s was superseded", r.id)
	}

	c.reqs = reqs
	c.mu.Unlock()

	c.logger.Info("Backtest requested",
		zap.String("run_id", r.id),
		zap.String("strategy", strategy.Name()),
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Any("kinds", reqs.Kinds()),
	)

	// Pages that were already ready produce no new events, so one check is
	// always posted after the bundle is installed.
	c.dispatcher.Post(func() { c.check(r.generation) })

	return r.id, nil
}

// abandonLocked drops the current request and returns its bundle for the
// caller to release outside the lock.
func (c *Coordinator) abandonLocked() (*requirements.Requirements, State) {
	prev := c.state
	reqs := c.reqs
	c.reqs = nil

	if c.cancelJob != nil {
		c.cancelJob()
		c.cancelJob = nil
	}

	c.generation++

	return reqs, prev
}

// check is the fan-in check. It runs on every page event of the current
// request and is idempotent: only the first call that sees every page ready
// submits the job.
func (c *Coordinator) check(generation uint64) {
	c.mu.Lock()

	if generation != c.generation || c.reqs == nil {
		c.mu.Unlock()

		return
	}

	if c.state != StateRequesting && c.state != StateWaiting {
		c.mu.Unlock()

		return
	}

	r := c.current
	reqs := c.reqs

	if err := reqs.Err(); err != nil {
		c.state = StateFailed
		c.reqs = nil
		c.mu.Unlock()

		reqs.Release()
		c.logger.Warn("Backtest dependency failed",
			zap.String("run_id", r.id),
			zap.Error(err),
		)
		c.emitStatus(r.id, StateFailed)
		c.emitError(r.id, err)

		return
	}

	if !reqs.IsReady() {
		entered := c.state == StateRequesting
		c.state = StateWaiting
		progress := reqs.Progress()
		c.mu.Unlock()

		if entered {
			c.emitStatus(r.id, StateWaiting)
		}

		c.emitProgress(r.id, compute.PhaseLoading, progress)

		return
	}

	c.state = StateTriggered
	inputs := reqs.Inputs()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelJob = cancel
	c.mu.Unlock()

	c.logger.Info("Backtest triggered",
		zap.String("run_id", r.id),
		zap.Int("candles", len(inputs.Candles)),
		zap.Int("trades", len(inputs.Trades)),
		zap.Any("degraded", inputs.Degraded),
	)
	c.emitProgress(r.id, compute.PhaseLoading, 100)
	c.emitStatus(r.id, StateTriggered)

	if !c.worker.Post(func() { c.execute(ctx, r, inputs) }) {
		cancel()
	}
}

// transition moves from one state to another if generation is still current.
func (c *Coordinator) transition(generation uint64, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || c.state != from {
		return false
	}

	c.state = to

	return true
}

func (c *Coordinator) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return generation == c.generation
}

// execute runs on the worker.
func (c *Coordinator) execute(ctx context.Context, r *run, inputs compute.Inputs) {
	if !c.transition(r.generation, StateTriggered, StateRunning) {
		c.logger.Debug("Skipping abandoned backtest", zap.String("run_id", r.id))

		return
	}

	c.emitStatus(r.id, StateRunning)

	started := time.Now()

	result, err := c.engine.Run(ctx, r.strategy, r.config, inputs, compute.DefaultPhases, func(phase compute.Phase, pct float64) {
		if c.isCurrent(r.generation) {
			c.emitProgress(r.id, phase, pct)
		}
	})

	c.mu.Lock()
	if r.generation != c.generation {
		c.mu.Unlock()
		c.logger.Info("Discarding result of abandoned backtest",
			zap.String("run_id", r.id),
			zap.Duration("elapsed", time.Since(started)),
		)

		return
	}

	c.cancelJob = nil

	if err == nil && result == nil {
		err = errors.New(errors.ErrCodeBacktestFailed, "engine returned no result")
	}

	if err != nil {
		c.state = StateFailed
		reqs := c.reqs
		c.reqs = nil
		c.mu.Unlock()

		if reqs != nil {
			reqs.Release()
		}

		err = errors.Wrapf(errors.ErrCodeBacktestFailed, err, "backtest %s failed", r.id)
		c.logger.Warn("Backtest failed", zap.String("run_id", r.id), zap.Error(err))
		c.emitStatus(r.id, StateFailed)
		c.emitError(r.id, err)

		return
	}

	if result.RunID == "" {
		result.RunID = r.id
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	c.state = StateCompleted
	c.mu.Unlock()

	c.logger.Info("Backtest completed",
		zap.String("run_id", r.id),
		zap.String("final_equity", result.FinalEquity.String()),
		zap.Duration("elapsed", time.Since(started)),
	)

	if c.store != nil {
		c.worker.Post(func() { c.save(result) })
	}

	c.emitStatus(r.id, StateCompleted)
	c.emitComplete(r.id, result)
}

func (c *Coordinator) save(result *compute.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()

	if err := c.store.Save(ctx, result); err != nil {
		c.logger.Error("Failed to save backtest result",
			zap.String("run_id", result.RunID),
			zap.Error(errors.Wrap(errors.ErrCodeResultStoreFailed, "failed to save result", err)),
		)
	}
}

// Cancel abandons the current request. Its pages are released and the state
// returns to Idle. A running job is asked to stop through its context and its
// result is discarded either way.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	reqs, prev := c.abandonLocked()
	r := c.current
	c.state = StateIdle
	c.mu.Unlock()

	if reqs != nil {
		reqs.Release()
	}

	if prev == StateIdle || r == nil {
		return
	}

	c.logger.Info("Backtest cancelled", zap.String("run_id", r.id), zap.String("from", string(prev)))
	c.emitStatus(r.id, StateCancelled)
	c.emitStatus(r.id, StateIdle)
}

// IsRunning reports whether a request is between being issued and finishing.
func (c *Coordinator) IsRunning() bool {
	return c.State().Active()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RunID returns the ID of the most recent request, or "".
func (c *Coordinator) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ""
	}

	return c.current.id
}

// Close cancels the current request and stops the worker after queued jobs
// and saves have finished.
func (c *Coordinator) Close() {
	c.Cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return
	}

	c.closed = true
	c.mu.Unlock()

	c.worker.Close()

	if c.ownsDisp {
		c.dispatcher.Close()
	}
}
