// Package app wires configuration into the running pieces: sources for the
// reference data service, and the client side stack of page managers,
// computed pages, engine, result store and coordinator.
package app

import (
	"context"
	"io"

	"github.com/rxtech-lab/argo-datapage/internal/backtest"
	"github.com/rxtech-lab/argo-datapage/internal/computed"
	"github.com/rxtech-lab/argo-datapage/internal/config"
	"github.com/rxtech-lab/argo-datapage/internal/coordinator"
	"github.com/rxtech-lab/argo-datapage/internal/executor"
	"github.com/rxtech-lab/argo-datapage/internal/indicator"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/page"
	"github.com/rxtech-lab/argo-datapage/internal/requirements"
	"github.com/rxtech-lab/argo-datapage/internal/resultstore"
	"github.com/rxtech-lab/argo-datapage/internal/transport"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice/server"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice/source"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runtime is the client side stack. Every component shares one dispatcher, so
// page events, computed page events and coordinator callbacks arrive in one
// order.
type Runtime struct {
	Client      *dataservice.Client
	Dispatcher  *executor.Serial
	Managers    requirements.Managers
	Computed    *computed.Manager
	Engine      *backtest.Engine
	Store       *resultstore.Store
	Coordinator *coordinator.Coordinator

	logger *logger.Logger
}

// New builds the stack described by cfg. callbacks go to the coordinator.
func New(cfg *config.Config, log *logger.Logger, callbacks coordinator.Callbacks) (*Runtime, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	store, err := resultstore.Open(cfg.Results.Path, log)
	if err != nil {
		return nil, err
	}

	client := dataservice.NewClient(dataservice.ClientConfig{
		BaseURL:         cfg.Service.BaseURL,
		StreamURL:       cfg.Service.StreamURL,
		Timeout:         cfg.Service.Timeout,
		ProtocolVersion: cfg.Service.Protocol,
	}, log.Named("client"))

	dispatcher := executor.NewSerial("notifications", log)

	wiring := managerWiring{
		config:     cfg,
		client:     client,
		dispatcher: dispatcher,
		logger:     log,
	}

	managers := requirements.Managers{
		Candles:      newManager(wiring, types.DataKindCandles, dataservice.CandleCodec()),
		Trades:       newManager(wiring, types.DataKindTrades, dataservice.TradeCodec()),
		Funding:      newManager(wiring, types.DataKindFunding, dataservice.FundingCodec()),
		OpenInterest: newManager(wiring, types.DataKindOpenInterest, dataservice.OpenInterestCodec()),
		Premium:      newManager(wiring, types.DataKindPremium, dataservice.PremiumCodec()),
	}

	engine := backtest.NewEngine(
		backtest.WithCommissionFee(backtest.GetCommissionFeeHandler(cfg.Engine.Broker)),
		backtest.WithLogger(log),
	)

	rt := &Runtime{
		Client:     client,
		Dispatcher: dispatcher,
		Managers:   managers,
		Computed: computed.NewManager(managers.Candles, managers.Trades, indicator.NewDefaultRegistry(),
			computed.WithMaxDegradedAge(cfg.Computed.MaxDegradedAge),
			computed.WithLogger(log),
		),
		Engine: engine,
		Store:  store,
		Coordinator: coordinator.New(managers, engine, store,
			coordinator.WithDispatcher(dispatcher),
			coordinator.WithCallbacks(callbacks),
			coordinator.WithLogger(log),
		),
		logger: log,
	}

	return rt, nil
}

// Start begins background eviction in every manager.
func (r *Runtime) Start(ctx context.Context) {
	if r.Managers.Candles != nil {
		r.Managers.Candles.Start(ctx)
	}

	if r.Managers.Trades != nil {
		r.Managers.Trades.Start(ctx)
	}

	if r.Managers.Funding != nil {
		r.Managers.Funding.Start(ctx)
	}

	if r.Managers.OpenInterest != nil {
		r.Managers.OpenInterest.Start(ctx)
	}

	if r.Managers.Premium != nil {
		r.Managers.Premium.Start(ctx)
	}
}

// Close shuts the stack down from the top: the coordinator and computed pages
// release their pages before the managers and the dispatcher go away.
func (r *Runtime) Close() error {
	r.Coordinator.Close()
	r.Computed.Close()
	r.Managers.Close()
	r.Dispatcher.Close()

	err := r.Store.Close()
	if err != nil {
		r.logger.Error("Failed to close result store", zap.Error(err))
	}

	return err
}

type managerWiring struct {
	config     *config.Config
	client     *dataservice.Client
	dispatcher *executor.Serial
	logger     *logger.Logger
}

// newManager returns nil for kinds the configuration disables.
func newManager[T types.Record](w managerWiring, kind types.DataKind, codec dataservice.Codec[T]) *page.Manager[T] {
	if !w.config.Managers.Enabled(kind) {
		return nil
	}

	var stream dataservice.StreamService
	if w.config.Transport.Push {
		stream = w.client
	}

	counter := &transport.RecordCounter{}
	fetcher := transport.New(stream, w.client, codec, transport.Config{
		PollInterval: w.config.Transport.PollInterval,
		PollTimeout:  w.config.Transport.PollTimeout,
		PushTimeouts: w.config.Transport.PushTimeouts,
	}, counter, w.logger)

	opts := []page.Option{
		page.WithDispatcher(w.dispatcher),
		page.WithRecordCounter(counter),
		page.WithLogger(w.logger),
	}

	settings := w.config.Managers.For(kind)
	if settings.PoolSize > 0 {
		opts = append(opts, page.WithPoolSize(settings.PoolSize))
	}

	if settings.GracePeriod > 0 {
		opts = append(opts, page.WithGracePeriod(settings.GracePeriod))
	}

	if settings.RecordSize > 0 {
		opts = append(opts, page.WithRecordSize(settings.RecordSize))
	}

	return page.NewManager(kind, fetcher, opts...)
}

// Sources builds the upstream sources of the reference data service. The
// returned closer releases local files and may be nil.
//
// Futures kinds always come from Binance. Candles come from the first of:
// parquet files, Polygon, Binance.
func Sources(cfg config.SourcesConfig, log *logger.Logger) (source.Set, io.Closer, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.Synthetic {
		return source.NewSyntheticSet(source.DefaultSyntheticConfig()), nil, nil
	}

	binance := source.NewBinance(cfg.BinanceBaseURL, log)
	set := source.Set{
		Candles:      binance,
		Trades:       binance,
		Funding:      binance,
		OpenInterest: binance,
		Premium:      binance,
	}

	if cfg.PolygonAPIKey != "" {
		polygon, err := source.NewPolygon(cfg.PolygonAPIKey, log)
		if err != nil {
			return source.Set{}, nil, err
		}

		set.Candles = polygon
	}

	if cfg.ParquetPattern != "" {
		parquet, err := source.NewParquet(cfg.ParquetPattern, log)
		if err != nil {
			return source.Set{}, nil, err
		}

		set.Candles = parquet

		return set, parquet, nil
	}

	return set, nil, nil
}

// Service is a running reference data service with its sources.
type Service struct {
	Server  *server.Server
	sources io.Closer
}

// NewService creates the reference data service described by cfg.
func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	set, closer, err := Sources(cfg.Sources, log)
	if err != nil {
		return nil, err
	}

	srv := server.New(server.Config{
		ChunkSize:       cfg.Server.ChunkSize,
		PageTTL:         cfg.Server.PageTTL,
		ProtocolVersion: cfg.Service.Protocol,
	}, set, log.Named("server"))

	return &Service{Server: srv, sources: closer}, nil
}

// Close stops the server and releases the sources.
func (s *Service) Close() error {
	err := s.Server.Stop()
	if s.sources != nil {
		err = multierr.Append(err, s.sources.Close())
	}

	return err
}
