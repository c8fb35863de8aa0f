// Package server implements the reference remote data service. It materializes
// pages from upstream sources and serves them over the request/poll HTTP API
// and the chunked WebSocket stream.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/internal/version"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice/source"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Config holds configuration for the data service.
type Config struct {
	// ChunkSize is the number of records per stream chunk. Datasets up to this
	// size go out as a single data frame.
	ChunkSize int
	// PageTTL is how long an unaccessed page is kept.
	PageTTL time.Duration
	// ProtocolVersion announced in the protocol header.
	ProtocolVersion string
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       50000,
		PageTTL:         10 * time.Minute,
		ProtocolVersion: version.ProtocolVersion,
	}
}

// Server is the reference data service.
type Server struct {
	config   Config
	sources  source.Set
	logger   *logger.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	now      func() time.Time

	mu    sync.Mutex
	pages map[string]*materializedPage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpServer *http.Server
	listener   net.Listener
}

// New creates a data service over sources.
func New(config Config, sources source.Set, log *logger.Logger) *Server {
	defaults := DefaultConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}

	if config.PageTTL <= 0 {
		config.PageTTL = defaults.PageTTL
	}

	if config.ProtocolVersion == "" {
		config.ProtocolVersion = defaults.ProtocolVersion
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		sources:  sources,
		logger:   log,
		validate: validator.New(),
		//nolint:exhaustruct // third-party struct with many optional fields
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		now:        time.Now,
		mu:         sync.Mutex{},
		pages:      make(map[string]*materializedPage),
		ctx:        ctx,
		cancel:     cancel,
		wg:         sync.WaitGroup{},
		httpServer: nil,
		listener:   nil,
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.protocolMiddleware)

	router.HandleFunc("/v1/pages", s.handleRequestPage).Methods(http.MethodPost)
	router.HandleFunc("/v1/pages/{key}/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/pages/{key}/data", s.handleData).Methods(http.MethodGet)
	router.HandleFunc("/v1/stream", s.handleStream)

	return router
}

// Start serves on address. If address is empty or ":0", a random port is used.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeTransportUnavailable, err, "failed to listen on %s", address)
	}

	s.listener = listener
	//nolint:exhaustruct // third-party struct with many optional fields
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.sweepLoop()
	}()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("Data service listening", zap.String("address", listener.Addr().String()))

	return nil
}

// Stop shuts the service down and cancels in-flight materializations.
func (s *Server) Stop() error {
	s.cancel()

	var err error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = s.httpServer.Shutdown(ctx)
	}

	s.wg.Wait()

	return err
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the server.
func (s *Server) BaseURL() string {
	return "http://" + s.Address()
}

// PageCount returns the number of materialized pages.
func (s *Server) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pages)
}

// Sweep drops pages not accessed within the TTL.
func (s *Server) Sweep() int {
	cutoff := s.now().Add(-s.config.PageTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for key, p := range s.pages {
		if !p.busy() && p.idleSince().Before(cutoff) {
			delete(s.pages, key)
			removed++
		}
	}

	return removed
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.config.PageTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("Swept idle pages", zap.Int("count", n))
			}
		}
	}
}

// pageKey is an opaque, URL-safe identity derived from the spec.
func pageKey(spec dataservice.PageSpec) string {
	return strconv.FormatUint(xxh3.HashString(spec.CacheKey()), 16)
}

func (s *Server) validateSpec(spec dataservice.PageSpec) error {
	if err := s.validate.Struct(spec); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid page spec", err)
	}

	if !spec.Kind.Valid() {
		return errors.Newf(errors.ErrCodeInvalidDataKind, "unknown data kind: %q", spec.Kind)
	}

	if spec.Kind.UsesTimeframe() && !spec.Timeframe.Valid() {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe: %q", spec.Timeframe)
	}

	return nil
}

// materialize returns the page for spec, starting its load if it is new.
func (s *Server) materialize(spec dataservice.PageSpec) *materializedPage {
	if !spec.Kind.UsesTimeframe() {
		spec.Timeframe = ""
	}

	key := pageKey(spec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[key]; ok {
		return p
	}

	p := newMaterializedPage(key, spec, s.now())
	s.pages[key] = p

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		data, err := load(s.ctx, s.sources, spec, p.setProgress)
		if err != nil {
			s.logger.Warn("Page materialization failed",
				zap.String("page", spec.CacheKey()),
				zap.Error(err),
			)
		} else {
			s.logger.Debug("Page materialized",
				zap.String("page", spec.CacheKey()),
				zap.Int("records", data.Len()),
			)
		}

		p.finish(data, err)
	}()

	return p
}

func (s *Server) lookup(key string) (*materializedPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[key]

	return p, ok
}

func (s *Server) protocolMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(dataservice.ProtocolHeader, s.config.ProtocolVersion)

		if clientVersion := r.Header.Get(dataservice.ProtocolHeader); clientVersion != "" {
			if err := version.CheckProtocolCompatibility(clientVersion, s.config.ProtocolVersion); err != nil {
				writeError(w, http.StatusUpgradeRequired, err)

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// handleRequestPage handles POST /v1/pages
func (s *Server) handleRequestPage(w http.ResponseWriter, r *http.Request) {
	var spec dataservice.PageSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid request body", err))

		return
	}

	if err := s.validateSpec(spec); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	p := s.materialize(spec)
	writeJSON(w, http.StatusOK, dataservice.PageCreatedResponse{Key: p.key})
}

// handleStatus handles GET /v1/pages/{key}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(mux.Vars(r)["key"])
	if !ok {
		writeError(w, http.StatusNotFound, errors.New(errors.ErrCodePageNotFound, "page not found"))

		return
	}

	writeJSON(w, http.StatusOK, p.snapshot(s.now()).status)
}

// handleData handles GET /v1/pages/{key}/data
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(mux.Vars(r)["key"])
	if !ok {
		writeError(w, http.StatusNotFound, errors.New(errors.ErrCodePageNotFound, "page not found"))

		return
	}

	snap := p.snapshot(s.now())
	if snap.status.State != types.PageStateReady {
		writeError(w, http.StatusConflict, errors.Newf(errors.ErrCodePageNotReady, "page is %s", snap.status.State))

		return
	}

	payload, err := snap.data.Encode(0, snap.data.Len())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	frame := dataservice.Frame{
		Kind:    p.spec.Kind,
		Index:   0,
		Total:   0,
		Count:   snap.data.Len(),
		Payload: payload,
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Marshal())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, dataservice.ErrorResponse{Error: errors.Message(err)})
}
