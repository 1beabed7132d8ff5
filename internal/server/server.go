// Package server provides the HTTP server and routing for the coordinator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/cerbero/coordinator/internal/modules/signals"
	"github.com/cerbero/coordinator/internal/services"
)

// IntentSubmitter accepts tenant trade intents
type IntentSubmitter interface {
	Submit(ctx context.Context, intent domain.TradeIntent) (*services.IntentResult, error)
}

// ScanRunner runs one scan cycle on demand
type ScanRunner interface {
	RunCycle(ctx context.Context) (*services.ScanReport, error)
}

// UnitHandler processes a dispatch unit delivered over HTTP
type UnitHandler interface {
	Handle(ctx context.Context, unit domain.DispatchUnit) error
}

// FeedResolver resolves a raw feed id
type FeedResolver interface {
	ResolveFeed(ctx context.Context, feedID string) (domain.PriceQuote, error)
}

// BlockReader reads the settlement chain head
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// LedgerReader reads dispatch records and failures
type LedgerReader interface {
	Get(ctx context.Context, correlationID string) (domain.DispatchRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.DispatchRecord, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.DispatchRecord, error)
	ListFailures(ctx context.Context, limit int) ([]domain.PipelineFailure, error)
}

// SignalReader reads recorded signals
type SignalReader interface {
	ListRecent(ctx context.Context, limit int) ([]signals.Signal, error)
}

// JobCounter reports dispatch job counts by status
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Config holds server configuration and the services behind the routes.
// Chain and Jobs may be nil. ScanTimeout bounds POST /tick the way it bounds the scheduled scan.
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	RequestTimeout time.Duration
	ScanTimeout    time.Duration
	Intents        IntentSubmitter
	Scanner        ScanRunner
	Worker         UnitHandler
	Feeds          FeedResolver
	Chain          BlockReader
	Ledger         LedgerReader
	Signals        SignalReader
	Jobs           JobCounter
	Bus            *events.Bus
	Databases      []*database.DB
	SettlementMode string
	TransportKind  string
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	cfg       Config
	startedAt time.Time
	log       zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 2 * time.Minute
	}

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		startedAt: time.Now(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: max(cfg.RequestTimeout, cfg.ScanTimeout) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	// The websocket stream is long-lived and stays outside the request timeout
	s.router.Get("/api/events/ws", s.handleEventsWS)

	s.router.With(middleware.Timeout(s.cfg.ScanTimeout)).Post("/tick", s.handleTick)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/healthz", s.handleHealth)
		r.Post("/v1/trade-intent", s.handleTradeIntent)
		r.Post("/worker", s.handleWorker)
		r.Get("/pyth/price", s.handlePythPrice)
		r.Get("/arbi/block", s.handleArbiBlock)

		r.Route("/api", func(r chi.Router) {
			r.Get("/dispatches", s.handleListDispatches)
			r.Get("/dispatches/{id}", s.handleGetDispatch)
			r.Get("/failures", s.handleListFailures)
			r.Get("/signals", s.handleListSignals)
			r.Get("/system/status", s.handleSystemStatus)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.log.Info()
		if r.URL.Path == "/healthz" {
			event = s.log.Debug()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
