// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/modules/alerts"
	"github.com/aristath/spyglass/internal/modules/patterns"
	"github.com/aristath/spyglass/internal/modules/portfolio"
	"github.com/aristath/spyglass/internal/modules/scoring"
	"github.com/aristath/spyglass/internal/modules/trades"
	"github.com/aristath/spyglass/internal/reliability"
	"github.com/aristath/spyglass/internal/store"
	"github.com/aristath/spyglass/internal/syncer"
)

// Deps bundles everything the handlers reach for.
type Deps struct {
	Cfg *config.Config
	DB  *database.DB

	Users     *store.UserRepository
	Accounts  *store.AccountRepository
	Positions *store.PositionRepository
	Trades    *store.TradeRepository
	Snapshots *store.SnapshotRepository
	Watchlist *store.WatchlistRepository
	Bars      *store.BarRepository
	SyncLogs  *store.SyncLogRepository
	Alerts    *store.AlertRepository

	Syncer    *syncer.Syncer
	Scorer    *scoring.Scorer
	Analyzer  *portfolio.Analyzer
	Pairer    *trades.Pairer
	Evaluator *alerts.Evaluator
	Cache     *cache.Cache
	Backups   *reliability.BackupService // nil when backups are not configured

	Log zerolog.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	deps    Deps
	scanner *patterns.Scanner
	started time.Time
	log     zerolog.Logger
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		deps:    deps,
		scanner: patterns.NewScanner(deps.Log),
		started: time.Now(),
		log:     deps.Log.With().Str("module", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/analyze", func(r chi.Router) {
			r.Get("/{symbol}", s.handleAnalyze)
			r.Get("/{symbol}/vcp", s.handleVCP)
			r.Get("/{symbol}/patterns", s.handlePatterns)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)
			r.Get("/{username}/portfolio", s.handlePortfolio)
			r.Get("/{username}/trades/stats", s.handleTradeStats)
			r.Get("/{username}/watchlist", s.handleWatchlist)
			r.Get("/{username}/alerts", s.handleListAlerts)
			r.Post("/{username}/alerts", s.handleCreateAlert)
		})

		r.Post("/backtest", s.handleBacktest)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/{username}", s.handleSyncAll)
			r.Post("/{username}/klines", s.handleSyncKlines)
			r.Get("/logs", s.handleSyncLogs)
		})

		r.Post("/alerts/evaluate", s.handleEvaluateAlerts)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.handleListBackups)
			r.Post("/", s.handleRunBackup)
		})
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Cfg.Port).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
