package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cptrack/internal/config"
	"cptrack/internal/domain"
	"cptrack/internal/logging"
	"cptrack/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the HTTP API. DeadLetters, Metrics and
// Gatherer are optional; an empty ExportDir disables saved exports.
type Deps struct {
	Queue       domain.SyncQueue
	Store       domain.CPStore
	DeadLetters domain.DeadLetterReader
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *zerolog.Logger
	// ExportDir receives reports saved through the API.
	ExportDir string
}

// HTTPServer exposes the sync queue and the stored CP data over JSON.
type HTTPServer struct {
	cfg         config.APIConfig
	queue       domain.SyncQueue
	store       domain.CPStore
	deadLetters domain.DeadLetterReader
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	exportDir   string
	logger      *zerolog.Logger
	limiter     *rateLimiter
	server      *http.Server
	now         func() time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

func NewHTTPServer(cfg config.APIConfig, deps Deps) *HTTPServer {
	srv := &HTTPServer{
		cfg:         cfg,
		queue:       deps.Queue,
		store:       deps.Store,
		deadLetters: deps.DeadLetters,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		exportDir:   deps.ExportDir,
		logger:      logging.Component(deps.Logger, "api"),
		limiter:     newRateLimiter(cfg.RateLimit),
		now:         time.Now,
		closing:     make(chan struct{}),
	}
	if srv.gatherer == nil {
		srv.gatherer = prometheus.DefaultGatherer
	}

	// No WriteTimeout: the status stream stays open.
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Router builds the chi routing tree.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Wrap)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/user-stats", s.handleSyncUserStats)
			r.Post("/contests", s.handleSyncContests)
			r.Post("/recommendations", s.handleSyncRecommendations)
			r.Post("/leaderboard", s.handleSyncLeaderboard)
			r.Post("/verification", s.handleSyncVerification)

			r.Get("/status", s.handleStatus)
			r.Get("/status/stream", s.handleStatusStream)
			r.Get("/operations", s.handlePending)
			r.Get("/failed", s.handleFailed)
			r.Get("/failed/export", s.handleExport)
			r.Post("/failed/export", s.handleSaveExport)
			r.Get("/dead-letters", s.handleDeadLetters)
			r.Post("/retry-failed", s.handleRetryFailed)
			r.Delete("/queue", s.handleClearQueue)
		})

		r.Route("/users/{handle}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Get("/contests", s.handleUserContests)
			r.Get("/recommendations", s.handleUserRecommendations)
			r.Get("/verification", s.handleVerification)
		})
		r.Get("/leaderboard/{college}", s.handleLeaderboard)
	})
	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open status streams and then drains the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
