// Package server exposes the bet ingestion and monitoring API over HTTP and
// the result feed over websocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/server/handler"
	"github.com/alanyoungcy/drawcore/internal/server/middleware"
	"github.com/alanyoungcy/drawcore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// BetRateLimit is the number of bets one client may post per second;
	// zero disables limiting.
	BetRateLimit int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Bets    *handler.BetHandler
	Periods *handler.PeriodHandler
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const periodPath = "/api/periods/{kind}/{duration}/{timeline}/{period}"

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	var placeBet http.Handler = http.HandlerFunc(handlers.Bets.PlaceBet)
	if limiter != nil && cfg.BetRateLimit > 0 {
		placeBet = middleware.RateLimit(limiter, "bets", cfg.BetRateLimit, time.Second)(placeBet)
	}
	mux.Handle("POST /api/bets", placeBet)

	mux.HandleFunc("GET "+periodPath, handlers.Periods.GetStatus)
	mux.HandleFunc("GET "+periodPath+"/exposure", handlers.Periods.GetExposure)
	mux.HandleFunc("GET "+periodPath+"/candidates", handlers.Periods.GetCandidates)
	mux.HandleFunc("GET "+periodPath+"/result", handlers.Periods.GetResult)
	mux.HandleFunc("GET /api/results/recent", handlers.Periods.ListRecentResults)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
