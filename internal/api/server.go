// Package api exposes the recording and query surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/calendar"
	"github.com/goodtune/screentime/internal/eyetime"
	"github.com/goodtune/screentime/internal/stats"
	"github.com/goodtune/screentime/internal/timezone"
	"github.com/goodtune/screentime/internal/tracker"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the public HTTP server: event ingestion plus stats queries.
type Server struct {
	config   Config
	tracker  *tracker.Tracker
	stats    *stats.Query
	eyetime  *eyetime.Query
	tz       *timezone.Converter
	calendar *calendar.Calculator
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg Config, tr *tracker.Tracker, statsQuery *stats.Query, eyeQuery *eyetime.Query, tz *timezone.Converter, cal *calendar.Calculator, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:   cfg,
		tracker:  tr,
		stats:    statsQuery,
		eyetime:  eyeQuery,
		tz:       tz,
		calendar: cal,
		router:   router,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/usage", s.handleRecordUsage).Methods(http.MethodPost)
	api.HandleFunc("/battery", s.handleRecordBattery).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)

	api.HandleFunc("/stats/daily", s.handleDailyStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/weekly", s.handleWeeklyStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/monthly", s.handleMonthlyStats).Methods(http.MethodGet)

	api.HandleFunc("/eyetime/daily", s.handleDailyEyeTime).Methods(http.MethodGet)
	api.HandleFunc("/eyetime/weekly", s.handleWeeklyEyeTime).Methods(http.MethodGet)
	api.HandleFunc("/eyetime/monthly", s.handleMonthlyEyeTime).Methods(http.MethodGet)
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener provides a pre-bound listener, used with socket activation.
func (s *Server) SetListener(l net.Listener) {
	s.listener = l
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
