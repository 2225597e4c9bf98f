package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingestion metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_events_total",
			Help: "Total activity and battery events ingested",
		},
		[]string{"type"},
	)

	MinutesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_minutes_recorded_total",
			Help: "Usage minutes written into hourly buckets",
		},
		[]string{"device"},
	)

	MinutesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_minutes_dropped_total",
			Help: "Usage minutes discarded by the distribution safety valve",
		},
		[]string{"device"},
	)

	// Storage metrics
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_storage_errors_total",
			Help: "Storage read/write failures",
		},
		[]string{"op"},
	)

	// Tracker metrics
	TrackedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screentime_tracked_devices",
			Help: "Number of devices with tracked activity state",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		MinutesRecorded,
		MinutesDropped,
		StorageErrors,
		TrackedDevices,
	)
}

// Server is the metrics HTTP server.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // optional pre-created listener (systemd socket activation)
}

// NewServer creates a new metrics server.
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
