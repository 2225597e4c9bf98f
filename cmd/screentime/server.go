package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/calendar"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/distributor"
	"github.com/goodtune/screentime/internal/eyetime"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/stats"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/storage/bolt"
	"github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/systemd"
	"github.com/goodtune/screentime/internal/timezone"
	"github.com/goodtune/screentime/internal/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the screentime server",
	Long:  `Start the screentime server with the recording API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting screentime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	tz, err := timezone.NewConverter(cfg.Timezone.Spec())
	if err != nil {
		return fmt.Errorf("failed to initialize timezone: %w", err)
	}
	cal := calendar.NewCalculator(tz, calendar.RealClock{})

	logger.Info().
		Str("location", tz.Location().String()).
		Msg("Timezone initialized")

	dist := distributor.New(tz, store.Usage(), logger)

	recorder, err := eyetime.NewRecorder(tz, store.EyeTime(), cfg.Tracker.MaxDevices, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize eye time recorder: %w", err)
	}

	deviceTracker, err := tracker.New(tracker.Config{
		HistoryLimit: cfg.Tracker.HistoryLimit,
		MaxDevices:   cfg.Tracker.MaxDevices,
	}, dist, recorder, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}

	logger.Info().
		Int("history_limit", cfg.Tracker.HistoryLimit).
		Int("max_devices", cfg.Tracker.MaxDevices).
		Msg("Tracker initialized")

	apiServer := api.NewServer(
		api.Config{ListenAddr: fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)},
		deviceTracker,
		stats.NewQuery(tz, cal, store.Usage()),
		eyetime.NewQuery(tz, cal, store.EyeTime()),
		tz, cal, logger)
	if sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("Screentime startup complete")
	logger.Info().Msgf("API: http://%s:%d/api", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd readiness")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("Screentime stopped")
	return nil
}

// openStorage opens the configured storage backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt", "":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
