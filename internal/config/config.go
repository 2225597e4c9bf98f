package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Timezone TimezoneConfig `mapstructure:"timezone"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
}

// ServerConfig defines server ports and addresses.
type ServerConfig struct {
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TimezoneConfig selects the local calendar all usage is accounted in.
// Either a named IANA zone or a fixed hour offset; name wins when both are
// set.
type TimezoneConfig struct {
	Name        string  `mapstructure:"name"`
	OffsetHours float64 `mapstructure:"offset_hours"`
}

// Spec resolves the config into a timezone spec for the converter.
func (t TimezoneConfig) Spec() timezone.Spec {
	if t.Name != "" {
		return timezone.Named(t.Name)
	}
	return timezone.FixedOffset(t.OffsetHours)
}

// TrackerConfig defines activity tracker settings.
type TrackerConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	MaxDevices   int `mapstructure:"max_devices"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCREENTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults applies default configuration values to a viper instance.
func SetDefaults(v *viper.Viper) {
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/screentime/screentime.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Timezone defaults
	v.SetDefault("timezone.name", "Asia/Shanghai")
	v.SetDefault("timezone.offset_hours", 0)

	// Tracker defaults
	v.SetDefault("tracker.history_limit", 20)
	v.SetDefault("tracker.max_devices", 1024)
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		if err := storage.EnsureDir(filepath.Dir(cfg.Storage.Path)); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Timezone.Name == "" && (cfg.Timezone.OffsetHours < -12 || cfg.Timezone.OffsetHours > 12) {
		return fmt.Errorf("timezone offset %.2f out of range -12..+12", cfg.Timezone.OffsetHours)
	}

	if cfg.Tracker.HistoryLimit <= 0 {
		cfg.Tracker.HistoryLimit = 20
	}
	if cfg.Tracker.MaxDevices <= 0 {
		cfg.Tracker.MaxDevices = 1024
	}

	return nil
}
