package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/screentime/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the screentime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	fmt.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)
	fmt.Fprintf(os.Stdout, "  storage:  %s\n", cfg.Storage.Type)
	if cfg.Timezone.Name != "" {
		fmt.Fprintf(os.Stdout, "  timezone: %s\n", cfg.Timezone.Name)
	} else {
		fmt.Fprintf(os.Stdout, "  timezone: UTC%+g\n", cfg.Timezone.OffsetHours)
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	return nil
}

// findUnknownKeys reports keys in the config file that the application does
// not recognize.
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.http_port":    true,
		"server.metrics_port": true,
		"server.bind_address": true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Timezone
		"timezone.name":         true,
		"timezone.offset_hours": true,

		// Tracker
		"tracker.history_limit": true,
		"tracker.max_devices":   true,
	}
}
