// Package config loads the runtime configuration once at boot. The resulting
// Config struct is immutable; components receive it (or the slice of it they
// need) as an explicit parameter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Lease duration bounds.
const (
	MinLeaseDuration = 30 * time.Second
	MaxLeaseDuration = 60 * time.Minute
)

// Config is the process-wide configuration, read-only after Load.
type Config struct {
	// DatabaseURL selects the backend: a postgres:// URL for the server
	// dialect, anything else is treated as a SQLite path. ":memory:" (or a
	// file: URI) gives the embedded test backend.
	DatabaseURL string

	// MigrationDir overrides the embedded migrations with an external
	// directory of ordered SQL files. Empty means embedded.
	MigrationDir string

	// AuthDisabled makes every request act as an anonymous admin.
	// Test harness use only.
	AuthDisabled bool

	LeaseDuration         time.Duration
	ReservationDefaultTTL time.Duration

	MetricsBatchCadence time.Duration
	MetricsNRTCadence   time.Duration
	MetricsBatchSize    int
	MetricsNRTBatchSize int

	// SweepInterval is the cadence of the lease/reservation expiration
	// sweeper. Capped at 30s.
	SweepInterval time.Duration

	LogLevel string
	LogFile  string
}

// Load reads configuration from foreman.yaml (working directory, then the
// user config directory) and FOREMAN_* environment variables, env taking
// precedence. Missing files are fine; defaults cover every option.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate the config file so a stray foreman.json is never
	// picked up.
	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database-url", "foreman.db")
	v.SetDefault("migration-dir", "")
	v.SetDefault("auth-disabled", false)
	v.SetDefault("lease-duration", "5m")
	v.SetDefault("reservation-default-ttl", "1800s")
	v.SetDefault("metrics-batch-cadence", "900s")
	v.SetDefault("metrics-nrt-cadence", "30s")
	v.SetDefault("metrics-batch-size", 10000)
	v.SetDefault("metrics-nrt-batch-size", 500)
	v.SetDefault("sweep-interval", "15s")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")

	cfg := &Config{
		DatabaseURL:           v.GetString("database-url"),
		MigrationDir:          v.GetString("migration-dir"),
		AuthDisabled:          v.GetBool("auth-disabled"),
		LeaseDuration:         v.GetDuration("lease-duration"),
		ReservationDefaultTTL: v.GetDuration("reservation-default-ttl"),
		MetricsBatchCadence:   v.GetDuration("metrics-batch-cadence"),
		MetricsNRTCadence:     v.GetDuration("metrics-nrt-cadence"),
		MetricsBatchSize:      v.GetInt("metrics-batch-size"),
		MetricsNRTBatchSize:   v.GetInt("metrics-nrt-batch-size"),
		SweepInterval:         v.GetDuration("sweep-interval"),
		LogLevel:              v.GetString("log-level"),
		LogFile:               v.GetString("log-file"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration, useful for tests.
func Default() *Config {
	return &Config{
		DatabaseURL:           "foreman.db",
		LeaseDuration:         5 * time.Minute,
		ReservationDefaultTTL: 1800 * time.Second,
		MetricsBatchCadence:   900 * time.Second,
		MetricsNRTCadence:     30 * time.Second,
		MetricsBatchSize:      10000,
		MetricsNRTBatchSize:   500,
		SweepInterval:         15 * time.Second,
		LogLevel:              "info",
	}
}

// Validate enforces option ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.LeaseDuration < MinLeaseDuration || c.LeaseDuration > MaxLeaseDuration {
		return fmt.Errorf("lease-duration %s outside allowed range [%s, %s]",
			c.LeaseDuration, MinLeaseDuration, MaxLeaseDuration)
	}
	ttl := int(c.ReservationDefaultTTL / time.Second)
	if ttl < 60 || ttl > 86400 {
		return fmt.Errorf("reservation-default-ttl %s outside allowed range [60s, 86400s]", c.ReservationDefaultTTL)
	}
	if c.SweepInterval <= 0 || c.SweepInterval > 30*time.Second {
		return fmt.Errorf("sweep-interval %s outside allowed range (0, 30s]", c.SweepInterval)
	}
	if c.MetricsBatchSize <= 0 || c.MetricsNRTBatchSize <= 0 {
		return fmt.Errorf("metrics batch sizes must be positive")
	}
	return nil
}

// findConfigFile resolves the config file path. Precedence:
// ./foreman.yaml > <user config dir>/foreman/config.yaml.
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		path := filepath.Join(cwd, "foreman.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "foreman", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
