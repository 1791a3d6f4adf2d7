// Package config loads server settings from defaults, an optional .env file
// and MEETINGS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	Port        int
	DBDriver    string // "sqlite3" or "postgres"
	DSN         string
	LogLevel    string
	Environment string

	ForecastCron          string
	ForecastHorizonMonths int
	HistoryMonths         int

	BulkWorkers     int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_driver", "sqlite3")
	v.SetDefault("dsn", "meetings.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "development")
	v.SetDefault("forecast_cron", "@every 1h")
	v.SetDefault("forecast_horizon_months", 3)
	v.SetDefault("history_months", 12)
	v.SetDefault("bulk_workers", 4)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("cors_origins", "*")
}

// Load reads configuration. envFile may be empty; a missing file is not an
// error, existing environment variables are never overridden by it.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix("MEETINGS")
	v.AutomaticEnv()

	cfg := &Config{
		Port:                  v.GetInt("port"),
		DBDriver:              strings.ToLower(v.GetString("db_driver")),
		DSN:                   v.GetString("dsn"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		Environment:           strings.ToLower(v.GetString("environment")),
		ForecastCron:          v.GetString("forecast_cron"),
		ForecastHorizonMonths: v.GetInt("forecast_horizon_months"),
		HistoryMonths:         v.GetInt("history_months"),
		BulkWorkers:           v.GetInt("bulk_workers"),
		ShutdownTimeout:       v.GetDuration("shutdown_timeout"),
		CORSOrigins:           splitList(v.GetString("cors_origins")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is not set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BulkWorkers < 1 {
		return fmt.Errorf("bulk workers must be at least 1, got %d", c.BulkWorkers)
	}
	if c.ForecastHorizonMonths < 1 {
		return fmt.Errorf("forecast horizon must be at least 1 month, got %d", c.ForecastHorizonMonths)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
