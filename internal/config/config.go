// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. Poll interval, API
// token and the enabled flag live in the database, not here: they are
// runtime state shared between sessions, while everything below is fixed
// per process.
type Config struct {
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	DBURL                string        `mapstructure:"DB_URL"`
	ListenAddr           string        `mapstructure:"LISTEN_ADDR"`
	SourceFetchTimeout   time.Duration `mapstructure:"SOURCE_FETCH_TIMEOUT"`
	ReconcileInterval    time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	CycleConcurrency     int           `mapstructure:"CYCLE_CONCURRENCY"`
	NotificationsEnabled bool          `mapstructure:"NOTIFICATIONS_ENABLED"`
	DiscordWebhookURL    string        `mapstructure:"DISCORD_WEBHOOK_URL"`
	SlackWebhookURL      string        `mapstructure:"SLACK_WEBHOOK_URL"`
	GenericWebhookURL    string        `mapstructure:"GENERIC_WEBHOOK_URL"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("SOURCE_FETCH_TIMEOUT", "30s")
	viper.SetDefault("RECONCILE_INTERVAL", "10s")
	viper.SetDefault("CYCLE_CONCURRENCY", 5)
	viper.SetDefault("NOTIFICATIONS_ENABLED", false)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.SourceFetchTimeout <= 0 {
		return nil, errors.New("SOURCE_FETCH_TIMEOUT must be a positive duration")
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, errors.New("RECONCILE_INTERVAL must be a positive duration")
	}
	if cfg.CycleConcurrency < 1 {
		return nil, errors.New("CYCLE_CONCURRENCY must be at least 1")
	}

	return &cfg, nil
}
