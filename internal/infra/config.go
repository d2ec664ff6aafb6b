package infra

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/attaboy/matchsync/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Remote service
	APIBaseURL  string        `env:"SYNC_API_BASE_URL" envDefault:"http://localhost:8000/api/v1"`
	HTTPTimeout time.Duration `env:"SYNC_HTTP_TIMEOUT" envDefault:"30s"`

	// Pollers
	LiveInterval       time.Duration `env:"SYNC_LIVE_INTERVAL" envDefault:"5s"`
	SettlementInterval time.Duration `env:"SYNC_SETTLEMENT_INTERVAL" envDefault:"5s"`

	// Fetching
	MaxGroupFetches   int           `env:"SYNC_MAX_GROUP_FETCHES" envDefault:"4"`
	RefreshLimit      int           `env:"SYNC_REFRESH_LIMIT" envDefault:"3"`
	RefreshWindow     time.Duration `env:"SYNC_REFRESH_WINDOW" envDefault:"10s"`
	DefaultWindowDays int           `env:"SYNC_DEFAULT_WINDOW_DAYS" envDefault:"1"`
	AutoLoad          bool          `env:"SYNC_AUTOLOAD" envDefault:"true"`

	// Server
	APIPort            int    `env:"API_PORT" envDefault:"3200"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"matchsync.tickets"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configuration the engine cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SYNC_API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("SYNC_HTTP_TIMEOUT must be positive")
	}
	if c.LiveInterval <= 0 || c.SettlementInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.MaxGroupFetches < 1 {
		return fmt.Errorf("SYNC_MAX_GROUP_FETCHES must be at least 1, got %d", c.MaxGroupFetches)
	}
	if c.RefreshLimit < 1 || c.RefreshWindow <= 0 {
		return fmt.Errorf("SYNC_REFRESH_LIMIT and SYNC_REFRESH_WINDOW must be positive")
	}
	if err := domain.ValidateWindowDays(c.DefaultWindowDays); err != nil {
		return fmt.Errorf("SYNC_DEFAULT_WINDOW_DAYS: %w", err)
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_ENABLED=true")
	}
	return nil
}

// Addr returns the listen address for the presentation API.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.APIPort)
}
