// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache and streams (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Optional AMQP broker for external event fan-out.
	// Empty disables the AMQP publisher.
	AMQPURL      string `env:"AMQP_URL" envDefault:""`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"inkwell.events"`

	// Content type definitions (YAML file)
	ContentTypesPath  string `env:"CONTENT_TYPES_PATH" envDefault:"content-types.yaml"`
	ContentTypesWatch bool   `env:"CONTENT_TYPES_WATCH" envDefault:"true"`

	// JWT sessions for backoffice users
	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"12h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Recurring task cadence
	TrashRetention    time.Duration `env:"TRASH_RETENTION" envDefault:"720h"` // 30 days
	TrashPurgeEvery   time.Duration `env:"TRASH_PURGE_EVERY" envDefault:"1h"`
	IndexSweepEvery   time.Duration `env:"INDEX_SWEEP_EVERY" envDefault:"5m"`
	DispatchEvery     time.Duration `env:"DISPATCH_EVERY" envDefault:"2s"`
	DeliveryEvery     time.Duration `env:"DELIVERY_EVERY" envDefault:"5s"`
	TaskInitialDelay  time.Duration `env:"TASK_INITIAL_DELAY" envDefault:"10s"`
	SchedulerLeases   bool          `env:"SCHEDULER_LEASES" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://backoffice.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AMQPEnabled reports whether the AMQP event publisher is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
