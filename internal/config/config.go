package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the stream watcher
type Config struct {
	// Instance configuration
	InstanceID string `env:"INSTANCE_ID" envDefault:"stream-watcher-1"`

	// Supervisor configuration
	CheckCycleSeconds int           `env:"CHECK_CYCLE_SECONDS" envDefault:"10"`
	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`
	WorkersFile       string        `env:"WORKERS_FILE" envDefault:"workers.yaml"`

	// Worker defaults
	ImageCallbackInterval int           `env:"IMAGE_CALLBACK_INTERVAL" envDefault:"10"`
	CheckCallbackInterval int           `env:"CHECK_CALLBACK_INTERVAL" envDefault:"10"`
	CallbackPoolSize      int           `env:"CALLBACK_POOL_SIZE" envDefault:"10"`
	CallbackQueueSize     int           `env:"CALLBACK_QUEUE_SIZE" envDefault:"100"`
	CheckEnabled          bool          `env:"CHECK_ENABLED" envDefault:"false"`
	ChildStartTimeout     time.Duration `env:"CHILD_START_TIMEOUT" envDefault:"15s"`
	SourceOpenTimeout     time.Duration `env:"SOURCE_OPEN_TIMEOUT" envDefault:"10s"`

	// Redis configuration (event stream, optional)
	RedisAddr         string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword     string `env:"REDIS_PASS" envDefault:""`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	EventStream       string `env:"EVENT_STREAM" envDefault:"stream-watcher.events"`
	EventStreamMaxLen int64  `env:"EVENT_STREAM_MAXLEN" envDefault:"10000"`

	// MQTT configuration (events, optional)
	MQTTBroker string `env:"MQTT_BROKER" envDefault:""`
	MQTTTopic  string `env:"MQTT_TOPIC" envDefault:"stream-watcher/events"`

	// Health check configuration
	HealthPort int `env:"HEALTH_PORT" envDefault:"8083"`

	// Logging configuration
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("INSTANCE_ID is required")
	}

	if c.CheckCycleSeconds <= 0 {
		return fmt.Errorf("CHECK_CYCLE_SECONDS must be positive")
	}

	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be positive")
	}

	if c.ImageCallbackInterval <= 0 {
		return fmt.Errorf("IMAGE_CALLBACK_INTERVAL must be positive")
	}

	if c.CheckCallbackInterval <= 0 {
		return fmt.Errorf("CHECK_CALLBACK_INTERVAL must be positive")
	}

	if c.CallbackPoolSize <= 0 {
		return fmt.Errorf("CALLBACK_POOL_SIZE must be positive")
	}

	if c.CallbackQueueSize < 0 {
		return fmt.Errorf("CALLBACK_QUEUE_SIZE must be non-negative")
	}

	if c.ChildStartTimeout <= 0 {
		return fmt.Errorf("CHILD_START_TIMEOUT must be positive")
	}

	if c.SourceOpenTimeout <= 0 {
		return fmt.Errorf("SOURCE_OPEN_TIMEOUT must be positive")
	}

	if c.RedisAddr != "" && c.EventStream == "" {
		return fmt.Errorf("EVENT_STREAM is required when REDIS_ADDR is set")
	}

	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return fmt.Errorf("MQTT_TOPIC is required when MQTT_BROKER is set")
	}

	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 1 and 65535")
	}

	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	return nil
}

// isValidLogLevel checks if the log level is valid
func isValidLogLevel(level string) bool {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	return validLevels[level]
}

// CheckCycle returns the supervisor poll interval
func (c *Config) CheckCycle() time.Duration {
	return time.Duration(c.CheckCycleSeconds) * time.Second
}

// RedisEnabled reports whether Redis events are configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// MQTTEnabled reports whether MQTT events are configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// String returns a string representation of the config (without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{InstanceID=%s, CheckCycleSeconds=%d, WorkersFile=%s, ImageCallbackInterval=%d, "+
			"CheckCallbackInterval=%d, CallbackPoolSize=%d, CheckEnabled=%v, RedisAddr=%s, RedisDB=%d, "+
			"MQTTBroker=%s, HealthPort=%d, LogLevel=%s}",
		c.InstanceID,
		c.CheckCycleSeconds,
		c.WorkersFile,
		c.ImageCallbackInterval,
		c.CheckCallbackInterval,
		c.CallbackPoolSize,
		c.CheckEnabled,
		c.RedisAddr,
		c.RedisDB,
		c.MQTTBroker,
		c.HealthPort,
		c.LogLevel,
	)
}
