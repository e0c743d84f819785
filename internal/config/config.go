// Package config loads the raffle service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Raffle     RaffleConfig     `yaml:"raffle"`
	Randomness RandomnessConfig `yaml:"randomness"`
	Keeper     KeeperConfig     `yaml:"keeper"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig configures the optional Postgres store. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RaffleConfig configures the raffle instance.
type RaffleConfig struct {
	EntranceFee     int64 `yaml:"entrance_fee"`
	IntervalSeconds int64 `yaml:"interval_seconds"`
}

// Interval returns the configured interval as a duration.
func (c RaffleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RandomnessConfig configures the randomness provider parameters.
type RandomnessConfig struct {
	GasLane             string `yaml:"gas_lane"`
	SubscriptionID      uint64 `yaml:"subscription_id"`
	CallbackGasLimit    uint32 `yaml:"callback_gas_limit"`
	FulfillmentDelayMS  int64  `yaml:"fulfillment_delay_ms"`
	DeliveryMaxAttempts int    `yaml:"delivery_max_attempts"`
	DeliveryBackoffMS   int64  `yaml:"delivery_backoff_ms"`
}

// KeeperConfig configures the upkeep scheduler.
type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the default when the
// file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8090},
		Log:    LogConfig{Level: "info"},
		Raffle: RaffleConfig{
			EntranceFee:     10_000_000, // 0.1 GAS
			IntervalSeconds: 30,
		},
		Randomness: RandomnessConfig{
			GasLane:             "default",
			SubscriptionID:      1,
			CallbackGasLimit:    500_000,
			FulfillmentDelayMS:  3_000,
			DeliveryMaxAttempts: 5,
			DeliveryBackoffMS:   2_000,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 15s",
		},
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server: port is required")
	}
	if c.Raffle.EntranceFee <= 0 {
		return fmt.Errorf("raffle: entrance_fee must be positive")
	}
	if c.Raffle.IntervalSeconds <= 0 {
		return fmt.Errorf("raffle: interval_seconds must be positive")
	}
	if c.Keeper.Enabled && c.Keeper.Schedule == "" {
		return fmt.Errorf("keeper: schedule is required when enabled")
	}
	return nil
}

// FulfillmentDelay returns the configured fulfillment delay.
func (c RandomnessConfig) FulfillmentDelay() time.Duration {
	return time.Duration(c.FulfillmentDelayMS) * time.Millisecond
}

// DeliveryBackoff returns the configured delivery backoff.
func (c RandomnessConfig) DeliveryBackoff() time.Duration {
	return time.Duration(c.DeliveryBackoffMS) * time.Millisecond
}
