package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/username/branchtalk/internal/pkg/configutil"
	"github.com/username/branchtalk/internal/pkg/constants"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	CORSEnabled bool   `mapstructure:"cors_enabled"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// LLMConfig holds language model configuration
type LLMConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	APIKey        string  `mapstructure:"api_key"`
	Model         string  `mapstructure:"model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	ContextTokens int     `mapstructure:"context_tokens"`
}

// StreamingConfig controls the chunked replay of completed generations
type StreamingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkDelayMS int `mapstructure:"chunk_delay_ms"`
}

// DeliveryConfig controls per-connection queue and liveness timings
type DeliveryConfig struct {
	QueueTimeoutSec int `mapstructure:"queue_timeout_sec"`
	PingIntervalSec int `mapstructure:"ping_interval_sec"`
	PongGraceSec    int `mapstructure:"pong_grace_sec"`
}

// UsageConfig holds daily generation limits per plan
type UsageConfig struct {
	FreeDailyLimit int `mapstructure:"free_daily_limit"`
	PaidDailyLimit int `mapstructure:"paid_daily_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Host:        "0.0.0.0",
			CORSEnabled: true,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Database: DatabaseConfig{
			Path:           constants.DefaultDBPath,
			MigrationsPath: constants.DefaultMigrationsPath,
		},
		LLM: LLMConfig{
			BaseURL:       "",
			Model:         constants.DefaultModel,
			MaxTokens:     constants.DefaultMaxTokens,
			Temperature:   constants.DefaultTemperature,
			ContextTokens: constants.DefaultContextTokens,
		},
		Streaming: StreamingConfig{
			ChunkSize:    constants.DefaultChunkSize,
			ChunkDelayMS: constants.DefaultChunkDelayMS,
		},
		Delivery: DeliveryConfig{
			QueueTimeoutSec: constants.DefaultQueueTimeoutSec,
			PingIntervalSec: constants.DefaultPingIntervalSec,
			PongGraceSec:    constants.DefaultPongGraceSec,
		},
		Usage: UsageConfig{
			FreeDailyLimit: constants.DefaultFreeDailyLimit,
			PaidDailyLimit: constants.DefaultPaidDailyLimit,
		},
		Logging: LoggingConfig{
			Level:  constants.LogLevelInfo,
			Format: constants.LogFormatJSON,
		},
	}
}

// Load loads configuration from files and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./deployments/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("BRANCHTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, we'll use defaults + env vars
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid, reporting every problem at
// once
func (c *Config) Validate() error {
	return configutil.NewValidator().
		IntRange("server.port", c.Server.Port, 1, 65535).
		RequiredString("database.path", c.Database.Path).
		RequiredString("database.migrations_path", c.Database.MigrationsPath).
		RequiredString("llm.model", c.LLM.Model).
		RequiredInt("llm.max_tokens", c.LLM.MaxTokens).
		RequiredInt("llm.context_tokens", c.LLM.ContextTokens).
		RequiredString("nats.url", c.NATS.URL).
		RequiredInt("streaming.chunk_size", c.Streaming.ChunkSize).
		NonNegativeInt("streaming.chunk_delay_ms", c.Streaming.ChunkDelayMS).
		RequiredInt("delivery.queue_timeout_sec", c.Delivery.QueueTimeoutSec).
		RequiredInt("delivery.ping_interval_sec", c.Delivery.PingIntervalSec).
		RequiredInt("delivery.pong_grace_sec", c.Delivery.PongGraceSec).
		NonNegativeInt("usage.free_daily_limit", c.Usage.FreeDailyLimit).
		NonNegativeInt("usage.paid_daily_limit", c.Usage.PaidDailyLimit).
		OneOf("logging.level", c.Logging.Level, []string{constants.LogLevelDebug, constants.LogLevelInfo, constants.LogLevelWarn, constants.LogLevelError}).
		OneOf("logging.format", c.Logging.Format, []string{constants.LogFormatJSON, constants.LogFormatConsole, "text"}).
		Result()
}
