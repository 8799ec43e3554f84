package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the service
type Config struct {
	ServiceName string `mapstructure:"SERVICE_NAME"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	HTTPPort        int           `mapstructure:"HTTP_PORT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	MongoURI            string        `mapstructure:"MONGO_URI"`
	MongoDatabase       string        `mapstructure:"MONGO_DATABASE"`
	MongoConnectTimeout time.Duration `mapstructure:"MONGO_CONNECT_TIMEOUT"`
	MongoMaxPoolSize    uint64        `mapstructure:"MONGO_MAX_POOL_SIZE"`
	MongoMinPoolSize    uint64        `mapstructure:"MONGO_MIN_POOL_SIZE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	SeventeenTrackBaseURL string        `mapstructure:"SEVENTEENTRACK_BASE_URL"`
	SeventeenTrackAPIKey  string        `mapstructure:"SEVENTEENTRACK_API_KEY"`
	WebhookReplayTTL      time.Duration `mapstructure:"WEBHOOK_REPLAY_TTL"`
	WebhookProcessingTTL  time.Duration `mapstructure:"WEBHOOK_PROCESSING_TTL"`

	CompensateEnabled   bool          `mapstructure:"COMPENSATE_ENABLED"`
	CompensateInterval  time.Duration `mapstructure:"COMPENSATE_INTERVAL"`
	CompensateBatchSize int           `mapstructure:"COMPENSATE_BATCH_SIZE"`
}

// Load reads configuration from the environment, with an optional .env
// file in the working directory for local development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok &&
			!strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "shipping-service")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HTTP_PORT", 8085)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "shipping")
	v.SetDefault("MONGO_CONNECT_TIMEOUT", 10*time.Second)
	v.SetDefault("MONGO_MAX_POOL_SIZE", 100)
	v.SetDefault("MONGO_MIN_POOL_SIZE", 10)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SEVENTEENTRACK_BASE_URL", "https://api.17track.net")
	v.SetDefault("SEVENTEENTRACK_API_KEY", "")
	v.SetDefault("WEBHOOK_REPLAY_TTL", 96*time.Hour)
	v.SetDefault("WEBHOOK_PROCESSING_TTL", 2*time.Minute)

	v.SetDefault("COMPENSATE_ENABLED", true)
	v.SetDefault("COMPENSATE_INTERVAL", 2*time.Hour)
	v.SetDefault("COMPENSATE_BATCH_SIZE", 100)
}

func (c *Config) validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.MongoDatabase == "" {
		return fmt.Errorf("MONGO_DATABASE is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be a valid port, got %d", c.HTTPPort)
	}
	if c.CompensateBatchSize <= 0 {
		return fmt.Errorf("COMPENSATE_BATCH_SIZE must be positive, got %d", c.CompensateBatchSize)
	}
	return nil
}
