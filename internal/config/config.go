// Package config loads tutorchat settings from tutorchat.yaml and
// TUTORHUB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	APIURL          string        `mapstructure:"API_URL" validate:"required,url"`
	HubURL          string        `mapstructure:"HUB_URL" validate:"required,url"`
	AccessToken     string        `mapstructure:"ACCESS_TOKEN" validate:"required"`
	SkipNegotiation bool          `mapstructure:"SKIP_NEGOTIATION"`
	LogLevel        string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	PageSize        int           `mapstructure:"PAGE_SIZE" validate:"min=1,max=100"`
	RateLimit       float64       `mapstructure:"RATE_LIMIT" validate:"gt=0"`
	NotifyInterval  time.Duration `mapstructure:"NOTIFY_INTERVAL" validate:"min=1s"`

	// Payment callback and mailbox.
	CallbackAddr  string `mapstructure:"CALLBACK_ADDR" validate:"required,hostname_port"`
	Mailbox       string `mapstructure:"MAILBOX" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required_if=Mailbox redis"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"min=0"`
}

// Load reads configuration. path names a config file; when empty,
// tutorchat.yaml is looked up in the working directory and
// $HOME/.config/tutorchat, and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUTORHUB")
	v.AutomaticEnv()

	v.SetDefault("API_URL", "")
	v.SetDefault("HUB_URL", "")
	v.SetDefault("ACCESS_TOKEN", "")
	v.SetDefault("SKIP_NEGOTIATION", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PAGE_SIZE", 20)
	v.SetDefault("RATE_LIMIT", 10.0)
	v.SetDefault("NOTIFY_INTERVAL", 30*time.Second)
	v.SetDefault("CALLBACK_ADDR", "127.0.0.1:8765")
	v.SetDefault("MAILBOX", "memory")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tutorchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tutorchat")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
