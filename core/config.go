package core

import (
	"fmt"
	"strings"
)

type WebhookConfig struct {
	Secret           string `koanf:"secret" mapstructure:"secret"`
	PreviousSecret   string `koanf:"previous_secret" mapstructure:"previous_secret"`
	ToleranceSeconds int    `koanf:"tolerance_seconds" mapstructure:"tolerance_seconds"`
	MaxRetries       int    `koanf:"max_retries" mapstructure:"max_retries"`
	BaseDelaySeconds int    `koanf:"base_delay_seconds" mapstructure:"base_delay_seconds"`
}

type ProviderConfig struct {
	APIKey         string `koanf:"api_key" mapstructure:"api_key"`
	BaseURL        string `koanf:"base_url" mapstructure:"base_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type NotifyConfig struct {
	FromAddress string `koanf:"from_address" mapstructure:"from_address"`
	AdminEmail  string `koanf:"admin_email" mapstructure:"admin_email"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Provider    ProviderConfig `koanf:"provider" mapstructure:"provider"`
	Notify      NotifyConfig   `koanf:"notify" mapstructure:"notify"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "roadpay",
		Webhook: WebhookConfig{
			ToleranceSeconds: 300,
			MaxRetries:       3,
			BaseDelaySeconds: 60,
		},
		Provider: ProviderConfig{
			BaseURL:        "https://api.payments.example.com",
			TimeoutSeconds: 30,
		},
		Notify: NotifyConfig{
			AdminEmail: "admin@example.com",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:roadpay.db?cache=shared&_fk=1",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhook.MaxRetries <= 0 {
		return fmt.Errorf("core: webhook.max_retries must be positive")
	}
	if c.Webhook.BaseDelaySeconds < 0 {
		return fmt.Errorf("core: webhook.base_delay_seconds cannot be negative")
	}
	if c.Webhook.ToleranceSeconds <= 0 {
		return fmt.Errorf("core: webhook.tolerance_seconds must be positive")
	}
	switch strings.TrimSpace(strings.ToLower(c.Database.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}
