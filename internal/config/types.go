package config

import "time"

// Config represents the complete hookgate configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Store    StoreConfig    `yaml:"store"`
	API      APIConfig      `yaml:"api,omitempty"`
	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// WebhookConfig defines the webhook listener.
type WebhookConfig struct {
	Listen string `yaml:"listen"`

	// Path is the URL path the webhook endpoint is served on.
	Path string `yaml:"path"`

	// SecretEnv names the environment variable holding the shared secret.
	// The variable is read once at startup; an unset or empty value is a
	// startup failure, never a per-request one.
	SecretEnv string `yaml:"secret_env"`

	// MaxBodySize is the request body cap, e.g. "1MB" or "2048576".
	MaxBodySize string `yaml:"max_body_size,omitempty"`

	// Secret is resolved from SecretEnv during Load. Never serialized.
	Secret string `yaml:"-"`
}

// StoreConfig defines delivery store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the admin API server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// DispatchConfig defines delivery dispatch behavior.
type DispatchConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "hookgate",
			LogLevel: "info",
		},
		Webhook: WebhookConfig{
			Listen:    "127.0.0.1:8081",
			Path:      "/webhook/github",
			SecretEnv: "GITHUB_WEBHOOK_SECRET",
		},
		Store: StoreConfig{
			Path: "./data/hookgate.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Dispatch: DispatchConfig{
			Workers:      1,
			MaxAttempts:  4,
			PollInterval: time.Second,
			BackoffBase:  30 * time.Second,
			DedupeWindow: 24 * time.Hour,
		},
	}
}
