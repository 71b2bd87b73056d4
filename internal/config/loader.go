package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, expands ${ENV_VAR}
// references, resolves the webhook secret from the environment, and
// validates the result. A missing or empty secret is a Load error so the
// process fails before it starts accepting requests.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := resolveSecret(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// resolveSecret reads the shared secret from the configured environment
// variable. Done once here; the rest of the process only ever reads
// cfg.Webhook.Secret.
func resolveSecret(cfg *Config) error {
	name := strings.TrimSpace(cfg.Webhook.SecretEnv)
	if name == "" {
		return fmt.Errorf("webhook.secret_env is empty")
	}

	secret := os.Getenv(name)
	if secret == "" {
		return fmt.Errorf("webhook secret is not configured: environment variable %s is unset or empty", name)
	}
	cfg.Webhook.Secret = secret
	return nil
}

func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is empty")
	}
	if cfg.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen is empty")
	}
	if cfg.Webhook.Path == "" || !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with '/': %q", cfg.Webhook.Path)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is empty")
	}
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is empty")
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is empty; the admin API cannot run unauthenticated")
		}
	}
	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive")
	}
	return nil
}
