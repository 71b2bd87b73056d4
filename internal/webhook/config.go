package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"hookgate/internal/config"
)

// FromGlobalConfig converts config.WebhookConfig to webhook.Config,
// parsing the max body size string.
func FromGlobalConfig(wc *config.WebhookConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhook config is nil")
	}
	if wc.Secret == "" {
		return Config{}, fmt.Errorf("webhook secret is empty")
	}

	maxBodySize, err := parseMaxBodySize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid max_body_size %q: %w", wc.MaxBodySize, err)
	}

	return Config{
		Listen:      wc.Listen,
		Path:        wc.Path,
		Secret:      wc.Secret,
		MaxBodySize: maxBodySize,
	}, nil
}

// parseMaxBodySize parses size strings like "1MB", "512KB" or "2048576"
// to bytes. Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(size)
	multiplier := int64(1)

	if strings.HasSuffix(upper, "KB") {
		multiplier = 1024
		size = strings.TrimSuffix(upper, "KB")
	} else if strings.HasSuffix(upper, "MB") {
		multiplier = 1024 * 1024
		size = strings.TrimSuffix(upper, "MB")
	} else if strings.HasSuffix(upper, "GB") {
		multiplier = 1024 * 1024 * 1024
		size = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result < 0 { // Check for overflow
		return 0, fmt.Errorf("size too large")
	}

	return result, nil
}
