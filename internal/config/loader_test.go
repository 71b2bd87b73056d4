package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s3cret")

	path := writeConfig(t, `
service:
  name: hookgate
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hookgate", cfg.Service.Name)
	assert.Equal(t, "/webhook/github", cfg.Webhook.Path)
	assert.Equal(t, "127.0.0.1:8081", cfg.Webhook.Listen)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, 4, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Dispatch.DedupeWindow)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadMissingSecretFailsFast(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "")

	path := writeConfig(t, `
service:
  name: hookgate
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook secret is not configured")
}

func TestLoadCustomSecretEnv(t *testing.T) {
	t.Setenv("HOOKGATE_SECRET", "other-secret")

	path := writeConfig(t, `
webhook:
  secret_env: HOOKGATE_SECRET
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "other-secret", cfg.Webhook.Secret)
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "x")
	t.Setenv("HOOKGATE_LISTEN", "0.0.0.0:9999")

	path := writeConfig(t, `
webhook:
  listen: "${HOOKGATE_LISTEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Webhook.Listen)
}

func TestLoadRejectsBadPath(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "x")

	path := writeConfig(t, `
webhook:
  path: no-leading-slash
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.path")
}

func TestLoadRejectsUnauthenticatedAPI(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "x")

	path := writeConfig(t, `
api:
  enabled: true
  listen: "127.0.0.1:8080"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.api_key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "x")

	path := writeConfig(t, "service: [broken")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
