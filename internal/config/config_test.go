package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, []int{200, 201, 202}, cfg.Relay.AllowedResponseCodes)
	assert.Equal(t, DefaultRetentionPeriod, cfg.Relay.RetentionPeriod)
	assert.Equal(t, DefaultSendInterval, cfg.Workers.SendInterval)
	assert.Equal(t, DefaultCleanupInterval, cfg.Workers.CleanupInterval)
	assert.Equal(t, DefaultLeaseTTL, cfg.Workers.LeaseTTL)
	assert.NotEmpty(t, cfg.Node.ID)
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8085"
database:
  path: "/tmp/relay.db"
node:
  id: "relay-a"
relay:
  allowed_response_codes: [200, 204]
  retention_period: "1h"
  outbound_timeout: "5s"
  max_body_bytes: 2048
workers:
  send_interval: "250ms"
  requeue_interval: "2s"
  retry_reply_interval: "3s"
  cleanup_interval: "4s"
  lease_ttl: "10s"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Server.HTTPAddr)
	assert.Equal(t, "relay-a", cfg.Node.ID)
	assert.Equal(t, []int{200, 204}, cfg.Relay.AllowedResponseCodes)
	assert.Equal(t, time.Hour, cfg.Relay.RetentionPeriod)
	assert.Equal(t, 5*time.Second, cfg.Relay.OutboundTimeout)
	assert.Equal(t, int64(2048), cfg.Relay.MaxBodyBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.SendInterval)
	assert.Equal(t, 2*time.Second, cfg.Workers.RequeueInterval)
	assert.Equal(t, 3*time.Second, cfg.Workers.RetryReplyInterval)
	assert.Equal(t, 4*time.Second, cfg.Workers.CleanupInterval)
	assert.Equal(t, 10*time.Second, cfg.Workers.LeaseTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_DB", "/tmp/env-relay.db")

	path := writeConfig(t, `
database:
  path: "${RELAY_TEST_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-relay.db", cfg.Database.Path)
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
relay:
  retention_period: "one day"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention_period")
}

func TestLoad_BadStatusCode(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
relay:
  allowed_response_codes: [200, 9000]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed_response_codes")
}

func TestAllowedCodeSet(t *testing.T) {
	cfg := &Config{}
	cfg.Relay.AllowedResponseCodes = []int{200, 202}

	set := cfg.AllowedCodeSet()
	assert.True(t, set[200])
	assert.True(t, set[202])
	assert.False(t, set[500])
}
