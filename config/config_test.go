package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.HTTPPort)
	assert.Equal(t, "", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Tracking.HistoryLimit)
	assert.Equal(t, 500, cfg.Tracking.HistoryMax)
	assert.Equal(t, 64, cfg.Tracking.MaxChainHops)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestLoadFileEnvFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "gt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: "9000"
  trusted_proxies: ["10.0.0.0/8", "192.0.2.10"]
database:
  driver: sqlite
  dsn: /tmp/gt.db
auth:
  token_ttl: 2h
tracking:
  history_limit: 20
`), 0o600))
	t.Setenv("GHOSTTRACK_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load([]string{"--config", path, "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.HTTPPort)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 20, cfg.Tracking.HistoryLimit)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadDriver(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GHOSTTRACK_DATABASE_DRIVER", "oracle")
	_, err := Load(nil)
	assert.Error(t, err)

	_, err = Load([]string{"--config", "/nonexistent/gt.yaml"})
	assert.Error(t, err)
}

func TestLoadTrustedProxiesFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GHOSTTRACK_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.1")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.1"}, cfg.Server.TrustedProxies)

	t.Setenv("GHOSTTRACK_SERVER_TRUSTED_PROXIES", "proxy.internal")
	_, err = Load(nil)
	assert.Error(t, err)
}
