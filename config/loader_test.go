package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Proxy.UpstreamTimeout)
	assert.Equal(t, 2, cfg.Proxy.MaxRetries)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "priority", cfg.Routing.Strategy)
	assert.Equal(t, 5*time.Hour, cfg.Routing.AffinityTTL)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 8*time.Minute, cfg.Breaker.MaxBackoff)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9000
  write_timeout: 2m
proxy:
  upstream_timeout: 45s
  max_retries: 3
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: routex
  name: routex
routing:
  strategy: weighted
  affinity_ttl: 1h
auth:
  api_keys:
    - rk-admin-1
    - rk-admin-2
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 45*time.Second, cfg.Proxy.UpstreamTimeout)
	assert.Equal(t, 3, cfg.Proxy.MaxRetries)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "weighted", cfg.Routing.Strategy)
	assert.Equal(t, time.Hour, cfg.Routing.AffinityTTL)
	assert.Equal(t, []string{"rk-admin-1", "rk-admin-2"}, cfg.Auth.APIKeys)

	// 文件未覆盖的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/routex.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("ROUTEX_SERVER_HTTP_PORT", "8888")
	t.Setenv("ROUTEX_PROXY_UPSTREAM_TIMEOUT", "30s")
	t.Setenv("ROUTEX_DATABASE_DRIVER", "mysql")
	t.Setenv("ROUTEX_REDIS_ENABLED", "true")
	t.Setenv("ROUTEX_LOG_LEVEL", "debug")
	t.Setenv("ROUTEX_AUTH_API_KEYS", "rk-1, rk-2")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Proxy.UpstreamTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"rk-1", "rk-2"}, cfg.Auth.APIKeys)
}

func TestLoader_ModuleLevels(t *testing.T) {
	t.Setenv("ROUTEX_LOG_LEVEL", "warn")
	t.Setenv("ROUTEX_LOG_LEVEL_ROUTING", "debug")
	t.Setenv("ROUTEX_LOG_LEVEL_TEE", "error")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 全局级别不受模块覆盖影响
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "debug", cfg.Log.ModuleLevels["routing"])
	assert.Equal(t, "error", cfg.Log.ModuleLevels["tee"])
}

func TestLoader_ModuleLevelsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routex.yaml")
	content := "log:\n  module_levels:\n    proxy: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.ModuleLevels["proxy"])
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o600))
	t.Setenv("ROUTEX_SERVER_HTTP_PORT", "9001")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("GATEWAY_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithEnvPrefix("GATEWAY").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("ROUTEX_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROUTEX_SERVER_HTTP_PORT")
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	t.Setenv("ROUTEX_ROUTING_STRATEGY", "random")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.HTTPPort = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Driver = "mongodb"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Breaker.Threshold = 0
	assert.Error(t, cfg.Validate())

	// 写超时必须大于上游超时，否则长请求会被服务器截断
	cfg = DefaultConfig()
	cfg.Server.WriteTimeout = 10 * time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Routing.TokenCounter = "wordcount"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Routing.TokenCounter = "tiktoken"
	cfg.Routing.TiktokenEncoding = "o200k_base"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "routex", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=routex sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "routex"}
	assert.Equal(t, "u:p@tcp(db:3306)/routex?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "routex.db"}
	assert.Equal(t, "routex.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
