package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Name: "snap-gateway", Version: "test"},
		Server:   ServerConfig{Host: "localhost", Port: "8080", Timeout: 30},
		Database: DatabaseConfig{Driver: DriverMemory},
		Log:      LogConfig{RotationTimeHours: 24, MaxAgeDays: 7, MaxSizeMB: 100},
		Snap: SnapConfig{
			MinViewingSeconds:       1,
			MaxViewingSeconds:       10,
			MaxReplays:              3,
			ReplaysEnabled:          true,
			AuthorizeTimeoutSeconds: 10,
			ScreenshotSkewSeconds:   300,
		},
	}
}

func TestLoad_WithConfig(t *testing.T) {
	t.Cleanup(Reset)

	cfg := validConfig()
	require.NoError(t, Load(cfg))
	assert.Same(t, cfg, Get())
	assert.Equal(t, "localhost:8080", GetServerAddr())
	assert.Equal(t, "localhost:8081", GetGRPCAddr())
}

func TestLoad_Validation(t *testing.T) {
	t.Cleanup(Reset)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing app name", func(c *Config) { c.App.Name = "" }},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"mongo without url", func(c *Config) { c.Database.Driver = DriverMongo }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"dynamodb ledger without table", func(c *Config) { c.Database.Ledger = LedgerDynamoDB }},
		{"unknown ledger", func(c *Config) { c.Database.Ledger = "etcd" }},
		{"redis limiter without addr", func(c *Config) {
			c.Limits.RateLimiting = RateLimitingConfig{Enabled: true, Backend: RateLimitBackendRedis}
		}},
		{"unknown limiter backend", func(c *Config) {
			c.Limits.RateLimiting = RateLimitingConfig{Enabled: true, Backend: "memcached"}
		}},
		{"jwt without secret", func(c *Config) { c.Security.Authentication.JWTEnabled = true }},
		{"viewing seconds above bound", func(c *Config) { c.Snap.MaxViewingSeconds = 11 }},
		{"min above max", func(c *Config) { c.Snap.MinViewingSeconds = 8; c.Snap.MaxViewingSeconds = 5 }},
		{"negative replays", func(c *Config) { c.Snap.MaxReplays = -1 }},
		{"zero authorize timeout", func(c *Config) { c.Snap.AuthorizeTimeoutSeconds = 0 }},
		{"zero log rotation", func(c *Config) { c.Log.RotationTimeHours = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			cfg := validConfig()
			tt.modify(cfg)
			assert.Error(t, Load(cfg))
			assert.Nil(t, Get())
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Cleanup(Reset)
	t.Cleanup(func() { SetEnv("local") })

	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yaml")
	yaml := `
app:
  name: snap-gateway
  version: 1.2.3
server:
  host: 0.0.0.0
  port: "9090"
  timeout: 15
grpc:
  host: 0.0.0.0
  port: "9091"
database:
  driver: memory
log:
  rotation_time_hours: 24
  max_age_days: 7
  max_size_mb: 50
snap:
  max_replays: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Load())
	cfg := Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "staging", GetEnv())
	assert.Equal(t, "1.2.3", cfg.App.Version)
	assert.Equal(t, "0.0.0.0:9091", GetGRPCAddr())
	assert.Equal(t, 1, cfg.Snap.MaxReplays)

	// 未設定的欄位使用預設值
	assert.True(t, cfg.Snap.ReplaysEnabled)
	assert.Equal(t, AbsoluteMinViewingSeconds, cfg.Snap.MinViewingSeconds)
	assert.Equal(t, AbsoluteMaxViewingSeconds, cfg.Snap.MaxViewingSeconds)
	assert.Equal(t, 300, cfg.Snap.ScreenshotSkewSeconds)
	assert.Equal(t, RateLimitBackendMemory, cfg.Limits.RateLimiting.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(Reset)
	t.Cleanup(func() { SetEnv("local") })

	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	yaml := `
app: {name: snap-gateway, version: dev}
server: {host: localhost, port: "8080", timeout: 30}
database: {driver: mongo, mongo: {url: "mongodb://localhost:27017", database: snap, max_pool_size: 10}}
log: {rotation_time_hours: 1, max_age_days: 1, max_size_mb: 1}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SNAP_DATABASE_DRIVER", DriverMemory)

	require.NoError(t, Load())
	assert.Equal(t, DriverMemory, Get().Database.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(Reset)
	t.Cleanup(func() { SetEnv("local") })

	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, Load())
}
