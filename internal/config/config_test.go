package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ".", cfg.Apply.TargetDir)
	assert.Equal(t, "update.json", cfg.Apply.Manifest)
	assert.Equal(t, time.Duration(0), cfg.Apply.InitialDelay)
	assert.Empty(t, cfg.Apply.PostCommand)
	assert.Equal(t, time.Duration(0), cfg.Apply.Timeout)

	assert.Equal(t, 30*time.Second, cfg.Source.HTTPTimeout)
	assert.Equal(t, "upnet", cfg.Source.UserAgent)
	assert.Equal(t, int64(10485760), cfg.Source.MaxManifestSize)
	assert.Empty(t, cfg.Source.CacheDir)
	assert.Equal(t, time.Hour, cfg.Source.CacheTTL)

	assert.Equal(t, 15*time.Minute, cfg.Watch.Interval)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./releases", cfg.Server.Root)
	assert.Equal(t, "update.json", cfg.Server.ManifestName)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, 50, cfg.Server.RateLimitRPS)
	assert.Equal(t, 100, cfg.Server.RateLimitBurst)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("UPNET_TARGET_DIR", "/opt/app")
	os.Setenv("UPNET_MANIFEST", "https://updates.example.com/app/update.json")
	os.Setenv("UPNET_INITIAL_DELAY", "2s")
	os.Setenv("UPNET_POST_COMMAND", "systemctl restart app")
	os.Setenv("UPNET_CACHE_DIR", "/var/cache/upnet")
	os.Setenv("UPNET_CACHE_TTL", "10m")
	os.Setenv("UPNET_WATCH_INTERVAL", "1h")
	os.Setenv("PORT", "9090")
	os.Setenv("CORS_ORIGINS", "https://admin.example.com,https://ops.example.com")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("UPNET_METRICS_TEXTFILE", "/var/lib/node_exporter/upnet.prom")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/opt/app", cfg.Apply.TargetDir)
	assert.Equal(t, "https://updates.example.com/app/update.json", cfg.Apply.Manifest)
	assert.Equal(t, 2*time.Second, cfg.Apply.InitialDelay)
	assert.Equal(t, "systemctl restart app", cfg.Apply.PostCommand)
	assert.Equal(t, "/var/cache/upnet", cfg.Source.CacheDir)
	assert.Equal(t, 10*time.Minute, cfg.Source.CacheTTL)
	assert.Equal(t, time.Hour, cfg.Watch.Interval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/node_exporter/upnet.prom", cfg.Metrics.Textfile)

	opts := cfg.SourceOptions()
	assert.Equal(t, "/var/cache/upnet", opts.CacheDir)
	assert.Equal(t, 10*time.Minute, opts.CacheTTL)
	assert.Equal(t, 30*time.Second, opts.HTTP.Timeout)
	assert.Equal(t, "upnet", opts.HTTP.UserAgent)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("UPNET_INITIAL_DELAY", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Server.Port = 0

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Port must be at least 1")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Level must be one of: debug info warn error")
}

func TestValidate_ManifestLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		valid    bool
	}{
		{"relative path", "update.json", true},
		{"absolute path", "/srv/releases/update.yaml", true},
		{"https url", "https://updates.example.com/update.json", true},
		{"url without host", "https://", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig(t.TempDir())
			cfg.Apply.Manifest = tt.location
			err := Validate(cfg)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	cfg := createValidConfig(t.TempDir())
	cfg.Apply.Manifest = "http://"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Manifest must be a file path or an http(s) URL")
}

func TestValidate_CORSOrigins(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Server.CORSOrigins = []string{"*", "https://example.com", ""}
	assert.NoError(t, Validate(cfg))

	cfg.Server.CORSOrigins = []string{"example.com"}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORSOrigins must contain http(s) origins or *")
}

func TestValidate_CustomRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"negative delay", func(c *Config) { c.Apply.InitialDelay = -time.Second }, "initial delay cannot be negative"},
		{"negative timeout", func(c *Config) { c.Apply.Timeout = -time.Second }, "apply timeout cannot be negative"},
		{"short http timeout", func(c *Config) { c.Source.HTTPTimeout = time.Millisecond }, "HTTP timeout must be at least 1 second"},
		{"short cache ttl", func(c *Config) {
			c.Source.CacheDir = "/tmp/cache"
			c.Source.CacheTTL = time.Millisecond
		}, "cache TTL must be at least 1 second"},
		{"zero watch interval", func(c *Config) { c.Watch.Interval = 0 }, "watch interval must be positive"},
		{"empty target", func(c *Config) { c.Apply.TargetDir = "" }, "target directory cannot be empty"},
		{"empty server root", func(c *Config) { c.Server.Root = "" }, "server root cannot be empty"},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read timeout must be at least 1ms"},
		{"short shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = time.Millisecond }, "shutdown timeout must be at least 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig(t.TempDir())
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidate_InvalidPortRange(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig(t.TempDir())
			cfg.Server.Port = tt.port
			err := Validate(cfg)
			assert.Error(t, err)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()
	cfg := createValidConfig(tempDir)
	cfg.Source.CacheDir = filepath.Join(tempDir, "cache")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	for _, dir := range []string{cfg.Apply.TargetDir, cfg.Source.CacheDir} {
		_, err := os.Stat(dir)
		assert.NoError(t, err, "directory should exist: %s", dir)
	}
}

func clearEnvVars() {
	envVars := []string{
		"UPNET_TARGET_DIR", "UPNET_MANIFEST", "UPNET_INITIAL_DELAY", "UPNET_POST_COMMAND", "UPNET_APPLY_TIMEOUT",
		"UPNET_HTTP_TIMEOUT", "UPNET_USER_AGENT", "UPNET_MAX_MANIFEST_SIZE", "UPNET_CACHE_DIR", "UPNET_CACHE_TTL",
		"UPNET_WATCH_INTERVAL",
		"PORT", "UPNET_SERVE_ROOT", "UPNET_SERVE_MANIFEST", "READ_TIMEOUT", "WRITE_TIMEOUT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SHUTDOWN_TIMEOUT",
		"LOG_LEVEL", "LOG_FORMAT",
		"UPNET_METRICS_TEXTFILE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func createValidConfig(tempDir string) *Config {
	cfg := &Config{}
	cfg.Apply.TargetDir = filepath.Join(tempDir, "app")
	cfg.Apply.Manifest = "update.json"
	cfg.Source.HTTPTimeout = 30 * time.Second
	cfg.Source.UserAgent = "upnet"
	cfg.Source.MaxManifestSize = 1 << 20
	cfg.Source.CacheTTL = time.Hour
	cfg.Watch.Interval = 15 * time.Minute
	cfg.Server.Port = 8080
	cfg.Server.Root = filepath.Join(tempDir, "releases")
	cfg.Server.ManifestName = "update.json"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.RateLimitRPS = 50
	cfg.Server.RateLimitBurst = 100
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}
