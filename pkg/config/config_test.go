package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "DOCTYPE(ar)", cfg.Query.Query)
	assert.Equal(t, "2000-2024", cfg.Query.DateRange)
	assert.Equal(t, 25, cfg.Query.PageSize)
	assert.Equal(t, 40000, cfg.Harvest.MaxRequests)
	assert.Equal(t, 2000, cfg.Harvest.RequestsPerChunk)
	assert.Equal(t, 7*24*time.Hour, cfg.Harvest.CursorExpiry)
	assert.Equal(t, float64(9), cfg.RateLimit.RequestsPerSecond)
	assert.Len(t, cfg.Schedule.Slots, 3)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCOPUS_API_KEY", "env-key")
	t.Setenv("SCOPUSHARVEST_MAX_REQUESTS", "30000")
	t.Setenv("SCOPUSHARVEST_REQUESTS_PER_SECOND", "4.5")
	t.Setenv("SCOPUSHARVEST_OUTPUT_DIR", "/tmp/raw")
	t.Setenv("SCOPUSHARVEST_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env-key", cfg.API.APIKey)
	assert.Equal(t, 30000, cfg.Harvest.MaxRequests)
	assert.Equal(t, 4.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "/tmp/raw", cfg.Harvest.OutputDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("SCOPUSHARVEST_MAX_REQUESTS", "lots")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCOPUSHARVEST_MAX_REQUESTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad date range", func(c *Config) { c.Query.DateRange = "2024-2000" }, "date_range"},
		{"malformed date range", func(c *Config) { c.Query.DateRange = "last year" }, "date_range"},
		{"single year", func(c *Config) { c.Query.DateRange = "2010" }, ""},
		{"zero budget", func(c *Config) { c.Harvest.MaxRequests = 0 }, "max_requests"},
		{"zero chunk", func(c *Config) { c.Harvest.RequestsPerChunk = 0 }, "requests_per_chunk"},
		{"bad view", func(c *Config) { c.Query.View = "FULL" }, "view"},
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }, "base_url"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = time.Second }, "max_delay"},
		{"unknown algorithm", func(c *Config) { c.RateLimit.Algorithm = "leaky" }, "algorithm"},
		{"fractional sliding window", func(c *Config) { c.RateLimit.RequestsPerSecond = 0.5 }, "sliding_window"},
		{"fractional token bucket", func(c *Config) {
			c.RateLimit.Algorithm = "token_bucket"
			c.RateLimit.RequestsPerSecond = 0.5
		}, ""},
		{"token bucket burst within ceiling", func(c *Config) {
			c.RateLimit.Algorithm = "token_bucket"
			c.RateLimit.Burst = 9
		}, ""},
		{"token bucket burst above ceiling", func(c *Config) {
			c.RateLimit.Algorithm = "token_bucket"
			c.RateLimit.Burst = 10
		}, "exceeds the 9 requests per second ceiling"},
		{"fractional token bucket with burst", func(c *Config) {
			c.RateLimit.Algorithm = "token_bucket"
			c.RateLimit.RequestsPerSecond = 0.5
			c.RateLimit.Burst = 2
		}, "token_bucket burst"},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}, "listen_addr"},
		{"duplicate slot", func(c *Config) { c.Schedule.Slots[1].Name = "monday" }, "duplicate schedule slot"},
		{"slot without cron", func(c *Config) { c.Schedule.Slots[0].Cron = "" }, "cron"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"max-requests":   100,
		"output":         "./out",
		"query":          "DOCTYPE(re)",
		"date-range":     "2010-2012",
		"page-size":      10,
		"rps":            2.0,
		"metrics-addr":   "127.0.0.1:9000",
		"chunk-requests": 4,
	})

	assert.Equal(t, 100, cfg.Harvest.MaxRequests)
	assert.Equal(t, "./out", cfg.Harvest.OutputDir)
	assert.Equal(t, "DOCTYPE(re)", cfg.Query.Query)
	assert.Equal(t, "2010-2012", cfg.Query.DateRange)
	assert.Equal(t, 10, cfg.Query.PageSize)
	assert.Equal(t, 2.0, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.Metrics.ListenAddr)
	assert.Equal(t, 4, cfg.Harvest.RequestsPerChunk)
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.APIKey = "secret"
	cfg.Harvest.MaxRequests = 1234
	cfg.Retry.BaseDelay = 3 * time.Second
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 1234, loaded.Harvest.MaxRequests)
	assert.Equal(t, 3*time.Second, loaded.Retry.BaseDelay)
	assert.Empty(t, loaded.API.APIKey)
}

func TestLoadFromFileParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
harvest:
  max_requests: 500
  cursor_expiry: 72h
retry:
  base_delay: 500ms
  max_delay: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, 500, cfg.Harvest.MaxRequests)
	assert.Equal(t, 72*time.Hour, cfg.Harvest.CursorExpiry)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "2000-2024", cfg.Query.DateRange, "unset keys keep defaults")
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harvest:\n  max_requests: 10\n  output_dir: from-file\n"), 0644))

	t.Setenv("HOME", dir)
	t.Setenv("SCOPUSHARVEST_MAX_REQUESTS", "20")

	cfg, err := Load(path, map[string]interface{}{"output": "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Harvest.MaxRequests)
	assert.Equal(t, "from-flag", cfg.Harvest.OutputDir)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}
