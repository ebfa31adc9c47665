package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://www.douyin.com/hot", cfg.URLs.HotList)
	assert.Equal(t, 10, cfg.Crawler.MaxItems)
	assert.True(t, cfg.Crawler.SkipTopItem)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "url_encode", cfg.URLEncoding.Method)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 3, cfg.Download.MaxConcurrent)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	body := `
crawler:
  max_items: 5
  skip_top_item: false
rate_limit:
  requests_per_window: 20
  window_seconds: 30
output:
  format: markdown
`
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Crawler.MaxItems)
	assert.False(t, cfg.Crawler.SkipTopItem)
	assert.Equal(t, 20, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, "markdown", cfg.Output.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3600, cfg.Cache.DurationSeconds)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DOUYIN_CRAWLER_MAX_ITEMS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crawler.MaxItems)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max items", func(c *Config) { c.Crawler.MaxItems = 0 }},
		{"missing hot list url", func(c *Config) { c.URLs.HotList = "" }},
		{"bad encoding method", func(c *Config) { c.URLEncoding.Method = "rot13" }},
		{"bad output format", func(c *Config) { c.Output.Format = "xml" }},
		{"rate limit enabled without window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.WindowSeconds = 0
		}},
		{"download enabled without dir", func(c *Config) {
			c.Download.Enabled = true
			c.Download.Dir = ""
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, cfg.HotListTimeout().Seconds(), float64(cfg.Request.HotListTimeoutSeconds))
	assert.Equal(t, 2.0, cfg.RequestInterval().Seconds())
	assert.Equal(t, 3600.0, cfg.CacheTTL().Seconds())
}
