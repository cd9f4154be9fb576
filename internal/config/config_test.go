package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calsync.yaml")
	yaml := `
engine:
  strategy: browser
  max_attempts: 5
fetcher:
  ready_timeout: 10s
venue:
  default: "Arena Nord"
storage:
  driver: postgres
  dsn: "postgres://calsync@localhost/calsync?sslmode=disable"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CALSYNC_API_PORT", "8088")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "browser", cfg.Engine.Strategy)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Fetcher.ReadyTimeout)
	assert.Equal(t, "Arena Nord", cfg.Venue.Default)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 8088, cfg.API.Port)
	// untouched defaults survive
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay)
	require.NoError(t, Validate(cfg))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"strategy", func(c *Config) { c.Engine.Strategy = "magic" }},
		{"attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }},
		{"ready timeout", func(c *Config) { c.Fetcher.ReadyTimeout = 0 }},
		{"driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"export", func(c *Config) { c.Storage.ExportType = "xml" }},
		{"selector type", func(c *Config) {
			c.Locator.Selectors = []SelectorConfig{{Name: "x", Type: "regex", Expr: "a"}}
		}},
		{"publisher creds", func(c *Config) {
			c.Publisher.Enabled = true
			c.Publisher.BaseURL = "https://example.dk"
		}},
		{"daily at", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.DailyAt = "24:61"
		}},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://www.bordtennisportalen.dk/DBTU/"))
	assert.Error(t, ValidateURL("ftp://example.dk"))
	assert.Error(t, ValidateURL("/relative"))
}
