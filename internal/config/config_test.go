package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/regfeed/internal/tracing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/regfeed/registry.db
prune: true
live: false
feeds:
  - path: feeds/local.jsonl
    writable: true
  - path: feeds/peer.jsonl
    id: peer-1
cache:
  enabled: true
  ttl: 30s
tracing:
  enabled: true
  exporter: stdout
  sample_rate: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/regfeed/registry.db", cfg.DB)
	assert.True(t, cfg.Prune)
	assert.False(t, cfg.Live)
	assert.False(t, cfg.Throws)
	assert.Equal(t, []FeedConfig{
		{Path: "feeds/local.jsonl", Writable: true},
		{Path: "feeds/peer.jsonl", ID: "peer-1"},
	}, cfg.Feeds)
	assert.Equal(t, CacheConfig{Enabled: true, TTL: 30 * time.Second}, cfg.Cache)
	assert.Equal(t, "regfeed:", cfg.Redis.Prefix)
	assert.Equal(t, tracing.ExporterStdout, cfg.Tracing.Exporter)
	assert.Equal(t, 0.5, cfg.Tracing.SampleRate)
	assert.Equal(t, tracing.DefaultServiceName, cfg.Tracing.ServiceName)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "regfeed.db", cfg.DB)
	assert.True(t, cfg.Live)
	assert.Empty(t, cfg.Feeds)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REGFEED_PRUNE", "true")
	t.Setenv("REGFEED_REDIS_ADDR", "localhost:6379")
	t.Setenv("REGFEED_TRACING_SAMPLE_RATE", "0.25")

	cfg, err := Load(writeConfig(t, "db: registry.db\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Prune)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "prnue: true\n"))
	require.ErrorContains(t, err, "decode config")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 2 }},
		{"file exporter without path", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = tracing.ExporterFile
		}},
		{"feed without path", func(c *Config) { c.Feeds = []FeedConfig{{Writable: true}} }},
		{"no backend", func(c *Config) { c.DB = "" }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"empty redis prefix", func(c *Config) { c.Redis.Prefix = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestValidate_ConditionalRules(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = tracing.ExporterFile
	cfg.Tracing.FilePath = filepath.Join(t.TempDir(), "trace.jsonl")
	require.NoError(t, cfg.Validate())

	cfg.DB = ""
	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RedisWithoutDB(t *testing.T) {
	cfg := Default()
	cfg.DB = ""
	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, cfg.Validate())
}
