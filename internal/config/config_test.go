package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "FR", cfg.Crawler.Country)
	assert.Equal(t, StateFile, cfg.State.Backend)
	assert.Equal(t, OutputLocal, cfg.Output.Backend)

	engine := cfg.EngineConfig()
	assert.Equal(t, crawler.DefaultConfig().PolitenessDelay, engine.PolitenessDelay)
	assert.Equal(t, crawler.DefaultConfig().SectionDelay, engine.SectionDelay)
	assert.Equal(t, 750*time.Millisecond, cfg.ProgressInterval())
	assert.Equal(t, []crawler.Country{{Value: "FR", Label: "France"}}, engine.Countries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  country: de
  country_label: Germany
  countries:
    - code: de
      label: Germany
    - code: jp
      label: Japan
    - code: ch
  delay_min_ms: 10
  delay_max_ms: 20
  max_rps: 1.5
http:
  timeout_seconds: 45
state:
  backend: sqlite
  path: /tmp/state.db
output:
  backend: memory
progress:
  max_batch_wait_ms: 100
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, StateSQLite, cfg.State.Backend)
	assert.Equal(t, 1.5, cfg.Crawler.MaxRPS)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchWait())
	assert.Equal(t, "debug", cfg.Logging.Level)

	engine := cfg.EngineConfig()
	assert.Equal(t, "DE", engine.DefaultCountry)
	assert.Equal(t, crawler.DelayRange{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}, engine.PolitenessDelay)
	assert.Equal(t, []crawler.Country{
		{Value: "DE", Label: "Germany"},
		{Value: "JP", Label: "Japan"},
		{Value: "CH", Label: "CH"},
	}, engine.Countries)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Crawler: CrawlerConfig{DelayMinMs: 1, DelayMaxMs: 2},
		State:   StateConfig{Backend: StateMemory},
		Output:  OutputConfig{Backend: OutputMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "inverted delay", mutate: func(c *Config) { c.Crawler.DelayMaxMs = 0 }, want: "crawler.delay_min_ms"},
		{name: "negative rps", mutate: func(c *Config) { c.Crawler.MaxRPS = -1 }, want: "crawler.max_rps"},
		{name: "unknown state backend", mutate: func(c *Config) { c.State.Backend = "redis" }, want: "state.backend"},
		{name: "file backend without path", mutate: func(c *Config) { c.State.Backend = StateFile }, want: "state.path"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.State.Backend = StatePostgres }, want: "state.dsn"},
		{name: "gcs state without bucket", mutate: func(c *Config) { c.State.Backend = StateGCS }, want: "state.gcs_bucket"},
		{name: "local output without dir", mutate: func(c *Config) { c.Output.Backend = OutputLocal }, want: "output.dir"},
		{name: "gcs output without bucket", mutate: func(c *Config) { c.Output.Backend = OutputGCS }, want: "output.gcs_bucket"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "crawl" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
