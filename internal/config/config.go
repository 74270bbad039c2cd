// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	State    StateConfig    `mapstructure:"state"`
	Output   OutputConfig   `mapstructure:"output"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CountryOption is one selectable taxonomy scope.
type CountryOption struct {
	Code  string `mapstructure:"code"`
	Label string `mapstructure:"label"`
}

// CrawlerConfig governs scope selection and request pacing.
type CrawlerConfig struct {
	Country           string          `mapstructure:"country"`
	CountryLabel      string          `mapstructure:"country_label"`
	Countries         []CountryOption `mapstructure:"countries"`
	Endpoint          string          `mapstructure:"endpoint"`
	Lang              string          `mapstructure:"lang"`
	UserAgent         string          `mapstructure:"user_agent"`
	DelayMinMs        int             `mapstructure:"delay_min_ms"`
	DelayMaxMs        int             `mapstructure:"delay_max_ms"`
	SectionDelayMinMs int             `mapstructure:"section_delay_min_ms"`
	SectionDelayMaxMs int             `mapstructure:"section_delay_max_ms"`
	ProgressThrottle  int             `mapstructure:"progress_throttle_ms"`
	MaxRPS            float64         `mapstructure:"max_rps"`
}

// HTTPConfig configures the API client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// StateConfig selects where the crawl state blob lives.
type StateConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	Key       string `mapstructure:"key"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// OutputConfig selects where per-section result files are written.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the status event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Supported backends.
const (
	StateFile     = "file"
	StateSQLite   = "sqlite"
	StatePostgres = "postgres"
	StateMemory   = "memory"
	StateGCS      = "gcs"

	OutputLocal  = "local"
	OutputGCS    = "gcs"
	OutputMemory = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.country", crawler.DefaultCountryCode)
	v.SetDefault("crawler.country_label", "France")
	v.SetDefault("crawler.countries", []map[string]string{{"code": "FR", "label": "France"}})
	v.SetDefault("crawler.endpoint", "https://trade.ec.europa.eu/access-to-markets/api/v2/nomenclature/products")
	v.SetDefault("crawler.lang", "EN")
	v.SetDefault("crawler.user_agent", "nomenclature-crawler/0.1")
	v.SetDefault("crawler.delay_min_ms", 2000)
	v.SetDefault("crawler.delay_max_ms", 5000)
	v.SetDefault("crawler.section_delay_min_ms", 500)
	v.SetDefault("crawler.section_delay_max_ms", 1250)
	v.SetDefault("crawler.progress_throttle_ms", 750)
	v.SetDefault("crawler.max_rps", 0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 32*1024*1024)
	v.SetDefault("state.backend", StateFile)
	v.SetDefault("state.path", "data/crawl-state.json")
	v.SetDefault("state.table", "crawl_state")
	v.SetDefault("state.key", "default")
	v.SetDefault("state.gcs_object", "crawl-state.json")
	v.SetDefault("output.backend", OutputLocal)
	v.SetDefault("output.dir", "data/output")
	v.SetDefault("output.prefix", "")
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler.delay_min_ms/delay_max_ms must satisfy 0 <= min <= max")
	}
	if c.Crawler.SectionDelayMinMs < 0 || c.Crawler.SectionDelayMaxMs < c.Crawler.SectionDelayMinMs {
		return fmt.Errorf("crawler.section_delay_min_ms/section_delay_max_ms must satisfy 0 <= min <= max")
	}
	if c.Crawler.ProgressThrottle < 0 {
		return fmt.Errorf("crawler.progress_throttle_ms must be >= 0")
	}
	if c.Crawler.MaxRPS < 0 {
		return fmt.Errorf("crawler.max_rps must be >= 0")
	}
	switch c.State.Backend {
	case StateFile, StateSQLite:
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the %s backend", c.State.Backend)
		}
	case StatePostgres:
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn is required for the postgres backend")
		}
	case StateGCS:
		if c.State.GCSBucket == "" {
			return fmt.Errorf("state.gcs_bucket is required for the gcs backend")
		}
	case StateMemory:
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}
	switch c.Output.Backend {
	case OutputLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir is required for the local backend")
		}
	case OutputGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket is required for the gcs backend")
		}
	case OutputMemory:
	default:
		return fmt.Errorf("output.backend %q is not supported", c.Output.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// EngineConfig converts the crawler section into orchestrator settings.
func (c Config) EngineConfig() crawler.Config {
	countries := make([]crawler.Country, 0, len(c.Crawler.Countries))
	for _, opt := range c.Crawler.Countries {
		code := crawler.NormalizeCountryCode(opt.Code)
		label := opt.Label
		if label == "" {
			label = code
		}
		countries = append(countries, crawler.Country{Value: code, Label: label})
	}
	return crawler.Config{
		DefaultCountry:      crawler.NormalizeCountryCode(c.Crawler.Country),
		DefaultCountryLabel: c.Crawler.CountryLabel,
		Countries:           countries,
		PolitenessDelay:     msRange(c.Crawler.DelayMinMs, c.Crawler.DelayMaxMs),
		SectionDelay:        msRange(c.Crawler.SectionDelayMinMs, c.Crawler.SectionDelayMaxMs),
	}
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProgressInterval is the minimum spacing between delivered progress ticks.
func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.Crawler.ProgressThrottle) * time.Millisecond
}

// BatchWait converts the hub flush interval into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}

func msRange(minMs, maxMs int) crawler.DelayRange {
	return crawler.DelayRange{
		Min: time.Duration(minMs) * time.Millisecond,
		Max: time.Duration(maxMs) * time.Millisecond,
	}
}
