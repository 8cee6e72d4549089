package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type StorageConfig struct {
	Root string `yaml:"root"` // snapshot tree, default: snapshots
}

type ExportConfig struct {
	Root     string `yaml:"root"`     // export tree, default: export
	Timezone string `yaml:"timezone"` // reporting timezone, default: Europe/Berlin
}

type CacheConfig struct {
	Dir     string        `yaml:"dir"`      // on-disk response cache, default: cache
	MaxKeys int           `yaml:"max_keys"` // in-memory LRU bound
	TTL     time.Duration `yaml:"ttl"`
}

type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	Attempts      int           `yaml:"attempts"` // retry attempts per request (default 3)
	Backoff       time.Duration `yaml:"backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	RatePerSecond float64       `yaml:"rate_per_second"` // 0 = unlimited
	Burst         int           `yaml:"burst"`
}

// SourceConfig configures one provider. Built-in providers are matched by
// ID; Type "json" declares an additional generic JSON provider.
type SourceConfig struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"` // "" for built-ins, "json"
	Disabled    bool   `yaml:"disabled"`
	URL         string `yaml:"url"`          // snapshot endpoint override
	MetadataURL string `yaml:"metadata_url"` // metadata endpoint override
	WebURL      string `yaml:"web_url"`
	Token       string `yaml:"token"`      // bearer token, if the provider needs one
	ItemsPath   string `yaml:"items_path"` // json: dotted path to the entry list
	NameField   string `yaml:"name_field"` // json: defaults to place_name
	FreeField   string `yaml:"free_field"` // json: defaults to num_free
	TotalField  string `yaml:"total_field"`
	CityName    string `yaml:"city_name"`
}

type VictoriaConfig struct {
	URL     string        `yaml:"url"`     // http://victoria-metrics:8428
	Timeout time.Duration `yaml:"timeout"` // request timeout
}

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"` // default: occupancy
	BatchSize   int    `yaml:"batch_size"`
}

type LokiConfig struct {
	URL      string        `yaml:"url"`       // http://loki:3100
	TenantID string        `yaml:"tenant_id"` // optional multi-tenancy
	Job      string        `yaml:"job"`       // label value, default: occupancy-archive
	Timeout  time.Duration `yaml:"timeout"`
}

type MirrorConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix"`
}

type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"` // used by `collect`, default :9108
	PushGateway   string `yaml:"push_gateway"`   // optional, pushed after batch commands
	Job           string `yaml:"job"`
}

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Export   ExportConfig   `yaml:"export"`
	Cache    CacheConfig    `yaml:"cache"`
	HTTP     HTTPConfig     `yaml:"http"`
	Sources  []SourceConfig `yaml:"sources"`
	Victoria VictoriaConfig `yaml:"victoria"`
	Influx   InfluxConfig   `yaml:"influxdb"`
	Loki     LokiConfig     `yaml:"loki"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Load reads the YAML file at path (a missing file means all defaults),
// applies .env and environment overrides, then fills in defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnvOverrides() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.Root, "OCC_STORAGE_ROOT")
	set(&c.Export.Root, "OCC_EXPORT_ROOT")
	set(&c.Victoria.URL, "VICTORIA_URL")
	set(&c.Influx.URL, "INFLUX_URL")
	set(&c.Influx.Token, "INFLUX_TOKEN")
	set(&c.Loki.URL, "LOKI_URL")
	if tok := strings.TrimSpace(os.Getenv("BAHN_API_TOKEN")); tok != "" {
		c.Source("bahn-api-parken").Token = tok
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.Root == "" {
		c.Storage.Root = "snapshots"
	}
	if c.Export.Root == "" {
		c.Export.Root = "export"
	}
	if c.Export.Timezone == "" {
		c.Export.Timezone = "Europe/Berlin"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "cache"
	}
	if c.Cache.MaxKeys == 0 {
		c.Cache.MaxKeys = 1024
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "Mozilla/5.0 Gecko/20100101 Firefox/74.0"
	}
	if c.HTTP.Attempts == 0 {
		c.HTTP.Attempts = 3
	}
	if c.HTTP.Backoff == 0 {
		c.HTTP.Backoff = 500 * time.Millisecond
	}
	if c.HTTP.MaxBackoff == 0 {
		c.HTTP.MaxBackoff = 5 * time.Second
	}
	if c.Victoria.Timeout == 0 {
		c.Victoria.Timeout = 10 * time.Second
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "occupancy"
	}
	if c.Influx.BatchSize == 0 {
		c.Influx.BatchSize = 5000
	}
	if c.Loki.Job == "" {
		c.Loki.Job = "occupancy-archive"
	}
	if c.Loki.Timeout == 0 {
		c.Loki.Timeout = 10 * time.Second
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9108"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "occupancy-archive"
	}
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, s := range c.Sources {
		if strings.TrimSpace(s.ID) == "" {
			return errors.New("sources: every entry needs an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("sources: id %q configured twice", s.ID)
		}
		seen[s.ID] = true
		switch s.Type {
		case "":
		case "json":
			if s.URL == "" {
				return fmt.Errorf("sources: json source %q needs a url", s.ID)
			}
		default:
			return fmt.Errorf("sources: unknown type %q for %q", s.Type, s.ID)
		}
	}
	return nil
}

// Source returns the config entry for id, appending an empty one if absent.
func (c *Config) Source(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	c.Sources = append(c.Sources, SourceConfig{ID: id})
	return &c.Sources[len(c.Sources)-1]
}

// Lookup returns the config entry for id without modifying c.
func (c *Config) Lookup(id string) SourceConfig {
	for _, s := range c.Sources {
		if s.ID == id {
			return s
		}
	}
	return SourceConfig{ID: id}
}
