package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/store"
)

// Duration is a time.Duration that unmarshals from yaml strings like
// "30s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("config: duration %q: %w", value.Value, ErrInvalidDuration)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, ErrInvalidDuration)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EvictionConfig bounds the entry table. Zero values disable the
// corresponding bound.
type EvictionConfig struct {
	MaxCount     int      `yaml:"max_count"`
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	TTL          Duration `yaml:"ttl"`
	// Method picks the retention order when a bound forces eviction:
	// "lru" (default) or "lfu".
	Method string `yaml:"method"`
}

// Policy converts the configured bounds into a store eviction policy.
func (e EvictionConfig) Policy() store.Policy {
	p := store.Policy{
		MaxCount:     e.MaxCount,
		MaxSizeBytes: e.MaxSizeBytes,
		TTL:          e.TTL.Std(),
	}
	if e.Method == "lfu" {
		p.Method = store.EvictLFU
	}
	return p
}

// ClaimConfig tunes the cross-process claim protocol.
type ClaimConfig struct {
	// Timeout bounds how long a caller waits on a claim held elsewhere.
	Timeout Duration `yaml:"timeout"`
	// Stale is the age after which an orphaned claim is reclaimed.
	Stale Duration `yaml:"stale"`
}

// ArtifactConfig selects the artifact store backend. Root selects a
// filesystem store; RedisAddr selects Redis. Root wins when both are
// set.
type ArtifactConfig struct {
	Root          string `yaml:"root"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ObserveConfig is the yaml shape of the observability settings.
type ObserveConfig struct {
	ServiceName     string  `yaml:"service_name"`
	Version         string  `yaml:"version"`
	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter"`
	SamplePct       float64 `yaml:"sample_pct"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	MetricsExporter string  `yaml:"metrics_exporter"`
	LoggingEnabled  bool    `yaml:"logging_enabled"`
	LogLevel        string  `yaml:"log_level"`
}

// ToObserve converts to the observe package's config.
func (o ObserveConfig) ToObserve() observe.Config {
	return observe.Config{
		ServiceName: o.ServiceName,
		Version:     o.Version,
		Tracing: observe.TracingConfig{
			Enabled:   o.TracingEnabled,
			Exporter:  o.TracingExporter,
			SamplePct: o.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.MetricsEnabled,
			Exporter: o.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: o.LoggingEnabled,
			Level:   o.LogLevel,
		},
	}
}

// Config is the central configuration for the cache engine. All
// settings are explicit; nothing is read from ambient globals at run
// time.
type Config struct {
	// CacheDB is the Postgres DSN for the entry store. Empty selects
	// the in-process memory store.
	CacheDB string `yaml:"cache_db"`

	Artifacts ArtifactConfig `yaml:"artifacts"`

	// SpoolDir holds local copies of artifacts materialized on decode.
	SpoolDir string `yaml:"spool_dir"`

	// UseCache toggles memoization; false computes every call.
	UseCache bool `yaml:"use_cache"`

	// CodecVersion tags cache keys; bump it to segregate entries
	// written by an incompatible codec format.
	CodecVersion string `yaml:"codec_version"`

	// Tag labels entries written by this engine for group eviction.
	Tag string `yaml:"tag"`

	Eviction EvictionConfig `yaml:"eviction"`
	Claim    ClaimConfig    `yaml:"claim"`
	Observe  ObserveConfig  `yaml:"observe"`
}

// Default returns a Config with sensible defaults: in-memory entry
// store, filesystem artifacts under the user cache dir, caching on.
func Default() *Config {
	root := ".callcache"
	if dir, err := os.UserCacheDir(); err == nil {
		root = dir + "/callcache"
	}
	return &Config{
		Artifacts:    ArtifactConfig{Root: root + "/artifacts"},
		SpoolDir:     root + "/spool",
		UseCache:     true,
		CodecVersion: "v1",
		Claim: ClaimConfig{
			Timeout: Duration(30 * time.Second),
			Stale:   Duration(10 * time.Minute),
		},
		Observe: ObserveConfig{
			ServiceName: "callcache",
			LogLevel:    "info",
		},
	}
}

// LoadFromFile loads configuration from a yaml file, starting from
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies CALLCACHE_* environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CALLCACHE_CACHE_DB"); v != "" {
		cfg.CacheDB = v
	}
	if v := os.Getenv("CALLCACHE_ARTIFACTS_ROOT"); v != "" {
		cfg.Artifacts.Root = v
	}
	if v := os.Getenv("CALLCACHE_ARTIFACTS_REDIS_ADDR"); v != "" {
		cfg.Artifacts.RedisAddr = v
	}
	if v := os.Getenv("CALLCACHE_ARTIFACTS_REDIS_PASSWORD"); v != "" {
		cfg.Artifacts.RedisPassword = v
	}
	if v := os.Getenv("CALLCACHE_SPOOL_DIR"); v != "" {
		cfg.SpoolDir = v
	}
	if v := os.Getenv("CALLCACHE_USE_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseCache = b
		}
	}
	if v := os.Getenv("CALLCACHE_CODEC_VERSION"); v != "" {
		cfg.CodecVersion = v
	}
	if v := os.Getenv("CALLCACHE_TAG"); v != "" {
		cfg.Tag = v
	}
	if v := os.Getenv("CALLCACHE_CLAIM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Claim.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("CALLCACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Eviction.TTL = Duration(d)
		}
	}
	if v := os.Getenv("CALLCACHE_LOG_LEVEL"); v != "" {
		cfg.Observe.LogLevel = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Artifacts.Root == "" && c.Artifacts.RedisAddr == "" {
		return ErrNoArtifactBackend
	}
	if c.CodecVersion == "" {
		return ErrMissingCodecVersion
	}
	if c.Eviction.MaxCount < 0 || c.Eviction.MaxSizeBytes < 0 {
		return ErrNegativeEvictionBound
	}
	switch c.Eviction.Method {
	case "", "lru", "lfu":
	default:
		return fmt.Errorf("config: eviction method %q: %w", c.Eviction.Method, ErrUnknownEvictionMethod)
	}
	if c.Claim.Timeout < 0 || c.Claim.Stale < 0 || c.Eviction.TTL < 0 {
		return ErrInvalidDuration
	}
	return nil
}
