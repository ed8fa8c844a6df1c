// Package config loads regfeed configuration with viper and validates it
// against an embedded CUE schema.
//
// Lookup order: the explicit path, then regfeed.yaml in the working
// directory. A missing file is not an error; defaults and REGFEED_*
// environment variables still apply.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/netrunner/regfeed/internal/tracing"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes environment overrides, e.g. REGFEED_PRUNE=true or
// REGFEED_TRACING_ENABLED=true.
const EnvPrefix = "REGFEED"

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "regfeed.yaml"

// Config is the full regfeed configuration.
type Config struct {
	// DB is the SQLite registry path. Ignored when Redis.Addr is set.
	DB     string       `mapstructure:"db" json:"db"`
	Feeds  []FeedConfig `mapstructure:"feeds" json:"feeds"`
	Throws bool         `mapstructure:"throws" json:"throws"`
	Live   bool         `mapstructure:"live" json:"live"`
	Prune  bool         `mapstructure:"prune" json:"prune"`

	Cache   CacheConfig    `mapstructure:"cache" json:"cache"`
	Redis   RedisConfig    `mapstructure:"redis" json:"redis"`
	Tracing tracing.Config `mapstructure:"tracing" json:"tracing"`
}

// FeedConfig describes one file feed.
type FeedConfig struct {
	Path     string `mapstructure:"path" json:"path"`
	ID       string `mapstructure:"id" json:"id"`
	Writable bool   `mapstructure:"writable" json:"writable"`
}

// CacheConfig controls the read-through registry cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl"`
}

// RedisConfig selects the Redis registry when Addr is set.
type RedisConfig struct {
	Addr   string `mapstructure:"addr" json:"addr"`
	Prefix string `mapstructure:"prefix" json:"prefix"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DB:    "regfeed.db",
		Feeds: []FeedConfig{},
		Live:  true,
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Prefix: "regfeed:",
		},
		Tracing: tracing.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("db", d.DB)
	v.SetDefault("feeds", []map[string]any{})
	v.SetDefault("throws", d.Throws)
	v.SetDefault("live", d.Live)
	v.SetDefault("prune", d.Prune)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads the configuration at path, or regfeed.yaml in the working
// directory when path is empty, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func (c *Config) Validate() error {
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}

	// #Config holds comprehensions over its own fields, so it is only
	// concrete once unified with data.
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	value := schema.Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}
